package curriculum

import (
	"fmt"
	"strings"
	"time"
)

// Manifest is the slug-keyed description of the whole curriculum tree. Topic.UnitID and
// Lesson.TopicID hold parent slugs, not internal ids.
type Manifest struct {
	GeneratedAt string           `json:"generatedAt" yaml:"generatedAt"`
	Domains     []map[string]any `json:"domains" yaml:"domains"`
	Units       []ManifestUnit   `json:"units" yaml:"units"`
	Topics      []ManifestTopic  `json:"topics" yaml:"topics"`
	Lessons     []ManifestLesson `json:"lessons" yaml:"lessons"`
}

// RitRange bounds the assessment scale a unit or topic targets.
type RitRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

type ManifestUnit struct {
	ID          string    `json:"id" yaml:"id"`
	Slug        string    `json:"slug" yaml:"slug"`
	Title       string    `json:"title" yaml:"title"`
	Summary     *string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	DomainID    *string   `json:"domainId,omitempty" yaml:"domainId,omitempty"`
	RitRange    *RitRange `json:"ritRange,omitempty" yaml:"ritRange,omitempty"`
	PrimaryCcss []string  `json:"primaryCcss,omitempty" yaml:"primaryCcss,omitempty"`
	TopicOrder  []string  `json:"topicOrder" yaml:"topicOrder"`
}

type ManifestTopic struct {
	ID                   string    `json:"id" yaml:"id"`
	Slug                 string    `json:"slug" yaml:"slug"`
	UnitID               string    `json:"unitId" yaml:"unitId"`
	Title                string    `json:"title" yaml:"title"`
	Overview             *string   `json:"overview,omitempty" yaml:"overview,omitempty"`
	FocusSkills          []string  `json:"focusSkills" yaml:"focusSkills"`
	RitRange             *RitRange `json:"ritRange,omitempty" yaml:"ritRange,omitempty"`
	CcssFocus            []string  `json:"ccssFocus,omitempty" yaml:"ccssFocus,omitempty"`
	Priority             *string   `json:"priority,omitempty" yaml:"priority,omitempty"`
	PrerequisiteTopicIDs []string  `json:"prerequisiteTopicIds" yaml:"prerequisiteTopicIds"`
}

type ManifestSegment struct {
	Type           string  `json:"type" yaml:"type"`
	Representation *string `json:"representation,omitempty" yaml:"representation,omitempty"`
}

type ManifestLesson struct {
	ID                    string            `json:"id" yaml:"id"`
	Slug                  string            `json:"slug" yaml:"slug"`
	TopicID               string            `json:"topicId" yaml:"topicId"`
	Title                 string            `json:"title" yaml:"title"`
	MaterialID            *string           `json:"materialId,omitempty" yaml:"materialId,omitempty"`
	GradeLevels           []string          `json:"gradeLevels" yaml:"gradeLevels"`
	Segments              []ManifestSegment `json:"segments" yaml:"segments"`
	PrerequisiteLessonIDs []string          `json:"prerequisiteLessonIds" yaml:"prerequisiteLessonIds"`
	Skills                []string          `json:"skills" yaml:"skills"`
	Notes                 *string           `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Normalize replaces nil collections with empty ones so that a manifest serializes identically
// whether it was decoded from YAML, from JSON, or built in code.
func (m *Manifest) Normalize() {
	if m.Domains == nil {
		m.Domains = []map[string]any{}
	}
	if m.Units == nil {
		m.Units = []ManifestUnit{}
	}
	if m.Topics == nil {
		m.Topics = []ManifestTopic{}
	}
	if m.Lessons == nil {
		m.Lessons = []ManifestLesson{}
	}
	for index := range m.Units {
		m.Units[index].TopicOrder = nonNil(m.Units[index].TopicOrder)
	}
	for index := range m.Topics {
		topic := &m.Topics[index]
		topic.FocusSkills = nonNil(topic.FocusSkills)
		topic.PrerequisiteTopicIDs = nonNil(topic.PrerequisiteTopicIDs)
	}
	for index := range m.Lessons {
		lesson := &m.Lessons[index]
		lesson.GradeLevels = nonNil(lesson.GradeLevels)
		lesson.PrerequisiteLessonIDs = nonNil(lesson.PrerequisiteLessonIDs)
		lesson.Skills = nonNil(lesson.Skills)
		if lesson.Segments == nil {
			lesson.Segments = []ManifestSegment{}
		}
	}
}

// Validate rejects manifests whose shape would make reconciliation ambiguous. Unknown parent
// slugs are not validated here; the reconciler skips those entries.
func (m Manifest) Validate() error {
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(m.GeneratedAt)); err != nil {
		return fmt.Errorf("%w: generatedAt %q is not RFC 3339", ErrValidation, m.GeneratedAt)
	}

	unitSlugs := make(map[string]struct{}, len(m.Units))
	for index, unit := range m.Units {
		if err := checkManifestSlug("units", index, unit.Slug, unitSlugs); err != nil {
			return err
		}
		if strings.TrimSpace(unit.Title) == "" {
			return fmt.Errorf("%w: units[%d] title is empty", ErrValidation, index)
		}
	}

	topicSlugs := make(map[string]struct{}, len(m.Topics))
	for index, topic := range m.Topics {
		if err := checkManifestSlug("topics", index, topic.Slug, topicSlugs); err != nil {
			return err
		}
		if strings.TrimSpace(topic.Title) == "" {
			return fmt.Errorf("%w: topics[%d] title is empty", ErrValidation, index)
		}
	}

	lessonSlugs := make(map[string]struct{}, len(m.Lessons))
	for index, lesson := range m.Lessons {
		if err := checkManifestSlug("lessons", index, lesson.Slug, lessonSlugs); err != nil {
			return err
		}
		for _, grade := range lesson.GradeLevels {
			if _, err := ParseGradeLevel(grade); err != nil {
				return fmt.Errorf("lessons[%d]: %w", index, err)
			}
		}
		for segmentIndex, segment := range lesson.Segments {
			if strings.TrimSpace(segment.Type) == "" {
				return fmt.Errorf("%w: lessons[%d].segments[%d] type is empty", ErrValidation, index, segmentIndex)
			}
		}
	}
	return nil
}

func checkManifestSlug(section string, index int, slug string, seen map[string]struct{}) error {
	if !IsSlug(slug) {
		return fmt.Errorf("%w: %s[%d] slug %q is not lower-kebab-case", ErrValidation, section, index, slug)
	}
	if _, duplicate := seen[slug]; duplicate {
		return fmt.Errorf("%w: %s[%d] duplicates slug %q", ErrValidation, section, index, slug)
	}
	seen[slug] = struct{}{}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// SyncOptions tunes a reconciliation run.
type SyncOptions struct {
	Prune          bool            `json:"prune"`
	ManifestCommit *string         `json:"manifestCommit,omitempty"`
	DefaultStatus  AuthoringStatus `json:"defaultStatus,omitempty"`
}

// SkipCounts reports manifest entries dropped because their parent slug did not resolve.
type SkipCounts struct {
	Topics  int `json:"topics"`
	Lessons int `json:"lessons"`
}

// SyncSummary reports what a reconciliation run changed.
type SyncSummary struct {
	ManifestHash        string       `json:"manifestHash"`
	ManifestGeneratedAt string       `json:"manifestGeneratedAt"`
	ManifestCommit      *string      `json:"manifestCommit,omitempty"`
	CreatedAt           int64        `json:"createdAt"`
	UpdatedAt           int64        `json:"updatedAt"`
	Units               EntityCounts `json:"units"`
	Topics              EntityCounts `json:"topics"`
	Lessons             EntityCounts `json:"lessons"`
	Skipped             SkipCounts   `json:"skipped"`
}
