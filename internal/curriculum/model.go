package curriculum

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrNotFound marks lookups of units, topics, or lessons that do not exist.
	ErrNotFound = errors.New("curriculum: not found")
	// ErrValidation marks input rejected before any write.
	ErrValidation = errors.New("curriculum: validation failed")
	// ErrInvalidID indicates that an entity identifier is empty or exceeds storage bounds.
	ErrInvalidID = errors.New("curriculum: invalid id")
)

// EntityID represents a validated unit, topic, or lesson identifier.
type EntityID string

// NewEntityID validates raw input and returns an EntityID.
func NewEntityID(rawInput string) (EntityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIdentifierLength)
	}
	return EntityID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EntityID) String() string {
	return string(id)
}

// UnitStatus enumerates unit lifecycle states.
type UnitStatus string

const (
	UnitStatusActive   UnitStatus = "active"
	UnitStatusArchived UnitStatus = "archived"
)

// TopicStatus enumerates topic lifecycle states.
type TopicStatus string

const (
	TopicStatusActive   TopicStatus = "active"
	TopicStatusArchived TopicStatus = "archived"
)

// LessonStatus enumerates lesson publish states.
type LessonStatus string

const (
	LessonStatusDraft     LessonStatus = "draft"
	LessonStatusPublished LessonStatus = "published"
)

// AuthoringStatus tracks the content-production workflow of a lesson, independent of publishing.
type AuthoringStatus string

const (
	AuthoringNotStarted   AuthoringStatus = "not_started"
	AuthoringOutline      AuthoringStatus = "outline"
	AuthoringPresentation AuthoringStatus = "presentation"
	AuthoringGuided       AuthoringStatus = "guided"
	AuthoringPractice     AuthoringStatus = "practice"
	AuthoringQA           AuthoringStatus = "qa"
	AuthoringPublished    AuthoringStatus = "published"
)

var authoringStatuses = []AuthoringStatus{
	AuthoringNotStarted,
	AuthoringOutline,
	AuthoringPresentation,
	AuthoringGuided,
	AuthoringPractice,
	AuthoringQA,
	AuthoringPublished,
}

// ParseAuthoringStatus validates a raw authoring status.
func ParseAuthoringStatus(raw string) (AuthoringStatus, error) {
	value := AuthoringStatus(strings.ToLower(strings.TrimSpace(raw)))
	for _, candidate := range authoringStatuses {
		if candidate == value {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: unknown authoring status %q", ErrValidation, raw)
}

// GradeLevel enumerates the grade bands a lesson targets.
type GradeLevel string

var gradeLevels = map[GradeLevel]struct{}{
	"PK": {}, "K": {}, "1": {}, "2": {}, "3": {}, "4": {}, "5": {}, "6": {}, "7": {}, "8": {},
}

// ParseGradeLevel validates a raw grade level.
func ParseGradeLevel(raw string) (GradeLevel, error) {
	value := GradeLevel(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := gradeLevels[value]; !ok {
		return "", fmt.Errorf("%w: unknown grade level %q", ErrValidation, raw)
	}
	return value, nil
}

// Unit is the top level of the curriculum tree.
type Unit struct {
	ID               string         `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Slug             string         `gorm:"column:slug;size:190;not null;uniqueIndex:idx_units_slug" json:"slug"`
	Title            string         `gorm:"column:title;size:512;not null" json:"title"`
	Summary          *string        `gorm:"column:summary;type:text" json:"summary,omitempty"`
	CoverImage       *string        `gorm:"column:cover_image;size:1024" json:"coverImage,omitempty"`
	Order            int            `gorm:"column:sort_order;not null;index:idx_units_order" json:"order"`
	Status           UnitStatus     `gorm:"column:status;size:32;not null" json:"status"`
	Metadata         datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Unit) TableName() string {
	return "curriculum_units"
}

// Topic groups lessons inside a unit.
type Topic struct {
	ID                       string                      `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Slug                     string                      `gorm:"column:slug;size:190;not null;uniqueIndex:idx_topics_slug" json:"slug"`
	UnitID                   string                      `gorm:"column:unit_id;size:190;not null;index:idx_topics_unit_order,priority:1" json:"unitId"`
	Title                    string                      `gorm:"column:title;size:512;not null" json:"title"`
	Overview                 *string                     `gorm:"column:overview;type:text" json:"overview,omitempty"`
	FocusSkills              datatypes.JSONSlice[string] `gorm:"column:focus_skills" json:"focusSkills"`
	EstimatedDurationMinutes *int                        `gorm:"column:estimated_duration_minutes" json:"estimatedDurationMinutes,omitempty"`
	Order                    int                         `gorm:"column:sort_order;not null;index:idx_topics_unit_order,priority:2" json:"order"`
	Status                   TopicStatus                 `gorm:"column:status;size:32;not null" json:"status"`
	Metadata                 datatypes.JSON              `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAtSeconds         int64                       `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds         int64                       `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Topic) TableName() string {
	return "curriculum_topics"
}

// Lesson stores the authored lesson document and its manifest bookkeeping.
type Lesson struct {
	ID                  string                          `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Slug                string                          `gorm:"column:slug;size:190;not null;uniqueIndex:idx_lessons_slug" json:"slug"`
	TopicID             string                          `gorm:"column:topic_id;size:190;not null;index:idx_lessons_topic_order,priority:1" json:"topicId"`
	Order               int                             `gorm:"column:sort_order;not null;index:idx_lessons_topic_order,priority:2" json:"order"`
	Status              LessonStatus                    `gorm:"column:status;size:32;not null" json:"status"`
	Draft               datatypes.JSON                  `gorm:"column:draft" json:"draft"`
	Published           datatypes.JSON                  `gorm:"column:published" json:"published,omitempty"`
	AuthoringStatus     *AuthoringStatus                `gorm:"column:authoring_status;size:32" json:"authoringStatus,omitempty"`
	AssigneeID          *string                         `gorm:"column:assignee_id;size:190" json:"assigneeId,omitempty"`
	AuthoringNotes      *string                         `gorm:"column:authoring_notes;type:text" json:"authoringNotes,omitempty"`
	GradeLevels         datatypes.JSONSlice[GradeLevel] `gorm:"column:grade_levels" json:"gradeLevels"`
	ManifestHash        *string                         `gorm:"column:manifest_hash;size:16" json:"manifestHash,omitempty"`
	ManifestGeneratedAt *string                         `gorm:"column:manifest_generated_at;size:64" json:"manifestGeneratedAt,omitempty"`
	ManifestCommit      *string                         `gorm:"column:manifest_commit;size:190" json:"manifestCommit,omitempty"`
	CreatedAtSeconds    int64                           `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds    int64                           `gorm:"column:updated_at_s;not null" json:"updatedAt"`
	PublishedAtSeconds  *int64                          `gorm:"column:published_at_s" json:"publishedAt,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Lesson) TableName() string {
	return "curriculum_lessons"
}

// Models lists every persisted curriculum model for schema migration.
func Models() []any {
	return []any{&Unit{}, &Topic{}, &Lesson{}}
}

// EntityCounts reports per-table mutation counts.
type EntityCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

// DeleteResult reports how many rows a cascading delete removed.
type DeleteResult struct {
	Units   int `json:"units"`
	Topics  int `json:"topics"`
	Lessons int `json:"lessons"`
}

func stringPointer(value string) *string {
	v := value
	return &v
}

func optionalString(raw *string) *string {
	if raw == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func equalOptionalString(left, right *string) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}
