package curriculum

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultTreeLimit = 25
	MaxTreeLimit     = 100
)

// LessonSummary is the display-safe projection of a lesson used by tree views.
type LessonSummary struct {
	ID              string           `json:"id"`
	Slug            string           `json:"slug"`
	Order           int              `json:"order"`
	Status          LessonStatus     `json:"status"`
	Title           string           `json:"title"`
	Summary         *string          `json:"summary,omitempty"`
	UpdatedAt       int64            `json:"updatedAt"`
	AuthoringStatus *AuthoringStatus `json:"authoringStatus,omitempty"`
	AssigneeID      *string          `json:"assigneeId,omitempty"`
	AuthoringNotes  *string          `json:"authoringNotes,omitempty"`
	GradeLevels     []GradeLevel     `json:"gradeLevels"`
}

type TopicNode struct {
	Topic
	Lessons []LessonSummary `json:"lessons"`
}

type UnitNode struct {
	Unit
	Topics []TopicNode `json:"topics"`
}

// TreePage is one page of the nested curriculum view.
type TreePage struct {
	Units      []UnitNode `json:"units"`
	NextCursor *string    `json:"nextCursor,omitempty"`
}

type treeCursor struct {
	order int
	id    string
}

func encodeTreeCursor(unit Unit) string {
	raw := strconv.Itoa(unit.Order) + ":" + unit.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeTreeCursor(encoded string) (treeCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return treeCursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	orderPart, id, found := strings.Cut(string(raw), ":")
	if !found || id == "" {
		return treeCursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	order, err := strconv.Atoi(orderPart)
	if err != nil {
		return treeCursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	return treeCursor{order: order, id: id}, nil
}

// ClampTreeLimit maps a requested page size onto [1, MaxTreeLimit]; zero selects the default.
func ClampTreeLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultTreeLimit
	case limit < 1:
		return 1
	case limit > MaxTreeLimit:
		return MaxTreeLimit
	default:
		return limit
	}
}

// ListTree returns units ordered by (order, id) starting after cursor, each with its topics and
// lesson summaries.
func (s *Service) ListTree(ctx context.Context, cursor string, limit int) (TreePage, error) {
	if err := s.ready(opListTree); err != nil {
		return TreePage{}, err
	}
	limit = ClampTreeLimit(limit)

	query := s.db.WithContext(ctx).Model(&Unit{})
	if strings.TrimSpace(cursor) != "" {
		position, err := decodeTreeCursor(strings.TrimSpace(cursor))
		if err != nil {
			return TreePage{}, s.fail(opListTree, reasonInvalidCursor, err)
		}
		query = query.Where(
			columnSortOrder+" > ? OR ("+columnSortOrder+" = ? AND id > ?)",
			position.order, position.order, position.id,
		)
	}

	var units []Unit
	err := query.
		Order(columnSortOrder + " ASC").
		Order("id ASC").
		Limit(limit + 1).
		Find(&units).Error
	if err != nil {
		return TreePage{}, s.fail(opListTree, reasonQueryFailed, err)
	}

	page := TreePage{}
	if len(units) > limit {
		units = units[:limit]
		next := encodeTreeCursor(units[len(units)-1])
		page.NextCursor = &next
	}

	nodes, err := assembleUnits(s.db.WithContext(ctx), units)
	if err != nil {
		return TreePage{}, s.fail(opListTree, reasonQueryFailed, err)
	}
	page.Units = nodes
	return page, nil
}

// GetUnitBySlug returns one unit with its topics and lesson summaries.
func (s *Service) GetUnitBySlug(ctx context.Context, slug string) (UnitNode, error) {
	if err := s.ready(opGetUnitBySlug); err != nil {
		return UnitNode{}, err
	}
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return UnitNode{}, s.fail(opGetUnitBySlug, reasonInvalidInput, fmt.Errorf("%w: slug is required", ErrValidation))
	}

	db := s.db.WithContext(ctx)
	var unit Unit
	if err := db.Where("slug = ?", trimmed).Take(&unit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UnitNode{}, s.fail(opGetUnitBySlug, reasonUnitNotFound, fmt.Errorf("%w: unit %s", ErrNotFound, trimmed))
		}
		return UnitNode{}, s.fail(opGetUnitBySlug, reasonQueryFailed, err, zap.String("slug", trimmed))
	}

	nodes, err := assembleUnits(db, []Unit{unit})
	if err != nil {
		return UnitNode{}, s.fail(opGetUnitBySlug, reasonQueryFailed, err, zap.String("slug", trimmed))
	}
	return nodes[0], nil
}

// assembleUnits loads topics and lessons for units with one query per level.
func assembleUnits(db *gorm.DB, units []Unit) ([]UnitNode, error) {
	nodes := make([]UnitNode, 0, len(units))
	if len(units) == 0 {
		return nodes, nil
	}

	unitIDs := make([]string, 0, len(units))
	for _, unit := range units {
		unitIDs = append(unitIDs, unit.ID)
	}
	var topics []Topic
	err := db.Where(columnUnitID+" IN ?", unitIDs).
		Order(columnSortOrder + " ASC").
		Order("id ASC").
		Find(&topics).Error
	if err != nil {
		return nil, err
	}

	lessonsByTopic := make(map[string][]LessonSummary, len(topics))
	if len(topics) > 0 {
		topicIDs := make([]string, 0, len(topics))
		for _, topic := range topics {
			topicIDs = append(topicIDs, topic.ID)
		}
		var lessons []Lesson
		err := db.Select(
			"id", "slug", columnTopicID, columnSortOrder, "status", "draft", columnUpdatedAt,
			"authoring_status", "assignee_id", "authoring_notes", "grade_levels",
		).
			Where(columnTopicID+" IN ?", topicIDs).
			Order(columnSortOrder + " ASC").
			Order("id ASC").
			Find(&lessons).Error
		if err != nil {
			return nil, err
		}
		for _, lesson := range lessons {
			lessonsByTopic[lesson.TopicID] = append(lessonsByTopic[lesson.TopicID], summarizeLesson(lesson))
		}
	}

	topicsByUnit := make(map[string][]TopicNode, len(units))
	for _, topic := range topics {
		lessons := lessonsByTopic[topic.ID]
		if lessons == nil {
			lessons = []LessonSummary{}
		}
		topicsByUnit[topic.UnitID] = append(topicsByUnit[topic.UnitID], TopicNode{Topic: topic, Lessons: lessons})
	}

	for _, unit := range units {
		children := topicsByUnit[unit.ID]
		if children == nil {
			children = []TopicNode{}
		}
		nodes = append(nodes, UnitNode{Unit: unit, Topics: children})
	}
	return nodes, nil
}

func summarizeLesson(lesson Lesson) LessonSummary {
	title, summary := documentHeadline(lesson.Draft)
	if title == "" {
		title = lesson.Slug
	}
	grades := []GradeLevel(lesson.GradeLevels)
	if grades == nil {
		grades = []GradeLevel{}
	}
	return LessonSummary{
		ID:              lesson.ID,
		Slug:            lesson.Slug,
		Order:           lesson.Order,
		Status:          lesson.Status,
		Title:           title,
		Summary:         summary,
		UpdatedAt:       lesson.UpdatedAtSeconds,
		AuthoringStatus: lesson.AuthoringStatus,
		AssigneeID:      lesson.AssigneeID,
		AuthoringNotes:  lesson.AuthoringNotes,
		GradeLevels:     grades,
	}
}

// ExportManifest flattens the live tree into manifest form keyed by slug. Only persisted fields
// are emitted; lessons are grouped by topic in live order so a re-sync keeps their order.
func (s *Service) ExportManifest(ctx context.Context) (Manifest, error) {
	if err := s.ready(opExportManifest); err != nil {
		return Manifest{}, err
	}
	db := s.db.WithContext(ctx)

	var units []Unit
	if err := db.Order(columnSortOrder + " ASC").Order("id ASC").Find(&units).Error; err != nil {
		return Manifest{}, s.fail(opExportManifest, reasonQueryFailed, err)
	}
	var topics []Topic
	if err := db.Order(columnSortOrder + " ASC").Order("id ASC").Find(&topics).Error; err != nil {
		return Manifest{}, s.fail(opExportManifest, reasonQueryFailed, err)
	}
	var lessons []Lesson
	err := db.Select("id", "slug", columnTopicID, columnSortOrder, "draft", "grade_levels", "authoring_notes").
		Order(columnSortOrder + " ASC").
		Order("id ASC").
		Find(&lessons).Error
	if err != nil {
		return Manifest{}, s.fail(opExportManifest, reasonQueryFailed, err)
	}

	topicsByUnit := make(map[string][]Topic, len(units))
	for _, topic := range topics {
		topicsByUnit[topic.UnitID] = append(topicsByUnit[topic.UnitID], topic)
	}
	lessonsByTopic := make(map[string][]Lesson, len(topics))
	for _, lesson := range lessons {
		lessonsByTopic[lesson.TopicID] = append(lessonsByTopic[lesson.TopicID], lesson)
	}

	manifest := Manifest{
		GeneratedAt: s.clock().UTC().Format(time.RFC3339),
		Domains:     []map[string]any{},
		Units:       make([]ManifestUnit, 0, len(units)),
		Topics:      make([]ManifestTopic, 0, len(topics)),
		Lessons:     make([]ManifestLesson, 0, len(lessons)),
	}
	for _, unit := range units {
		children := topicsByUnit[unit.ID]
		topicOrder := make([]string, 0, len(children))
		for _, topic := range children {
			topicOrder = append(topicOrder, topic.Slug)
		}
		manifest.Units = append(manifest.Units, ManifestUnit{
			ID:         unit.Slug,
			Slug:       unit.Slug,
			Title:      unit.Title,
			Summary:    unit.Summary,
			TopicOrder: topicOrder,
		})

		for _, topic := range children {
			manifest.Topics = append(manifest.Topics, ManifestTopic{
				ID:                   topic.Slug,
				Slug:                 topic.Slug,
				UnitID:               unit.Slug,
				Title:                topic.Title,
				Overview:             topic.Overview,
				FocusSkills:          nonNil([]string(topic.FocusSkills)),
				PrerequisiteTopicIDs: []string{},
			})
			for _, lesson := range lessonsByTopic[topic.ID] {
				manifest.Lessons = append(manifest.Lessons, s.exportLesson(lesson, topic.Slug))
			}
		}
	}

	return manifest, nil
}

func (s *Service) exportLesson(lesson Lesson, topicSlug string) ManifestLesson {
	var document LessonDocument
	if len(lesson.Draft) > 0 {
		if err := json.Unmarshal(lesson.Draft, &document); err != nil {
			document = LessonDocument{}
			s.loggerOrDefault().Warn("lesson draft unreadable; exporting bookkeeping only",
				zap.String("lesson_slug", lesson.Slug),
				zap.Error(err))
		}
	}
	title := document.Meta.Title
	if title == "" {
		title = lesson.Slug
	}
	grades := make([]string, 0, len(lesson.GradeLevels))
	for _, grade := range lesson.GradeLevels {
		grades = append(grades, string(grade))
	}
	segments := make([]ManifestSegment, 0, len(document.Segments))
	for _, segment := range document.Segments {
		if strings.TrimSpace(segment.Type) == "" {
			continue
		}
		segments = append(segments, ManifestSegment{Type: segment.Type, Representation: segment.Representation})
	}
	return ManifestLesson{
		ID:                    lesson.Slug,
		Slug:                  lesson.Slug,
		TopicID:               topicSlug,
		Title:                 title,
		MaterialID:            document.MaterialID,
		GradeLevels:           grades,
		Segments:              segments,
		PrerequisiteLessonIDs: nonNil(document.Prerequisites),
		Skills:                nonNil(document.Skills),
		Notes:                 lesson.AuthoringNotes,
	}
}
