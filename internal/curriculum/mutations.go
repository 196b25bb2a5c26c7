package curriculum

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type CreateUnitInput struct {
	Title      string          `json:"title"`
	Slug       *string         `json:"slug,omitempty"`
	Summary    *string         `json:"summary,omitempty"`
	CoverImage *string         `json:"coverImage,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type UpdateUnitInput struct {
	Title      *string         `json:"title,omitempty"`
	Slug       *string         `json:"slug,omitempty"`
	Summary    *string         `json:"summary,omitempty"`
	CoverImage *string         `json:"coverImage,omitempty"`
	Status     *UnitStatus     `json:"status,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type CreateTopicInput struct {
	UnitID                   string          `json:"unitId"`
	Title                    string          `json:"title"`
	Slug                     *string         `json:"slug,omitempty"`
	Overview                 *string         `json:"overview,omitempty"`
	FocusSkills              []string        `json:"focusSkills,omitempty"`
	EstimatedDurationMinutes *int            `json:"estimatedDurationMinutes,omitempty"`
	Metadata                 json.RawMessage `json:"metadata,omitempty"`
}

type UpdateTopicInput struct {
	Title                    *string         `json:"title,omitempty"`
	Slug                     *string         `json:"slug,omitempty"`
	Overview                 *string         `json:"overview,omitempty"`
	FocusSkills              []string        `json:"focusSkills,omitempty"`
	EstimatedDurationMinutes *int            `json:"estimatedDurationMinutes,omitempty"`
	Status                   *TopicStatus    `json:"status,omitempty"`
	Metadata                 json.RawMessage `json:"metadata,omitempty"`
}

type CreateLessonInput struct {
	TopicID     string   `json:"topicId"`
	Title       string   `json:"title"`
	Slug        *string  `json:"slug,omitempty"`
	Summary     *string  `json:"summary,omitempty"`
	GradeLevels []string `json:"gradeLevels,omitempty"`
}

// UpdateLessonAuthoringInput patches the authoring workflow fields. A nil field is left alone;
// an empty assignee or notes string clears the stored value.
type UpdateLessonAuthoringInput struct {
	AuthoringStatus *string `json:"authoringStatus,omitempty"`
	AssigneeID      *string `json:"assigneeId,omitempty"`
	AuthoringNotes  *string `json:"authoringNotes,omitempty"`
}

func requireTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}
	return trimmed, nil
}

func metadataColumn(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := (JSONObjectValidator{}).Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: metadata must be a JSON object", ErrValidation)
	}
	return datatypes.JSON(raw), nil
}

func parseGradeLevels(raw []string) ([]GradeLevel, error) {
	grades := make([]GradeLevel, 0, len(raw))
	for _, value := range raw {
		grade, err := ParseGradeLevel(value)
		if err != nil {
			return nil, err
		}
		grades = append(grades, grade)
	}
	return grades, nil
}

// CreateUnit appends a unit after the existing ones.
func (s *Service) CreateUnit(ctx context.Context, input CreateUnitInput) (Unit, error) {
	if err := s.ready(opCreateUnit); err != nil {
		return Unit{}, err
	}
	title, err := requireTitle(input.Title)
	if err != nil {
		return Unit{}, s.fail(opCreateUnit, reasonInvalidInput, err)
	}
	metadata, err := metadataColumn(input.Metadata)
	if err != nil {
		return Unit{}, s.fail(opCreateUnit, reasonInvalidInput, err)
	}
	id, err := s.newID()
	if err != nil {
		return Unit{}, s.fail(opCreateUnit, "id_generation_failed", err)
	}

	now := s.nowSeconds()
	unit := Unit{
		ID:               id,
		Title:            title,
		Summary:          optionalString(input.Summary),
		CoverImage:       optionalString(input.CoverImage),
		Status:           UnitStatusActive,
		Metadata:         metadata,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	err = s.transact(ctx, opCreateUnit, func(tx *gorm.DB) error {
		slug, err := ensureUniqueSlug(tx, &Unit{}, slugSource(input.Slug, title), "")
		if err != nil {
			return s.fail(opCreateUnit, reasonQueryFailed, err)
		}
		order, err := nextOrder(tx, unitScope())
		if err != nil {
			return s.fail(opCreateUnit, reasonQueryFailed, err)
		}
		unit.Slug = slug
		unit.Order = order
		if err := tx.Create(&unit).Error; err != nil {
			return s.fail(opCreateUnit, reasonQueryFailed, err, zap.String("slug", slug))
		}
		return nil
	})
	if err != nil {
		return Unit{}, err
	}
	s.notify(ctx, entityUnits, "create", unit.ID)
	return unit, nil
}

// UpdateUnit patches the supplied fields of a unit.
func (s *Service) UpdateUnit(ctx context.Context, unitID string, input UpdateUnitInput) (Unit, error) {
	if err := s.ready(opUpdateUnit); err != nil {
		return Unit{}, err
	}
	id, err := NewEntityID(unitID)
	if err != nil {
		return Unit{}, s.fail(opUpdateUnit, reasonInvalidInput, err)
	}

	updates := map[string]any{}
	if input.Title != nil {
		title, err := requireTitle(*input.Title)
		if err != nil {
			return Unit{}, s.fail(opUpdateUnit, reasonInvalidInput, err)
		}
		updates["title"] = title
	}
	if input.Summary != nil {
		updates["summary"] = optionalString(input.Summary)
	}
	if input.CoverImage != nil {
		updates["cover_image"] = optionalString(input.CoverImage)
	}
	if input.Status != nil {
		switch *input.Status {
		case UnitStatusActive, UnitStatusArchived:
			updates["status"] = *input.Status
		default:
			return Unit{}, s.fail(opUpdateUnit, reasonInvalidInput, fmt.Errorf("%w: unknown unit status %q", ErrValidation, *input.Status))
		}
	}
	if input.Metadata != nil {
		metadata, err := metadataColumn(input.Metadata)
		if err != nil {
			return Unit{}, s.fail(opUpdateUnit, reasonInvalidInput, err)
		}
		updates["metadata"] = metadata
	}

	var unit Unit
	err = s.transact(ctx, opUpdateUnit, func(tx *gorm.DB) error {
		if _, err := s.loadUnit(tx, opUpdateUnit, id.String()); err != nil {
			return err
		}
		if input.Slug != nil {
			slug, err := ensureUniqueSlug(tx, &Unit{}, *input.Slug, id.String())
			if err != nil {
				return s.fail(opUpdateUnit, reasonQueryFailed, err)
			}
			updates["slug"] = slug
		}
		if len(updates) > 0 {
			updates[columnUpdatedAt] = s.nowSeconds()
			if err := tx.Model(&Unit{}).Where("id = ?", id.String()).Updates(updates).Error; err != nil {
				return s.fail(opUpdateUnit, reasonQueryFailed, err, zap.String("unit_id", id.String()))
			}
		}
		loaded, err := s.loadUnit(tx, opUpdateUnit, id.String())
		unit = loaded
		return err
	})
	if err != nil {
		return Unit{}, err
	}
	s.notify(ctx, entityUnits, "update", unit.ID)
	return unit, nil
}

// DeleteUnit removes a unit with its topics and lessons and compacts the remaining units.
func (s *Service) DeleteUnit(ctx context.Context, unitID string) (DeleteResult, error) {
	if err := s.ready(opDeleteUnit); err != nil {
		return DeleteResult{}, err
	}
	id, err := NewEntityID(unitID)
	if err != nil {
		return DeleteResult{}, s.fail(opDeleteUnit, reasonInvalidInput, err)
	}

	var result DeleteResult
	err = s.transact(ctx, opDeleteUnit, func(tx *gorm.DB) error {
		if _, err := s.loadUnit(tx, opDeleteUnit, id.String()); err != nil {
			return err
		}
		deleted, err := cascadeDeleteUnit(tx, id.String())
		if err != nil {
			return s.fail(opDeleteUnit, reasonQueryFailed, err, zap.String("unit_id", id.String()))
		}
		result = deleted
		if _, err := densify(tx, unitScope(), nil, s.nowSeconds()); err != nil {
			return s.fail(opDeleteUnit, reasonQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.notify(ctx, entityUnits, "delete", id.String())
	return result, nil
}

// CreateTopic appends a topic to a unit.
func (s *Service) CreateTopic(ctx context.Context, input CreateTopicInput) (Topic, error) {
	if err := s.ready(opCreateTopic); err != nil {
		return Topic{}, err
	}
	unitID, err := NewEntityID(input.UnitID)
	if err != nil {
		return Topic{}, s.fail(opCreateTopic, reasonInvalidInput, err)
	}
	title, err := requireTitle(input.Title)
	if err != nil {
		return Topic{}, s.fail(opCreateTopic, reasonInvalidInput, err)
	}
	metadata, err := metadataColumn(input.Metadata)
	if err != nil {
		return Topic{}, s.fail(opCreateTopic, reasonInvalidInput, err)
	}
	id, err := s.newID()
	if err != nil {
		return Topic{}, s.fail(opCreateTopic, "id_generation_failed", err)
	}

	now := s.nowSeconds()
	topic := Topic{
		ID:                       id,
		UnitID:                   unitID.String(),
		Title:                    title,
		Overview:                 optionalString(input.Overview),
		FocusSkills:              datatypes.JSONSlice[string](nonNil(input.FocusSkills)),
		EstimatedDurationMinutes: input.EstimatedDurationMinutes,
		Status:                   TopicStatusActive,
		Metadata:                 metadata,
		CreatedAtSeconds:         now,
		UpdatedAtSeconds:         now,
	}
	err = s.transact(ctx, opCreateTopic, func(tx *gorm.DB) error {
		if _, err := s.loadUnit(tx, opCreateTopic, unitID.String()); err != nil {
			return err
		}
		slug, err := ensureUniqueSlug(tx, &Topic{}, slugSource(input.Slug, title), "")
		if err != nil {
			return s.fail(opCreateTopic, reasonQueryFailed, err)
		}
		order, err := nextOrder(tx, topicScope(unitID.String()))
		if err != nil {
			return s.fail(opCreateTopic, reasonQueryFailed, err)
		}
		topic.Slug = slug
		topic.Order = order
		if err := tx.Create(&topic).Error; err != nil {
			return s.fail(opCreateTopic, reasonQueryFailed, err, zap.String("slug", slug))
		}
		return nil
	})
	if err != nil {
		return Topic{}, err
	}
	s.notify(ctx, entityTopics, "create", topic.ID)
	return topic, nil
}

// UpdateTopic patches the supplied fields of a topic. Reparenting goes through MoveTopic.
func (s *Service) UpdateTopic(ctx context.Context, topicID string, input UpdateTopicInput) (Topic, error) {
	if err := s.ready(opUpdateTopic); err != nil {
		return Topic{}, err
	}
	id, err := NewEntityID(topicID)
	if err != nil {
		return Topic{}, s.fail(opUpdateTopic, reasonInvalidInput, err)
	}

	updates := map[string]any{}
	if input.Title != nil {
		title, err := requireTitle(*input.Title)
		if err != nil {
			return Topic{}, s.fail(opUpdateTopic, reasonInvalidInput, err)
		}
		updates["title"] = title
	}
	if input.Overview != nil {
		updates["overview"] = optionalString(input.Overview)
	}
	if input.FocusSkills != nil {
		updates["focus_skills"] = datatypes.JSONSlice[string](input.FocusSkills)
	}
	if input.EstimatedDurationMinutes != nil {
		if *input.EstimatedDurationMinutes < 0 {
			return Topic{}, s.fail(opUpdateTopic, reasonInvalidInput, fmt.Errorf("%w: estimated duration is negative", ErrValidation))
		}
		updates["estimated_duration_minutes"] = *input.EstimatedDurationMinutes
	}
	if input.Status != nil {
		switch *input.Status {
		case TopicStatusActive, TopicStatusArchived:
			updates["status"] = *input.Status
		default:
			return Topic{}, s.fail(opUpdateTopic, reasonInvalidInput, fmt.Errorf("%w: unknown topic status %q", ErrValidation, *input.Status))
		}
	}
	if input.Metadata != nil {
		metadata, err := metadataColumn(input.Metadata)
		if err != nil {
			return Topic{}, s.fail(opUpdateTopic, reasonInvalidInput, err)
		}
		updates["metadata"] = metadata
	}

	var topic Topic
	err = s.transact(ctx, opUpdateTopic, func(tx *gorm.DB) error {
		if _, err := s.loadTopic(tx, opUpdateTopic, id.String()); err != nil {
			return err
		}
		if input.Slug != nil {
			slug, err := ensureUniqueSlug(tx, &Topic{}, *input.Slug, id.String())
			if err != nil {
				return s.fail(opUpdateTopic, reasonQueryFailed, err)
			}
			updates["slug"] = slug
		}
		if len(updates) > 0 {
			updates[columnUpdatedAt] = s.nowSeconds()
			if err := tx.Model(&Topic{}).Where("id = ?", id.String()).Updates(updates).Error; err != nil {
				return s.fail(opUpdateTopic, reasonQueryFailed, err, zap.String("topic_id", id.String()))
			}
		}
		loaded, err := s.loadTopic(tx, opUpdateTopic, id.String())
		topic = loaded
		return err
	})
	if err != nil {
		return Topic{}, err
	}
	s.notify(ctx, entityTopics, "update", topic.ID)
	return topic, nil
}

// DeleteTopic removes a topic with its lessons and compacts the remaining topics of its unit.
func (s *Service) DeleteTopic(ctx context.Context, topicID string) (DeleteResult, error) {
	if err := s.ready(opDeleteTopic); err != nil {
		return DeleteResult{}, err
	}
	id, err := NewEntityID(topicID)
	if err != nil {
		return DeleteResult{}, s.fail(opDeleteTopic, reasonInvalidInput, err)
	}

	var result DeleteResult
	err = s.transact(ctx, opDeleteTopic, func(tx *gorm.DB) error {
		topic, err := s.loadTopic(tx, opDeleteTopic, id.String())
		if err != nil {
			return err
		}
		deleted, err := cascadeDeleteTopic(tx, topic.ID)
		if err != nil {
			return s.fail(opDeleteTopic, reasonQueryFailed, err, zap.String("topic_id", topic.ID))
		}
		result = deleted
		if _, err := densify(tx, topicScope(topic.UnitID), nil, s.nowSeconds()); err != nil {
			return s.fail(opDeleteTopic, reasonQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.notify(ctx, entityTopics, "delete", id.String())
	return result, nil
}

// CreateLesson appends a lesson with a default draft document to a topic.
func (s *Service) CreateLesson(ctx context.Context, input CreateLessonInput) (Lesson, error) {
	if err := s.ready(opCreateLesson); err != nil {
		return Lesson{}, err
	}
	topicID, err := NewEntityID(input.TopicID)
	if err != nil {
		return Lesson{}, s.fail(opCreateLesson, reasonInvalidInput, err)
	}
	title, err := requireTitle(input.Title)
	if err != nil {
		return Lesson{}, s.fail(opCreateLesson, reasonInvalidInput, err)
	}
	grades, err := parseGradeLevels(input.GradeLevels)
	if err != nil {
		return Lesson{}, s.fail(opCreateLesson, reasonInvalidInput, err)
	}
	summary := optionalString(input.Summary)
	draft, err := json.Marshal(newLessonDocument(title, summary, grades, nil))
	if err != nil {
		return Lesson{}, s.fail(opCreateLesson, reasonSerializationError, err)
	}
	id, err := s.newID()
	if err != nil {
		return Lesson{}, s.fail(opCreateLesson, "id_generation_failed", err)
	}

	now := s.nowSeconds()
	authoringStatus := AuthoringNotStarted
	lesson := Lesson{
		ID:               id,
		TopicID:          topicID.String(),
		Status:           LessonStatusDraft,
		Draft:            datatypes.JSON(draft),
		AuthoringStatus:  &authoringStatus,
		GradeLevels:      datatypes.JSONSlice[GradeLevel](grades),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	err = s.transact(ctx, opCreateLesson, func(tx *gorm.DB) error {
		if _, err := s.loadTopic(tx, opCreateLesson, topicID.String()); err != nil {
			return err
		}
		slug, err := ensureUniqueSlug(tx, &Lesson{}, slugSource(input.Slug, title), "")
		if err != nil {
			return s.fail(opCreateLesson, reasonQueryFailed, err)
		}
		order, err := nextOrder(tx, lessonScope(topicID.String()))
		if err != nil {
			return s.fail(opCreateLesson, reasonQueryFailed, err)
		}
		lesson.Slug = slug
		lesson.Order = order
		if err := tx.Create(&lesson).Error; err != nil {
			return s.fail(opCreateLesson, reasonQueryFailed, err, zap.String("slug", slug))
		}
		return nil
	})
	if err != nil {
		return Lesson{}, err
	}
	s.notify(ctx, entityLessons, "create", lesson.ID)
	return lesson, nil
}

// SaveLessonDraft replaces the draft document after the configured validator accepts it.
func (s *Service) SaveLessonDraft(ctx context.Context, lessonID string, document json.RawMessage) (Lesson, error) {
	if err := s.ready(opSaveLessonDraft); err != nil {
		return Lesson{}, err
	}
	id, err := NewEntityID(lessonID)
	if err != nil {
		return Lesson{}, s.fail(opSaveLessonDraft, reasonInvalidInput, err)
	}
	if err := s.validator.Validate(document); err != nil {
		return Lesson{}, s.fail(opSaveLessonDraft, reasonInvalidDocument, err, zap.String("lesson_id", id.String()))
	}

	var lesson Lesson
	err = s.transact(ctx, opSaveLessonDraft, func(tx *gorm.DB) error {
		if _, err := s.loadLesson(tx, opSaveLessonDraft, id.String()); err != nil {
			return err
		}
		err := tx.Model(&Lesson{}).
			Where("id = ?", id.String()).
			Updates(map[string]any{"draft": datatypes.JSON(document), columnUpdatedAt: s.nowSeconds()}).Error
		if err != nil {
			return s.fail(opSaveLessonDraft, reasonQueryFailed, err, zap.String("lesson_id", id.String()))
		}
		loaded, err := s.loadLesson(tx, opSaveLessonDraft, id.String())
		lesson = loaded
		return err
	})
	if err != nil {
		return Lesson{}, err
	}
	s.notify(ctx, entityLessons, "draft", lesson.ID)
	return lesson, nil
}

// PublishLesson snapshots the current draft as the published document.
func (s *Service) PublishLesson(ctx context.Context, lessonID string) (Lesson, error) {
	if err := s.ready(opPublishLesson); err != nil {
		return Lesson{}, err
	}
	id, err := NewEntityID(lessonID)
	if err != nil {
		return Lesson{}, s.fail(opPublishLesson, reasonInvalidInput, err)
	}

	var lesson Lesson
	err = s.transact(ctx, opPublishLesson, func(tx *gorm.DB) error {
		current, err := s.loadLesson(tx, opPublishLesson, id.String())
		if err != nil {
			return err
		}
		if err := s.validator.Validate(current.Draft); err != nil {
			return s.fail(opPublishLesson, reasonInvalidDocument, err, zap.String("lesson_id", id.String()))
		}
		now := s.nowSeconds()
		err = tx.Model(&Lesson{}).
			Where("id = ?", id.String()).
			Updates(map[string]any{
				"published":      current.Draft,
				"status":         LessonStatusPublished,
				"published_at_s": now,
				columnUpdatedAt:  now,
			}).Error
		if err != nil {
			return s.fail(opPublishLesson, reasonQueryFailed, err, zap.String("lesson_id", id.String()))
		}
		loaded, err := s.loadLesson(tx, opPublishLesson, id.String())
		lesson = loaded
		return err
	})
	if err != nil {
		return Lesson{}, err
	}
	s.notify(ctx, entityLessons, "publish", lesson.ID)
	return lesson, nil
}

// DeleteLesson removes a lesson and compacts its siblings.
func (s *Service) DeleteLesson(ctx context.Context, lessonID string) (DeleteResult, error) {
	if err := s.ready(opDeleteLesson); err != nil {
		return DeleteResult{}, err
	}
	id, err := NewEntityID(lessonID)
	if err != nil {
		return DeleteResult{}, s.fail(opDeleteLesson, reasonInvalidInput, err)
	}

	var result DeleteResult
	err = s.transact(ctx, opDeleteLesson, func(tx *gorm.DB) error {
		lesson, err := s.loadLesson(tx, opDeleteLesson, id.String())
		if err != nil {
			return err
		}
		deleted := tx.Where("id = ?", lesson.ID).Delete(&Lesson{})
		if deleted.Error != nil {
			return s.fail(opDeleteLesson, reasonQueryFailed, deleted.Error, zap.String("lesson_id", lesson.ID))
		}
		result.Lessons = int(deleted.RowsAffected)
		if _, err := densify(tx, lessonScope(lesson.TopicID), nil, s.nowSeconds()); err != nil {
			return s.fail(opDeleteLesson, reasonQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.notify(ctx, entityLessons, "delete", id.String())
	return result, nil
}

// UpdateLessonAuthoring patches the authoring workflow fields of a lesson.
func (s *Service) UpdateLessonAuthoring(ctx context.Context, lessonID string, input UpdateLessonAuthoringInput) (Lesson, error) {
	if err := s.ready(opUpdateLessonAuthoring); err != nil {
		return Lesson{}, err
	}
	id, err := NewEntityID(lessonID)
	if err != nil {
		return Lesson{}, s.fail(opUpdateLessonAuthoring, reasonInvalidInput, err)
	}

	updates := map[string]any{}
	if input.AuthoringStatus != nil {
		status, err := ParseAuthoringStatus(*input.AuthoringStatus)
		if err != nil {
			return Lesson{}, s.fail(opUpdateLessonAuthoring, reasonInvalidInput, err)
		}
		updates["authoring_status"] = status
	}
	if input.AssigneeID != nil {
		updates["assignee_id"] = optionalString(input.AssigneeID)
	}
	if input.AuthoringNotes != nil {
		updates["authoring_notes"] = optionalString(input.AuthoringNotes)
	}

	var lesson Lesson
	err = s.transact(ctx, opUpdateLessonAuthoring, func(tx *gorm.DB) error {
		if _, err := s.loadLesson(tx, opUpdateLessonAuthoring, id.String()); err != nil {
			return err
		}
		if len(updates) > 0 {
			updates[columnUpdatedAt] = s.nowSeconds()
			if err := tx.Model(&Lesson{}).Where("id = ?", id.String()).Updates(updates).Error; err != nil {
				return s.fail(opUpdateLessonAuthoring, reasonQueryFailed, err, zap.String("lesson_id", id.String()))
			}
		}
		loaded, err := s.loadLesson(tx, opUpdateLessonAuthoring, id.String())
		lesson = loaded
		return err
	})
	if err != nil {
		return Lesson{}, err
	}
	s.notify(ctx, entityLessons, "authoring", lesson.ID)
	return lesson, nil
}
