package curriculum

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MoveTopicInput relocates a topic under targetUnitId at targetIndex.
type MoveTopicInput struct {
	TargetUnitID string `json:"targetUnitId"`
	TargetIndex  int    `json:"targetIndex"`
}

// MoveLessonInput relocates a lesson under targetTopicId at targetIndex.
type MoveLessonInput struct {
	TargetTopicID string `json:"targetTopicId"`
	TargetIndex   int    `json:"targetIndex"`
}

// MoveTopic splices the topic into the target unit's sibling list and rewrites the order of the
// whole list. The source unit is compacted when the topic changes parent.
func (s *Service) MoveTopic(ctx context.Context, topicID string, input MoveTopicInput) (Topic, error) {
	if err := s.ready(opMoveTopic); err != nil {
		return Topic{}, err
	}
	id, err := NewEntityID(topicID)
	if err != nil {
		return Topic{}, s.fail(opMoveTopic, reasonInvalidInput, err)
	}
	targetUnitID, err := NewEntityID(input.TargetUnitID)
	if err != nil {
		return Topic{}, s.fail(opMoveTopic, reasonInvalidInput, err)
	}

	now := s.nowSeconds()
	var moved Topic
	err = s.transact(ctx, opMoveTopic, func(tx *gorm.DB) error {
		topic, err := s.loadTopic(tx, opMoveTopic, id.String())
		if err != nil {
			return err
		}
		if _, err := s.loadUnit(tx, opMoveTopic, targetUnitID.String()); err != nil {
			return err
		}

		sourceUnitID := topic.UnitID
		if sourceUnitID != targetUnitID.String() {
			err := tx.Model(&Topic{}).
				Where("id = ?", topic.ID).
				Updates(map[string]any{columnUnitID: targetUnitID.String(), columnUpdatedAt: now}).Error
			if err != nil {
				return s.fail(opMoveTopic, reasonQueryFailed, err)
			}
		}

		if err := spliceSibling(tx, topicScope(targetUnitID.String()), topic.ID, input.TargetIndex, now); err != nil {
			return s.fail(opMoveTopic, reasonQueryFailed, err)
		}
		if sourceUnitID != targetUnitID.String() {
			if _, err := densify(tx, topicScope(sourceUnitID), nil, now); err != nil {
				return s.fail(opMoveTopic, reasonQueryFailed, err)
			}
		}

		moved, err = s.loadTopic(tx, opMoveTopic, topic.ID)
		return err
	})
	if err != nil {
		return Topic{}, err
	}
	s.notify(ctx, entityTopics, "move", moved.ID)
	return moved, nil
}

// MoveLesson is MoveTopic one level down.
func (s *Service) MoveLesson(ctx context.Context, lessonID string, input MoveLessonInput) (Lesson, error) {
	if err := s.ready(opMoveLesson); err != nil {
		return Lesson{}, err
	}
	id, err := NewEntityID(lessonID)
	if err != nil {
		return Lesson{}, s.fail(opMoveLesson, reasonInvalidInput, err)
	}
	targetTopicID, err := NewEntityID(input.TargetTopicID)
	if err != nil {
		return Lesson{}, s.fail(opMoveLesson, reasonInvalidInput, err)
	}

	now := s.nowSeconds()
	var moved Lesson
	err = s.transact(ctx, opMoveLesson, func(tx *gorm.DB) error {
		lesson, err := s.loadLesson(tx, opMoveLesson, id.String())
		if err != nil {
			return err
		}
		if _, err := s.loadTopic(tx, opMoveLesson, targetTopicID.String()); err != nil {
			return err
		}

		sourceTopicID := lesson.TopicID
		if sourceTopicID != targetTopicID.String() {
			err := tx.Model(&Lesson{}).
				Where("id = ?", lesson.ID).
				Updates(map[string]any{columnTopicID: targetTopicID.String(), columnUpdatedAt: now}).Error
			if err != nil {
				return s.fail(opMoveLesson, reasonQueryFailed, err)
			}
		}

		if err := spliceSibling(tx, lessonScope(targetTopicID.String()), lesson.ID, input.TargetIndex, now); err != nil {
			return s.fail(opMoveLesson, reasonQueryFailed, err)
		}
		if sourceTopicID != targetTopicID.String() {
			if _, err := densify(tx, lessonScope(sourceTopicID), nil, now); err != nil {
				return s.fail(opMoveLesson, reasonQueryFailed, err)
			}
		}

		moved, err = s.loadLesson(tx, opMoveLesson, lesson.ID)
		return err
	})
	if err != nil {
		return Lesson{}, err
	}
	s.notify(ctx, entityLessons, "move", moved.ID)
	return moved, nil
}

// spliceSibling places id at index among the other members of scope and writes the dense order.
// The mover must already carry the scope's parent column.
func spliceSibling(tx *gorm.DB, scope siblingScope, id string, index int, nowSeconds int64) error {
	rows, err := loadSiblings(tx, scope)
	if err != nil {
		return err
	}
	current := make(map[string]int, len(rows))
	others := make([]string, 0, len(rows))
	for _, row := range rows {
		current[row.ID] = row.Order
		if row.ID != id {
			others = append(others, row.ID)
		}
	}
	_, err = writeSequence(tx, scope, spliceAt(others, id, index), current, nowSeconds)
	return err
}

// ReorderUnits assigns order = index over the complete unit list.
func (s *Service) ReorderUnits(ctx context.Context, unitIDs []string) error {
	if err := s.ready(opReorderUnits); err != nil {
		return err
	}
	err := s.transact(ctx, opReorderUnits, func(tx *gorm.DB) error {
		if _, err := reorderSiblings(tx, unitScope(), unitIDs, s.nowSeconds()); err != nil {
			return s.reorderFailure(opReorderUnits, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, entityUnits, "reorder", unitIDs...)
	return nil
}

// ReorderTopics assigns order = index over the complete topic list of a unit.
func (s *Service) ReorderTopics(ctx context.Context, unitID string, topicIDs []string) error {
	if err := s.ready(opReorderTopics); err != nil {
		return err
	}
	id, err := NewEntityID(unitID)
	if err != nil {
		return s.fail(opReorderTopics, reasonInvalidInput, err)
	}
	err = s.transact(ctx, opReorderTopics, func(tx *gorm.DB) error {
		if _, err := s.loadUnit(tx, opReorderTopics, id.String()); err != nil {
			return err
		}
		if _, err := reorderSiblings(tx, topicScope(id.String()), topicIDs, s.nowSeconds()); err != nil {
			return s.reorderFailure(opReorderTopics, err, zap.String("unit_id", id.String()))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, entityTopics, "reorder", topicIDs...)
	return nil
}

// ReorderLessons assigns order = index over the complete lesson list of a topic.
func (s *Service) ReorderLessons(ctx context.Context, topicID string, lessonIDs []string) error {
	if err := s.ready(opReorderLessons); err != nil {
		return err
	}
	id, err := NewEntityID(topicID)
	if err != nil {
		return s.fail(opReorderLessons, reasonInvalidInput, err)
	}
	err = s.transact(ctx, opReorderLessons, func(tx *gorm.DB) error {
		if _, err := s.loadTopic(tx, opReorderLessons, id.String()); err != nil {
			return err
		}
		if _, err := reorderSiblings(tx, lessonScope(id.String()), lessonIDs, s.nowSeconds()); err != nil {
			return s.reorderFailure(opReorderLessons, err, zap.String("topic_id", id.String()))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, entityLessons, "reorder", lessonIDs...)
	return nil
}

func (s *Service) reorderFailure(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrValidation) {
		return s.fail(operation, reasonSiblingMismatch, err, fields...)
	}
	return s.fail(operation, reasonQueryFailed, err, fields...)
}

func (s *Service) loadUnit(tx *gorm.DB, operation, id string) (Unit, error) {
	var unit Unit
	if err := tx.Where("id = ?", id).Take(&unit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Unit{}, s.fail(operation, reasonUnitNotFound, fmt.Errorf("%w: unit %s", ErrNotFound, id))
		}
		return Unit{}, s.fail(operation, reasonQueryFailed, err, zap.String("unit_id", id))
	}
	return unit, nil
}

func (s *Service) loadTopic(tx *gorm.DB, operation, id string) (Topic, error) {
	var topic Topic
	if err := tx.Where("id = ?", id).Take(&topic).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Topic{}, s.fail(operation, reasonTopicNotFound, fmt.Errorf("%w: topic %s", ErrNotFound, id))
		}
		return Topic{}, s.fail(operation, reasonQueryFailed, err, zap.String("topic_id", id))
	}
	return topic, nil
}

func (s *Service) loadLesson(tx *gorm.DB, operation, id string) (Lesson, error) {
	var lesson Lesson
	if err := tx.Where("id = ?", id).Take(&lesson).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Lesson{}, s.fail(operation, reasonLessonNotFound, fmt.Errorf("%w: lesson %s", ErrNotFound, id))
		}
		return Lesson{}, s.fail(operation, reasonQueryFailed, err, zap.String("lesson_id", id))
	}
	return lesson, nil
}
