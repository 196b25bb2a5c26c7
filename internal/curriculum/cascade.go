package curriculum

import "gorm.io/gorm"

// cascadeDeleteUnit removes a unit with every topic and lesson beneath it.
func cascadeDeleteUnit(tx *gorm.DB, unitID string) (DeleteResult, error) {
	var topicIDs []string
	if err := tx.Model(&Topic{}).Where(columnUnitID+" = ?", unitID).Pluck("id", &topicIDs).Error; err != nil {
		return DeleteResult{}, err
	}

	result := DeleteResult{}
	if len(topicIDs) > 0 {
		lessons := tx.Where(columnTopicID+" IN ?", topicIDs).Delete(&Lesson{})
		if lessons.Error != nil {
			return DeleteResult{}, lessons.Error
		}
		result.Lessons = int(lessons.RowsAffected)

		topics := tx.Where("id IN ?", topicIDs).Delete(&Topic{})
		if topics.Error != nil {
			return DeleteResult{}, topics.Error
		}
		result.Topics = int(topics.RowsAffected)
	}

	units := tx.Where("id = ?", unitID).Delete(&Unit{})
	if units.Error != nil {
		return DeleteResult{}, units.Error
	}
	result.Units = int(units.RowsAffected)
	return result, nil
}

// cascadeDeleteTopic removes a topic with its lessons.
func cascadeDeleteTopic(tx *gorm.DB, topicID string) (DeleteResult, error) {
	lessons := tx.Where(columnTopicID+" = ?", topicID).Delete(&Lesson{})
	if lessons.Error != nil {
		return DeleteResult{}, lessons.Error
	}
	topics := tx.Where("id = ?", topicID).Delete(&Topic{})
	if topics.Error != nil {
		return DeleteResult{}, topics.Error
	}
	return DeleteResult{Topics: int(topics.RowsAffected), Lessons: int(lessons.RowsAffected)}, nil
}
