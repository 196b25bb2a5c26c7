package curriculum

import (
	"database/sql"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

const (
	columnSortOrder = "sort_order"
	columnUpdatedAt = "updated_at_s"
	columnUnitID    = "unit_id"
	columnTopicID   = "topic_id"
)

// siblingScope names one sibling set: every row of model sharing parentColumn = parentID.
// Units have no parent column and form a single set.
type siblingScope struct {
	model        any
	parentColumn string
	parentID     string
}

func unitScope() siblingScope {
	return siblingScope{model: &Unit{}}
}

func topicScope(unitID string) siblingScope {
	return siblingScope{model: &Topic{}, parentColumn: columnUnitID, parentID: unitID}
}

func lessonScope(topicID string) siblingScope {
	return siblingScope{model: &Lesson{}, parentColumn: columnTopicID, parentID: topicID}
}

func (scope siblingScope) query(tx *gorm.DB) *gorm.DB {
	query := tx.Model(scope.model)
	if scope.parentColumn != "" {
		query = query.Where(scope.parentColumn+" = ?", scope.parentID)
	}
	return query
}

type siblingRow struct {
	ID    string `gorm:"column:id"`
	Slug  string `gorm:"column:slug"`
	Order int    `gorm:"column:sort_order"`
}

// nextOrder returns max(sibling order)+1, or 0 for an empty sibling set.
func nextOrder(tx *gorm.DB, scope siblingScope) (int, error) {
	var maxOrder sql.NullInt64
	row := scope.query(tx).Select("MAX(" + columnSortOrder + ")").Row()
	if err := row.Scan(&maxOrder); err != nil {
		return 0, err
	}
	if !maxOrder.Valid {
		return 0, nil
	}
	return int(maxOrder.Int64) + 1, nil
}

func loadSiblings(tx *gorm.DB, scope siblingScope) ([]siblingRow, error) {
	var rows []siblingRow
	err := scope.query(tx).
		Select("id", "slug", columnSortOrder).
		Order(columnSortOrder + " ASC").
		Order("id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// writeSequence assigns order = index to every id and returns the ids whose order changed.
func writeSequence(tx *gorm.DB, scope siblingScope, ids []string, current map[string]int, nowSeconds int64) ([]string, error) {
	var changed []string
	for index, id := range ids {
		if existing, ok := current[id]; ok && existing == index {
			continue
		}
		err := tx.Model(scope.model).
			Where("id = ?", id).
			Updates(map[string]any{columnSortOrder: index, columnUpdatedAt: nowSeconds}).Error
		if err != nil {
			return nil, err
		}
		changed = append(changed, id)
	}
	return changed, nil
}

// reorderSiblings applies a caller-supplied sequence. The sequence must be exactly the
// persisted sibling set; anything else is rejected before a write happens.
func reorderSiblings(tx *gorm.DB, scope siblingScope, ids []string, nowSeconds int64) ([]string, error) {
	rows, err := loadSiblings(tx, scope)
	if err != nil {
		return nil, err
	}
	current := make(map[string]int, len(rows))
	for _, row := range rows {
		current[row.ID] = row.Order
	}
	if err := matchSiblingSet(current, ids); err != nil {
		return nil, err
	}
	return writeSequence(tx, scope, ids, current, nowSeconds)
}

func matchSiblingSet(current map[string]int, ids []string) error {
	if len(ids) != len(current) {
		return fmt.Errorf("%w: expected %d sibling ids, got %d", ErrValidation, len(current), len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, duplicate := seen[id]; duplicate {
			return fmt.Errorf("%w: duplicate sibling id %s", ErrValidation, id)
		}
		seen[id] = struct{}{}
		if _, ok := current[id]; !ok {
			return fmt.Errorf("%w: %s is not a sibling in this set", ErrValidation, id)
		}
	}
	return nil
}

// densify rewrites a sibling set to 0..n-1. Rows in priority sort ahead of the rest; within a
// group the existing order wins, then slug.
func densify(tx *gorm.DB, scope siblingScope, priority map[string]struct{}, nowSeconds int64) ([]string, error) {
	rows, err := loadSiblings(tx, scope)
	if err != nil {
		return nil, err
	}
	group := func(id string) int {
		if priority == nil {
			return 0
		}
		if _, ok := priority[id]; ok {
			return 0
		}
		return 1
	}
	sort.SliceStable(rows, func(i, j int) bool {
		left, right := rows[i], rows[j]
		if group(left.ID) != group(right.ID) {
			return group(left.ID) < group(right.ID)
		}
		if left.Order != right.Order {
			return left.Order < right.Order
		}
		return left.Slug < right.Slug
	})

	current := make(map[string]int, len(rows))
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		current[row.ID] = row.Order
		ids = append(ids, row.ID)
	}
	return writeSequence(tx, scope, ids, current, nowSeconds)
}

// spliceAt inserts id into sequence at index, clamped to [0, len(sequence)].
func spliceAt(sequence []string, id string, index int) []string {
	if index < 0 {
		index = 0
	}
	if index > len(sequence) {
		index = len(sequence)
	}
	result := make([]string, 0, len(sequence)+1)
	result = append(result, sequence[:index]...)
	result = append(result, id)
	result = append(result, sequence[index:]...)
	return result
}

// RepairSiblingOrder densifies every sibling set in the tree. It backs the one-off order repair
// migration and is safe to re-run.
func RepairSiblingOrder(db *gorm.DB, nowSeconds int64) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if _, err := densify(tx, unitScope(), nil, nowSeconds); err != nil {
			return err
		}
		var unitIDs []string
		if err := tx.Model(&Unit{}).Pluck("id", &unitIDs).Error; err != nil {
			return err
		}
		for _, unitID := range unitIDs {
			if _, err := densify(tx, topicScope(unitID), nil, nowSeconds); err != nil {
				return err
			}
		}
		var topicIDs []string
		if err := tx.Model(&Topic{}).Pluck("id", &topicIDs).Error; err != nil {
			return err
		}
		for _, topicID := range topicIDs {
			if _, err := densify(tx, lessonScope(topicID), nil, nowSeconds); err != nil {
				return err
			}
		}
		return nil
	})
}
