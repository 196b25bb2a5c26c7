package curriculum

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next atomic.Int64
}

func (p *sequenceIDProvider) NewID() (string, error) {
	return fmt.Sprintf("id-%04d", p.next.Add(1)), nil
}

type recordingNotifier struct {
	events []ChangeEvent
}

func (n *recordingNotifier) NotifyChange(_ context.Context, event ChangeEvent) {
	n.events = append(n.events, event)
}

var testDatabaseCounter atomic.Int64

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:curriculum_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingNotifier) {
	t.Helper()

	db := openTestDatabase(t)
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000600, 0).UTC() },
		IDProvider: &sequenceIDProvider{},
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to construct curriculum service: %v", err)
	}
	return service, db, notifier
}

func mustCreateUnit(t *testing.T, service *Service, title string) Unit {
	t.Helper()
	unit, err := service.CreateUnit(context.Background(), CreateUnitInput{Title: title})
	if err != nil {
		t.Fatalf("create unit %q: %v", title, err)
	}
	return unit
}

func mustCreateTopic(t *testing.T, service *Service, unitID, title string) Topic {
	t.Helper()
	topic, err := service.CreateTopic(context.Background(), CreateTopicInput{UnitID: unitID, Title: title})
	if err != nil {
		t.Fatalf("create topic %q: %v", title, err)
	}
	return topic
}

func mustCreateLesson(t *testing.T, service *Service, topicID, title string) Lesson {
	t.Helper()
	lesson, err := service.CreateLesson(context.Background(), CreateLessonInput{TopicID: topicID, Title: title})
	if err != nil {
		t.Fatalf("create lesson %q: %v", title, err)
	}
	return lesson
}

// siblingOrders returns id → order for one sibling set.
func siblingOrders(t *testing.T, db *gorm.DB, scope siblingScope) map[string]int {
	t.Helper()
	rows, err := loadSiblings(db, scope)
	if err != nil {
		t.Fatalf("load siblings: %v", err)
	}
	orders := make(map[string]int, len(rows))
	for _, row := range rows {
		orders[row.ID] = row.Order
	}
	return orders
}

func siblingSequence(t *testing.T, db *gorm.DB, scope siblingScope) []string {
	t.Helper()
	rows, err := loadSiblings(db, scope)
	if err != nil {
		t.Fatalf("load siblings: %v", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}

func assertDense(t *testing.T, db *gorm.DB, scope siblingScope) {
	t.Helper()
	orders := siblingOrders(t, db, scope)
	values := make([]int, 0, len(orders))
	for _, order := range orders {
		values = append(values, order)
	}
	sort.Ints(values)
	for index, value := range values {
		if value != index {
			t.Fatalf("expected dense order 0..%d, got %v", len(values)-1, values)
		}
	}
}

func assertTreeDense(t *testing.T, db *gorm.DB) {
	t.Helper()
	assertDense(t, db, unitScope())
	var unitIDs []string
	if err := db.Model(&Unit{}).Pluck("id", &unitIDs).Error; err != nil {
		t.Fatalf("pluck units: %v", err)
	}
	for _, unitID := range unitIDs {
		assertDense(t, db, topicScope(unitID))
	}
	var topicIDs []string
	if err := db.Model(&Topic{}).Pluck("id", &topicIDs).Error; err != nil {
		t.Fatalf("pluck topics: %v", err)
	}
	for _, topicID := range topicIDs {
		assertDense(t, db, lessonScope(topicID))
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}
