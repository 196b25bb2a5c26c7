package curriculum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew             = "curriculum.service.new"
	opSyncManifest           = "curriculum.sync_manifest"
	opListTree               = "curriculum.list_tree"
	opGetUnitBySlug          = "curriculum.get_unit_by_slug"
	opExportManifest         = "curriculum.export_manifest"
	opCreateUnit             = "curriculum.create_unit"
	opUpdateUnit             = "curriculum.update_unit"
	opDeleteUnit             = "curriculum.delete_unit"
	opReorderUnits           = "curriculum.reorder_units"
	opCreateTopic            = "curriculum.create_topic"
	opUpdateTopic            = "curriculum.update_topic"
	opDeleteTopic            = "curriculum.delete_topic"
	opMoveTopic              = "curriculum.move_topic"
	opReorderTopics          = "curriculum.reorder_topics"
	opCreateLesson           = "curriculum.create_lesson"
	opSaveLessonDraft        = "curriculum.save_lesson_draft"
	opPublishLesson          = "curriculum.publish_lesson"
	opDeleteLesson           = "curriculum.delete_lesson"
	opMoveLesson             = "curriculum.move_lesson"
	opReorderLessons         = "curriculum.reorder_lessons"
	opUpdateLessonAuthoring  = "curriculum.update_lesson_authoring"
	reasonMissingDatabase    = "missing_database"
	reasonInvalidInput       = "invalid_input"
	reasonUnitNotFound       = "unit_not_found"
	reasonTopicNotFound      = "topic_not_found"
	reasonLessonNotFound     = "lesson_not_found"
	reasonSiblingMismatch    = "sibling_mismatch"
	reasonTransactionFailed  = "transaction_failed"
	reasonQueryFailed        = "query_failed"
	reasonInvalidDocument    = "invalid_document"
	reasonInvalidCursor      = "invalid_cursor"
	reasonSerializationError = "serialization_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly created entities.
type IDProvider interface {
	NewID() (string, error)
}

// DocumentValidator checks lesson-content documents before they are stored.
type DocumentValidator interface {
	Validate(document []byte) error
}

// ChangeEvent describes a committed curriculum mutation.
type ChangeEvent struct {
	Entity    string
	Operation string
	IDs       []string
	Timestamp time.Time
}

// ChangeNotifier receives events after a mutation commits.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, event ChangeEvent)
}

// ServiceConfig describes the dependencies of the curriculum service.
type ServiceConfig struct {
	Database          *gorm.DB
	Clock             func() time.Time
	IDProvider        IDProvider
	DocumentValidator DocumentValidator
	Notifier          ChangeNotifier
	Logger            *zap.Logger
}

// Service owns every read and write path into the persisted curriculum tree.
type Service struct {
	db        *gorm.DB
	clock     func() time.Time
	ids       IDProvider
	validator DocumentValidator
	notifier  ChangeNotifier
	logger    *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	validator := cfg.DocumentValidator
	if validator == nil {
		validator = JSONObjectValidator{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:        cfg.Database,
		clock:     clock,
		ids:       cfg.IDProvider,
		validator: validator,
		notifier:  cfg.Notifier,
		logger:    logger,
	}, nil
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(operation, reasonMissingDatabase, errMissingDatabase)
	}
	return nil
}

func (s *Service) nowSeconds() int64 {
	return s.clock().UTC().Unix()
}

func (s *Service) newID() (string, error) {
	if s.ids == nil {
		return "", errMissingIDProvider
	}
	return s.ids.NewID()
}

// transact runs fn in one transaction and normalises its error into a ServiceError.
func (s *Service) transact(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil {
		return nil
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	s.logError(operation, reasonTransactionFailed, err)
	return newServiceError(operation, reasonTransactionFailed, err)
}

// fail logs and wraps a cause that is already classified by a sentinel.
func (s *Service) fail(operation, reason string, cause error, fields ...zap.Field) error {
	s.logError(operation, reason, cause, fields...)
	return newServiceError(operation, reason, cause)
}

func (s *Service) notify(ctx context.Context, entity, operation string, ids ...string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyChange(ctx, ChangeEvent{
		Entity:    entity,
		Operation: operation,
		IDs:       ids,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger := s.loggerOrDefault()
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		logger.Info("curriculum request rejected", attrs...)
		return
	}
	logger.Error("curriculum service error", attrs...)
}
