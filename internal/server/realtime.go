package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"go.uber.org/zap"
)

const (
	RealtimeEventCurriculumChanged = "curriculum-change"
	realtimeEventHeartbeat         = "heartbeat"
	realtimeSourceBackend          = "curriculum-backend"
)

// RealtimeMessage is the payload delivered to stream subscribers and carried over the Redis bus.
type RealtimeMessage struct {
	EventType string    `json:"eventType"`
	Entity    string    `json:"entity"`
	Operation string    `json:"operation"`
	IDs       []string  `json:"ids"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin,omitempty"`
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream that lives until ctx ends or cleanup is called.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, subscriber.id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish fans message out to every subscriber. Slow subscribers miss messages rather than
// blocking the publisher.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

// MessagePublisher forwards messages to other instances.
type MessagePublisher interface {
	Publish(ctx context.Context, message RealtimeMessage) error
}

// ChangeBroadcaster turns committed curriculum changes into realtime messages for local
// subscribers and, when a bus is configured, for other instances.
type ChangeBroadcaster struct {
	dispatcher *RealtimeDispatcher
	bus        MessagePublisher
	origin     string
	logger     *zap.Logger
}

func NewChangeBroadcaster(dispatcher *RealtimeDispatcher, bus MessagePublisher, origin string, logger *zap.Logger) *ChangeBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if origin == "" {
		origin = realtimeSourceBackend
	}
	return &ChangeBroadcaster{dispatcher: dispatcher, bus: bus, origin: origin, logger: logger}
}

// NotifyChange implements curriculum.ChangeNotifier.
func (b *ChangeBroadcaster) NotifyChange(ctx context.Context, event curriculum.ChangeEvent) {
	message := RealtimeMessage{
		EventType: RealtimeEventCurriculumChanged,
		Entity:    event.Entity,
		Operation: event.Operation,
		IDs:       event.IDs,
		Timestamp: event.Timestamp,
		Origin:    b.origin,
	}
	if b.dispatcher != nil {
		b.dispatcher.Publish(message)
	}
	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(context.WithoutCancel(ctx), message); err != nil {
		b.logger.Warn("realtime bus publish failed",
			zap.String("entity", event.Entity),
			zap.String("operation", event.Operation),
			zap.Error(err))
	}
}

// Relay returns the forwarder callback that re-publishes bus messages from other instances into
// the local dispatcher.
func (b *ChangeBroadcaster) Relay() func(RealtimeMessage) {
	return func(message RealtimeMessage) {
		if message.Origin == b.origin || b.dispatcher == nil {
			return
		}
		b.dispatcher.Publish(message)
	}
}
