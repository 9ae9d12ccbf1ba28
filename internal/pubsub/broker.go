// Package pubsub is the in-process trigger channel. Publishers announce that new
// bars exist for an instrument; subscribers react by running pipelines. Messages
// carry only identifiers, never data.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	apperrors "featureflow/internal/errors"
	"featureflow/internal/infrastructure"
)

// Topics
const (
	TopicOHLCV     = "ohlcv"
	TopicVpinOHLCV = "vpin_ohlcv"
)

// Topics lists every topic the broker accepts.
var Topics = []string{TopicOHLCV, TopicVpinOHLCV}

// Message is a trigger. VpinID is zero on the ohlcv topic.
type Message struct {
	Topic        string `json:"topic" validate:"required,oneof=ohlcv vpin_ohlcv"`
	Source       string `json:"source,omitempty"`
	InstrumentID int64  `json:"instrument_id" validate:"required,gt=0"`
	VpinID       int64  `json:"vpin_id,omitempty" validate:"gte=0"`
	TraceID      string `json:"trace_id,omitempty"`
}

// Validate checks topic-specific fields.
func (m Message) Validate() error {
	switch m.Topic {
	case TopicOHLCV:
	case TopicVpinOHLCV:
		if m.VpinID <= 0 {
			return apperrors.NewInvalidParameterError("vpin_id", m.VpinID)
		}
	default:
		return apperrors.NewInvalidParameterError("topic", m.Topic)
	}
	if m.InstrumentID <= 0 {
		return apperrors.NewInvalidParameterError("instrument_id", m.InstrumentID)
	}
	return nil
}

// Decode parses a JSON trigger and validates it.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, apperrors.NewAppValidationError("malformed trigger: " + err.Error())
	}
	return m, m.Validate()
}

// Handler processes one message. It runs on the subscription's goroutine.
type Handler func(ctx context.Context, msg Message)

type subscription struct {
	name    string
	topic   string
	ch      chan Message
	handler Handler
	done    chan struct{}
}

// Broker fans messages out to per-subscriber buffered queues. A full queue drops
// the message for that subscriber only.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string][]*subscription
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *infrastructure.PipelineMetrics
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBroker creates a broker. metrics may be nil.
func NewBroker(logger *slog.Logger, metrics *infrastructure.PipelineMetrics) *Broker {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		subs:    make(map[string][]*subscription),
		logger:  logger.With(slog.String("component", "pubsub")),
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers h on topic with a queue of buffer messages and returns a
// function that removes the subscription.
func (b *Broker) Subscribe(topic, name string, buffer int, h Handler) (func(), error) {
	if !knownTopic(topic) {
		return nil, apperrors.NewInvalidParameterError("topic", topic)
	}
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, apperrors.NewAppError(apperrors.ErrTypeConfig, "broker closed", nil)
	}

	sub := &subscription{
		name:    name,
		topic:   topic,
		ch:      make(chan Message, buffer),
		handler: h,
		done:    make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.wg.Add(1)
	go b.run(sub)

	b.logger.Info("subscribed", slog.String("topic", topic), slog.String("subscriber", name))
	return func() { b.unsubscribe(sub) }, nil
}

func (b *Broker) run(sub *subscription) {
	defer b.wg.Done()
	defer close(sub.done)
	for msg := range sub.ch {
		ctx := b.ctx
		if msg.TraceID != "" {
			ctx = infrastructure.WithTraceID(ctx, msg.TraceID)
		}
		b.dispatch(ctx, sub, msg)
	}
}

// dispatch shields the subscriber loop from handler panics.
func (b *Broker) dispatch(ctx context.Context, sub *subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "subscriber panicked",
				slog.String("subscriber", sub.name),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	sub.handler(ctx, msg)
}

func (b *Broker) unsubscribe(sub *subscription) {
	b.mu.Lock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			close(sub.ch)
			break
		}
	}
	b.mu.Unlock()
	<-sub.done
}

// Publish delivers msg to every subscriber of its topic without blocking.
func (b *Broker) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.TraceID == "" {
		msg.TraceID = infrastructure.GetTraceID(ctx)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return apperrors.NewAppError(apperrors.ErrTypeConfig, "broker closed", nil)
	}

	b.metrics.RecordTrigger(ctx, msg.Topic)
	for _, sub := range b.subs[msg.Topic] {
		select {
		case sub.ch <- msg:
		default:
			b.logger.WarnContext(ctx, "subscriber queue full, dropping trigger",
				slog.String("topic", msg.Topic),
				slog.String("subscriber", sub.name),
				slog.Int64("instrument_id", msg.InstrumentID))
		}
	}
	return nil
}

// SubscriberCount returns the number of subscribers on topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close stops accepting messages, drains queued ones and waits for handlers.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for topic, list := range b.subs {
		for _, sub := range list {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.cancel()
	b.logger.Info("broker closed")
}

func knownTopic(topic string) bool {
	for _, t := range Topics {
		if t == topic {
			return true
		}
	}
	return false
}
