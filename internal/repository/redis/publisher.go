// Package redis publishes scheduler events over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
	"github.com/limiquantix/drsim/internal/domain"
)

// Event types published on the channel.
const (
	EventPassCompleted      = "drs.pass.completed"
	EventMigrationPlanned   = "drs.migration.planned"
	EventHostPoweredOff     = "drs.host.powered_off"
	EventExecutionAborted   = "drs.execution.aborted"
	EventPlanningInfeasible = "drs.planning.infeasible"
)

// Event represents a real-time event.
type Event struct {
	Type       string          `json:"type"`
	ResourceID string          `json:"resource_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Publisher wraps a Redis client for pub/sub of scheduler events.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewPublisher creates a new Redis connection.
func NewPublisher(cfg config.RedisConfig, logger *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()), zap.String("channel", cfg.Channel))

	return newPublisher(client, cfg.Channel, logger), nil
}

func newPublisher(client *redis.Client, channel string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "redis")),
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Health checks if Redis is reachable.
func (p *Publisher) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish publishes an event to the configured channel.
func (p *Publisher) Publish(ctx context.Context, eventType, resourceID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	payload, err := json.Marshal(Event{
		Type:       eventType,
		ResourceID: resourceID,
		Data:       raw,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}

// PublishPass publishes the result of a pass, followed by one event per planned
// migration and per powered-off host.
func (p *Publisher) PublishPass(ctx context.Context, result *domain.SchedulerResult) error {
	eventType := EventPassCompleted
	switch result.State {
	case domain.SchedulerStateReconfigurationFailed:
		eventType = EventPlanningInfeasible
	case domain.SchedulerStatePlanAborted:
		eventType = EventExecutionAborted
	}

	if err := p.Publish(ctx, eventType, result.ID, result); err != nil {
		return err
	}

	for _, m := range result.Migrations {
		if err := p.Publish(ctx, EventMigrationPlanned, m.VM, m); err != nil {
			return err
		}
	}
	for _, host := range result.PoweredOff {
		if err := p.Publish(ctx, EventHostPoweredOff, host, map[string]string{"host": host, "pass_id": result.ID}); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe subscribes to the channel and returns an event channel. The channel is
// closed when ctx is done.
func (p *Publisher) Subscribe(ctx context.Context) <-chan Event {
	pubsub := p.client.Subscribe(ctx, p.channel)
	events := make(chan Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Payload)
				if err != nil {
					p.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("failed to decode event: missing type")
	}
	return event, nil
}
