package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// StreamRecorder publishes audit events to Redis Streams so external
// consumers (fleet dashboards, incident pipelines) can follow the session
// in near real time.
type StreamRecorder struct {
	client           *redis.Client
	transitionStream string
	alertStream      string
	logger           *zap.Logger
}

func NewStreamRecorder(client *redis.Client, transitionStream, alertStream string, logger *zap.Logger) *StreamRecorder {
	return &StreamRecorder{
		client:           client,
		transitionStream: transitionStream,
		alertStream:      alertStream,
		logger:           logger,
	}
}

func (r *StreamRecorder) RecordTransition(ctx context.Context, event models.StateTransitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.transitionStream,
		Values: map[string]interface{}{
			"event_id":   event.EventID,
			"session_id": event.SessionID,
			"from":       string(event.From),
			"to":         string(event.To),
			"payload":    string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish transition to stream: %w", err)
	}

	r.logger.Debug("transition published to stream",
		zap.String("stream", r.transitionStream),
		zap.String("message_id", id))
	return nil
}

func (r *StreamRecorder) RecordAlert(ctx context.Context, event models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.alertStream,
		Values: map[string]interface{}{
			"event_id":   event.EventID,
			"session_id": event.SessionID,
			"tier":       event.Tier,
			"outcome":    string(event.Outcome),
			"payload":    string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish alert to stream: %w", err)
	}

	r.logger.Debug("alert published to stream",
		zap.String("stream", r.alertStream),
		zap.String("message_id", id))
	return nil
}
