package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// Publisher is the outbound side of the vehicle bus. Satisfied by the
// ingest MQTT client.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// LocalAlarm drives the in-cabin alarm over the vehicle bus. The contact
// address is ignored; the alarm topic is fixed per vehicle.
type LocalAlarm struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

func NewLocalAlarm(publisher Publisher, topic string, logger *zap.Logger) *LocalAlarm {
	return &LocalAlarm{publisher: publisher, topic: topic, logger: logger}
}

func (a *LocalAlarm) Name() string { return "local" }

func (a *LocalAlarm) Send(ctx context.Context, _ models.StakeholderContact, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alarm payload: %w", err)
	}
	// QoS 1: the cabin alarm must not be lost to a flaky bus link.
	if err := a.publisher.Publish(a.topic, 1, false, payload); err != nil {
		return fmt.Errorf("failed to publish cabin alarm: %w", err)
	}
	a.logger.Info("cabin alarm published",
		zap.String("session_id", msg.SessionID),
		zap.String("alarm_level", msg.AlarmLevel),
		zap.Bool("resolved", msg.Resolved))
	return nil
}
