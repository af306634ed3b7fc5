package ingest

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// Subscriber is the inbound side of the vehicle bus.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// vehicleTelemetry is the bus payload published by the vehicle gateway.
type vehicleTelemetry struct {
	ErraticSteering bool    `json:"erratic_steering"`
	SpeedKMH        float64 `json:"speed_kmh"`
}

// VehicleBus feeds steering and speed telemetry into the detection path.
// Telemetry corroborates camera evidence; it never triggers alone.
type VehicleBus struct {
	subscriber Subscriber
	topic      string
	onFlags    func(models.VehicleFlags)
	logger     *zap.Logger
}

func NewVehicleBus(subscriber Subscriber, topic string, onFlags func(models.VehicleFlags), logger *zap.Logger) *VehicleBus {
	return &VehicleBus{subscriber: subscriber, topic: topic, onFlags: onFlags, logger: logger}
}

// Start subscribes to the telemetry topic.
func (b *VehicleBus) Start() error {
	if err := b.subscriber.Subscribe(b.topic, 0, b.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to vehicle telemetry: %w", err)
	}
	b.logger.Info("vehicle telemetry subscription active", zap.String("topic", b.topic))
	return nil
}

func (b *VehicleBus) handleMessage(topic string, payload []byte) error {
	var telemetry vehicleTelemetry
	if err := json.Unmarshal(payload, &telemetry); err != nil {
		return fmt.Errorf("failed to parse vehicle telemetry: %w", err)
	}
	b.onFlags(models.VehicleFlags{
		ErraticSteering: telemetry.ErraticSteering,
		SpeedKMH:        telemetry.SpeedKMH,
	})
	return nil
}
