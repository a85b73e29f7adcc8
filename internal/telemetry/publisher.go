// Package telemetry publishes periodic device status over MQTT so a fleet
// backend can watch wearables without polling each one's diagnostics API.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartcap-data/capsense/internal/alert"
	"github.com/smartcap-data/capsense/internal/device"
	"github.com/smartcap-data/capsense/internal/monitoring"
)

// DefaultPublishInterval is how often a status message goes out when the
// config does not say otherwise.
const DefaultPublishInterval = 30 * time.Second

// publishClient is the slice of mqtt.Client the publisher needs. Narrowed
// so tests can substitute a fake without a broker.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// StatusMessage is the JSON payload published on the status topic.
type StatusMessage struct {
	DeviceID      string `json:"device_id"`
	Mode          string `json:"mode"`
	AlertLevel    string `json:"alert_level"`
	DistanceMM    uint32 `json:"distance_mm"`
	DistanceValid bool   `json:"distance_valid"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// Publisher periodically publishes device status to an MQTT topic.
type Publisher struct {
	client publishClient
	closer func()
	topic  string
	state  *device.State
}

// NewPublisher connects to the broker and returns a Publisher. The device
// session ID doubles as the MQTT client ID so a fleet backend can tell
// reconnects apart from new devices.
func NewPublisher(broker, topic string, state *device.State) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("capsense-" + state.ID())
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("mqtt connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", broker, token.Error())
	}

	return &Publisher{
		client: client,
		closer: func() { client.Disconnect(250) },
		topic:  topic,
		state:  state,
	}, nil
}

// BuildStatus snapshots the device state into a publishable message.
func (p *Publisher) BuildStatus(now time.Time) StatusMessage {
	dist, valid := p.state.LastDistanceMM()
	sent, dropped := p.state.FrameCounts()
	return StatusMessage{
		DeviceID:      p.state.ID(),
		Mode:          p.state.Mode().String(),
		AlertLevel:    alert.Level(p.state.AlertLevel()).String(),
		DistanceMM:    dist,
		DistanceValid: valid,
		FramesSent:    sent,
		FramesDropped: dropped,
		UptimeSeconds: int64(p.state.Uptime().Seconds()),
		Timestamp:     now.UTC().Format(time.RFC3339),
	}
}

// PublishOnce sends one status message. Best-effort: a disconnected client
// just drops the message and the next interval tries again.
func (p *Publisher) PublishOnce(now time.Time) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	payload, err := json.Marshal(p.BuildStatus(now))
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}
	return nil
}

// Run publishes at the given interval until the context is cancelled.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := p.PublishOnce(now); err != nil {
				monitoring.Logf("status publish failed: %v", err)
			}
		}
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
