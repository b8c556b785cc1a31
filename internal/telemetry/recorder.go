// Package telemetry fans out accepted temperature reports to the
// configured sinks: the SQLite history table always, plus the MQTT broker
// and InfluxDB when those integrations are enabled.
//
// Sink failures beyond the history write are logged and swallowed. A broker
// outage must never turn a valid ET command into a device-visible error.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// HistoryWriter persists readings durably. Failures here are returned to
// the caller, unlike the best-effort broadcast sinks.
type HistoryWriter interface {
	Record(ctx context.Context, deviceID string, value float64) error
}

// Publisher pushes retained telemetry messages to an MQTT broker.
// Satisfied by *mqtt.Client.
type Publisher interface {
	PublishRetained(topic string, payload []byte) error
}

// PointWriter exports readings as time-series points.
// Satisfied by *influxdb.Client.
type PointWriter interface {
	WriteTemperature(deviceID string, value float64)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// reading is the JSON shape published to the broker.
type reading struct {
	DeviceID   string    `json:"device_id"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// presence is the JSON shape published on device connect and disconnect.
type presence struct {
	DeviceID string    `json:"device_id"`
	Online   bool      `json:"online"`
	Since    time.Time `json:"since"`
}

// Recorder routes each accepted temperature report to every configured sink.
type Recorder struct {
	history HistoryWriter

	mu        sync.RWMutex
	publisher Publisher
	points    PointWriter
	logger    Logger
}

// NewRecorder creates a recorder with the mandatory history sink.
// Optional sinks are attached with SetPublisher and SetPointWriter.
func NewRecorder(history HistoryWriter) *Recorder {
	return &Recorder{history: history}
}

// SetPublisher attaches an MQTT sink. Pass nil to detach.
func (r *Recorder) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

// SetPointWriter attaches an InfluxDB sink. Pass nil to detach.
func (r *Recorder) SetPointWriter(w PointWriter) {
	r.mu.Lock()
	r.points = w
	r.mu.Unlock()
}

// SetLogger sets a logger for sink failure warnings.
// If not set, broadcast failures are silently dropped.
func (r *Recorder) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Record persists one accepted reading and broadcasts it to the optional
// sinks. The history write is authoritative: its error is returned.
// Broker and time-series failures are logged and do not fail the call.
func (r *Recorder) Record(ctx context.Context, deviceID string, value float64) error {
	if err := r.history.Record(ctx, deviceID, value); err != nil {
		return fmt.Errorf("recording reading: %w", err)
	}

	r.mu.RLock()
	publisher := r.publisher
	points := r.points
	logger := r.logger
	r.mu.RUnlock()

	if publisher != nil {
		payload, err := json.Marshal(reading{
			DeviceID:   deviceID,
			Value:      value,
			RecordedAt: time.Now().UTC(),
		})
		if err == nil {
			err = publisher.PublishRetained(mqtt.Topics{}.Telemetry(deviceID), payload)
		}
		if err != nil && logger != nil {
			logger.Warn("telemetry publish failed", "device_id", deviceID, "error", err)
		}
	}

	if points != nil {
		points.WriteTemperature(deviceID, value)
	}

	return nil
}

// Presence publishes the device's online state as a retained message, so
// a subscriber joining later still sees the current state. Without a
// publisher attached it is a no-op.
func (r *Recorder) Presence(ctx context.Context, deviceID string, online bool) error {
	r.mu.RLock()
	publisher := r.publisher
	r.mu.RUnlock()

	if publisher == nil {
		return nil
	}

	payload, err := json.Marshal(presence{
		DeviceID: deviceID,
		Online:   online,
		Since:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding presence: %w", err)
	}
	return publisher.PublishRetained(mqtt.Topics{}.DevicePresence(deviceID), payload)
}
