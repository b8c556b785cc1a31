package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeHistory struct {
	calls []string
	err   error
}

func (f *fakeHistory) Record(_ context.Context, deviceID string, _ float64) error {
	f.calls = append(f.calls, deviceID)
	return f.err
}

type fakePublisher struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) PublishRetained(topic string, payload []byte) error {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return f.err
}

type fakePointWriter struct {
	devices []string
	values  []float64
}

func (f *fakePointWriter) WriteTemperature(deviceID string, value float64) {
	f.devices = append(f.devices, deviceID)
	f.values = append(f.values, value)
}

type fakeLogger struct {
	warnings int
}

func (f *fakeLogger) Warn(_ string, _ ...any) { f.warnings++ }

func TestRecordHistoryOnly(t *testing.T) {
	history := &fakeHistory{}
	rec := NewRecorder(history)

	if err := rec.Record(context.Background(), "alice:sensor1", 21.5); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(history.calls) != 1 || history.calls[0] != "alice:sensor1" {
		t.Errorf("history calls = %v", history.calls)
	}
}

func TestRecordHistoryFailureReturned(t *testing.T) {
	history := &fakeHistory{err: errors.New("disk full")}
	rec := NewRecorder(history)
	pub := &fakePublisher{}
	rec.SetPublisher(pub)

	if err := rec.Record(context.Background(), "alice:sensor1", 21.5); err == nil {
		t.Fatal("expected error when history write fails")
	}
	if len(pub.topics) != 0 {
		t.Error("publish should not happen when history write fails")
	}
}

func TestRecordFansOut(t *testing.T) {
	history := &fakeHistory{}
	rec := NewRecorder(history)
	pub := &fakePublisher{}
	points := &fakePointWriter{}
	rec.SetPublisher(pub)
	rec.SetPointWriter(points)

	if err := rec.Record(context.Background(), "alice:sensor1", 21.5); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "graylogic/hub/telemetry/alice:sensor1" {
		t.Errorf("publish topics = %v", pub.topics)
	}
	var got reading
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if got.DeviceID != "alice:sensor1" || got.Value != 21.5 {
		t.Errorf("payload = %+v", got)
	}
	if got.RecordedAt.IsZero() {
		t.Error("payload has zero timestamp")
	}

	if len(points.devices) != 1 || points.devices[0] != "alice:sensor1" || points.values[0] != 21.5 {
		t.Errorf("point writes = %v %v", points.devices, points.values)
	}
}

func TestPresencePublishesRetained(t *testing.T) {
	rec := NewRecorder(&fakeHistory{})
	pub := &fakePublisher{}
	rec.SetPublisher(pub)

	if err := rec.Presence(context.Background(), "alice:sensor1", true); err != nil {
		t.Fatalf("Presence: %v", err)
	}
	if err := rec.Presence(context.Background(), "alice:sensor1", false); err != nil {
		t.Fatalf("Presence: %v", err)
	}

	if len(pub.topics) != 2 || pub.topics[0] != "graylogic/hub/presence/alice:sensor1" {
		t.Fatalf("publish topics = %v", pub.topics)
	}
	var online, offline presence
	if err := json.Unmarshal(pub.payloads[0], &online); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if err := json.Unmarshal(pub.payloads[1], &offline); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if !online.Online || offline.Online {
		t.Errorf("online payload = %+v, offline payload = %+v", online, offline)
	}
	if online.DeviceID != "alice:sensor1" || online.Since.IsZero() {
		t.Errorf("payload = %+v", online)
	}
}

func TestPresenceWithoutPublisherIsNoOp(t *testing.T) {
	rec := NewRecorder(&fakeHistory{})

	if err := rec.Presence(context.Background(), "alice:sensor1", true); err != nil {
		t.Fatalf("Presence without publisher: %v", err)
	}
}

func TestRecordPublishFailureIsBestEffort(t *testing.T) {
	history := &fakeHistory{}
	rec := NewRecorder(history)
	rec.SetPublisher(&fakePublisher{err: errors.New("broker down")})
	logger := &fakeLogger{}
	rec.SetLogger(logger)

	if err := rec.Record(context.Background(), "alice:sensor1", 21.5); err != nil {
		t.Fatalf("Record should succeed despite publish failure: %v", err)
	}
	if logger.warnings != 1 {
		t.Errorf("got %d warnings, want 1", logger.warnings)
	}
}
