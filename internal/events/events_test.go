package events

import (
	"context"
	"encoding/json"
	"testing"
)

func TestEncodeKeysByWorld(t *testing.T) {
	e := New(StagingApproved, "w1", "s1", map[string]any{"region_id": "r1"})
	msg, err := encode(e)
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "w1" {
		t.Errorf("key = %q, want w1", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != StagingApproved {
		t.Errorf("headers = %+v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.EventID != e.EventID || decoded.Payload["region_id"] != "r1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestKafkaPublishRejectsIncompleteEvent(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "tablestage.events", nil)
	defer p.Close()
	if err := p.Publish(context.Background(), Event{EventType: SessionJoined}); err == nil {
		t.Error("expected error for event without id and world")
	}
}

func TestMemoryFiltersByType(t *testing.T) {
	m := &Memory{}
	ctx := context.Background()
	_ = m.Publish(ctx, New(SessionJoined, "w", "s", nil))
	_ = m.Publish(ctx, New(TimeAdvanced, "w", "s", nil))
	if got := len(m.Events(SessionJoined)); got != 1 {
		t.Errorf("joined events = %d", got)
	}
	if got := len(m.Events("")); got != 2 {
		t.Errorf("all events = %d", got)
	}
}
