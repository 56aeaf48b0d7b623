package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Actor:      "alice",
		Action:     "auth.forbidden",
		Resource:   "POST /runs",
		RequestID:  "req-123",
		IP:         net.ParseIP("192.0.2.1"),
		UserAgent:  "test-agent",
	}
	payloadJSON := []byte(`{"a":1,"b":"x"}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnPayload(t *testing.T) {
	event := Event{
		OccurredAt: time.Unix(1700000000, 0).UTC(),
		Actor:      "alice",
		Action:     "auth.forbidden",
		Resource:   "POST /runs",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{
		OccurredAt: time.Now().UTC(),
		Actor:      "alice",
		Action:     "auth.unauthenticated",
		Resource:   "GET /runs",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	for name, mutate := range map[string]func(*Event){
		"actor":    func(e *Event) { e.Actor = " " },
		"action":   func(e *Event) { e.Action = "" },
		"resource": func(e *Event) { e.Resource = "" },
		"time":     func(e *Event) { e.OccurredAt = time.Time{} },
	} {
		event := valid
		mutate(&event)
		if err := event.Validate(); err == nil {
			t.Fatalf("Validate() expected error for missing %s", name)
		}
	}
}
