package eventlog

import (
	"testing"
	"time"
)

func TestEventValidate(t *testing.T) {
	valid := Event{
		OccurredAt:  time.Unix(1700000000, 0).UTC(),
		Source:      "orchestrator",
		Kind:        KindStateChanged,
		SubjectType: "execution",
		SubjectID:   "exec-1",
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *Event) {}},
		{name: "missing occurred_at", mutate: func(e *Event) { e.OccurredAt = time.Time{} }, wantErr: true},
		{name: "missing source", mutate: func(e *Event) { e.Source = "" }, wantErr: true},
		{name: "missing kind", mutate: func(e *Event) { e.Kind = " " }, wantErr: true},
		{name: "missing subject type", mutate: func(e *Event) { e.SubjectType = "" }, wantErr: true},
		{name: "missing subject id", mutate: func(e *Event) { e.SubjectID = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := valid
			tt.mutate(&event)
			err := event.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestComputeIntegritySHA256(t *testing.T) {
	event := Event{
		OccurredAt:  time.Unix(1700000000, 0).UTC(),
		Source:      "watcher",
		RequestID:   "req-1",
		Kind:        KindObjectCreated,
		SubjectType: "object",
		SubjectID:   "aggregated/2024/01/window.csv",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"size":128}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"size":128}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}

	c, err := ComputeIntegritySHA256(event, []byte(`{"size":256}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == c {
		t.Fatalf("expected integrity to differ on detail change")
	}
}
