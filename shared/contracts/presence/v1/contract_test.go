package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	ok := Envelope{V: Version, Type: TypeHello, ID: "01H", TS: time.Now(), Payload: json.RawMessage(`{}`)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Envelope)
	}{
		{"version", func(e *Envelope) { e.V = "v0" }},
		{"type", func(e *Envelope) { e.Type = "" }},
		{"server type", func(e *Envelope) { e.Type = TypePresenceEvent }},
		{"id", func(e *Envelope) { e.ID = " " }},
		{"ts", func(e *Envelope) { e.TS = time.Time{} }},
		{"payload", func(e *Envelope) { e.Payload = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ok
			tt.mut(&e)
			if err := e.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
