package protocol

import (
	"testing"

	"github.com/tabletop-sync/lifesync/internal/models"
)

func TestEncode_Rejects(t *testing.T) {
	if _, err := Encode("", models.SessionDocument{}); err == nil {
		t.Error("Expected error for empty type")
	}
	if _, err := Encode(MsgSnapshot, nil); err == nil {
		t.Error("Expected error for nil payload")
	}
}

func TestDecode_Snapshot(t *testing.T) {
	frame, err := Encode(MsgSnapshot, models.SessionDocument{ID: "s1", LastUpdate: 3})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.T != MsgSnapshot {
		t.Errorf("Expected type %q, got %q", MsgSnapshot, env.T)
	}
	doc, err := DecodePayload[models.SessionDocument](env)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if doc.ID != "s1" || doc.LastUpdate != 3 {
		t.Errorf("Unexpected document %+v", doc)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "empty", frame: nil},
		{name: "not json", frame: []byte("snapshot")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEnvelope(tt.frame); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := DecodePayload[models.SessionDocument](Envelope{T: MsgSnapshot}); err == nil {
		t.Error("Expected error for empty payload")
	}
}
