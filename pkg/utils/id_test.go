package utils

import (
	"strings"
	"testing"
)

func TestGenerateParticipantID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateParticipantID()
		if seen[id] {
			t.Fatalf("duplicate participant id generated: %s", id)
		}
		seen[id] = true

		if strings.Contains(id, "_") {
			t.Fatalf("participant id must not contain underscores, got %q", id)
		}
	}
}

func TestGenerateRelayStreamID_Shape(t *testing.T) {
	id := GenerateRelayStreamID("u42", 3)
	if id != "sfu_u42_3" {
		t.Fatalf("unexpected relay id: %s", id)
	}
	if parts := strings.Split(id, "_"); len(parts) != 3 {
		t.Fatalf("relay id must have exactly three segments, got %d", len(parts))
	}

	// Packing a generated participant id keeps the three-segment shape.
	packed := GenerateRelayStreamID(GenerateParticipantID(), 1)
	if parts := strings.Split(packed, "_"); len(parts) != 3 {
		t.Fatalf("packed relay id must have exactly three segments, got %d", len(parts))
	}
}

func TestGeneratePreviewToken_NoSlashes(t *testing.T) {
	token := GeneratePreviewToken()
	if token == "" || strings.Contains(token, "/") {
		t.Fatalf("preview token must be non-empty and path-safe, got %q", token)
	}
}
