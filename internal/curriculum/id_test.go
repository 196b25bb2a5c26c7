package curriculum

import (
	"testing"

	"github.com/google/uuid"
)

func TestUUIDProviderIssuesVersionSevenIDs(t *testing.T) {
	provider := NewUUIDProvider()
	first, err := provider.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	second, err := provider.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	parsed, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("expected uuid, got %q: %v", first, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if first == second {
		t.Fatalf("expected distinct ids, got %s twice", first)
	}
}
