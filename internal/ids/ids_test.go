package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewIsSortableAndValid(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAt(base)
	b := NewAt(base.Add(time.Millisecond))
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ids, got %q %q", a, b)
	}
	if a >= b {
		t.Fatalf("expected %q < %q", a, b)
	}
	if Valid("not-an-id") {
		t.Fatal("unexpected valid id")
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRequestID(t *testing.T) {
	if _, err := uuid.Parse(RequestID()); err != nil {
		t.Fatalf("request id is not a uuid: %v", err)
	}
}
