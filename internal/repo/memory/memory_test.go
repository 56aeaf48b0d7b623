package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/andronoma-labs/andronoma-go/internal/domain"
	"github.com/andronoma-labs/andronoma-go/internal/repo"
)

func appendEntry(t *testing.T, s *LogStore, runID uuid.UUID, at time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := s.Append(context.Background(), domain.LogEntry{
		ID:        id,
		RunID:     runID,
		CreatedAt: at,
		Level:     domain.LogLevelInfo,
		Message:   "line",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func TestLogStorePagination(t *testing.T) {
	s := NewLogStore()
	runID := uuid.New()
	base := time.Now().UTC()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, appendEntry(t, s, runID, base.Add(time.Duration(i)*time.Millisecond)))
	}

	page, err := s.List(context.Background(), runID, 2, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Entries) != 2 || page.Entries[0].ID != ids[0] || page.Entries[1].ID != ids[1] {
		t.Fatalf("first page = %v, want entries 1-2", page.Entries)
	}
	if page.NextCursor == nil || *page.NextCursor != ids[1] {
		t.Fatalf("NextCursor = %v, want %s", page.NextCursor, ids[1])
	}

	page, err = s.List(context.Background(), runID, 2, page.NextCursor)
	if err != nil {
		t.Fatalf("List after cursor: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].ID != ids[2] {
		t.Fatalf("second page = %v, want only entry 3", page.Entries)
	}
	if page.NextCursor != nil {
		t.Fatalf("NextCursor = %v, want nil on the final page", page.NextCursor)
	}
}

func TestLogStoreForeignCursor(t *testing.T) {
	s := NewLogStore()
	runA := uuid.New()
	runB := uuid.New()
	now := time.Now().UTC()
	appendEntry(t, s, runA, now)
	foreign := appendEntry(t, s, runB, now)

	_, err := s.List(context.Background(), runA, 10, &foreign)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("List with foreign cursor err=%v, want ErrNotFound", err)
	}
}

func TestLogStoreOrdersTimestampTies(t *testing.T) {
	s := NewLogStore()
	runID := uuid.New()
	at := time.Now().UTC()

	a := appendEntry(t, s, runID, at)
	b := appendEntry(t, s, runID, at)

	page, err := s.List(context.Background(), runID, 10, nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(page.Entries))
	}
	// Equal timestamps break ties on the id bytes, so the order is fixed
	// regardless of insertion order.
	first, second := page.Entries[0].ID, page.Entries[1].ID
	if !(first == a && second == b) && !(first == b && second == a) {
		t.Fatalf("entries = %v, want %s and %s", page.Entries, a, b)
	}
	for i := range first {
		if first[i] != second[i] {
			if first[i] > second[i] {
				t.Fatalf("tie order %s before %s not byte-ascending", first, second)
			}
			break
		}
	}
}
