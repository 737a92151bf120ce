// Package notes provides read-only access to the notes store.
package notes

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrUnavailable indicates the backing store is unreachable or timed out.
	ErrUnavailable = errors.New("notes store unavailable")

	// ErrInvalidDay indicates a day string that does not parse as YYYY-MM-DD.
	ErrInvalidDay = errors.New("invalid day format")
)

// Note is a single stored note. Notes are written by an external
// ingestion pipeline; this system never mutates them.
type Note struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// SearchResult pairs a note with its distance to a query vector.
// Smaller distance means closer match.
type SearchResult struct {
	Note       Note    `json:"note"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// Store is the read-only contract over the notes table.
type Store interface {
	// NotesByDay returns all notes whose timestamp falls within the
	// given calendar day, ordered by timestamp ascending.
	NotesByDay(ctx context.Context, day string) ([]Note, error)

	// AllNotes returns every note ordered by timestamp ascending.
	AllNotes(ctx context.Context) ([]Note, error)

	// SearchByVector returns up to limit notes nearest to the query
	// vector, ordered by increasing distance with timestamp descending
	// as the tie-breaker.
	SearchByVector(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
}

// DayBounds parses a YYYY-MM-DD day string into the half-open interval
// [start of day, start of next day) in the given location.
func DayBounds(day string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return start, start.AddDate(0, 0, 1), nil
}
