package notes

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayBounds(t *testing.T) {
	tests := []struct {
		name      string
		day       string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{
			name:      "regular day",
			day:       "2025-12-14",
			wantStart: "2025-12-14T00:00:00Z",
			wantEnd:   "2025-12-15T00:00:00Z",
		},
		{
			name:      "month boundary",
			day:       "2025-01-31",
			wantStart: "2025-01-31T00:00:00Z",
			wantEnd:   "2025-02-01T00:00:00Z",
		},
		{
			name:      "year boundary",
			day:       "2024-12-31",
			wantStart: "2024-12-31T00:00:00Z",
			wantEnd:   "2025-01-01T00:00:00Z",
		},
		{
			name:      "leap day",
			day:       "2024-02-29",
			wantStart: "2024-02-29T00:00:00Z",
			wantEnd:   "2024-03-01T00:00:00Z",
		},
		{name: "not a date", day: "yesterday", wantErr: true},
		{name: "wrong format", day: "14-12-2025", wantErr: true},
		{name: "out of range day", day: "2025-02-30", wantErr: true},
		{name: "empty", day: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := DayBounds(tt.day, time.UTC)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start.Format(time.RFC3339))
			assert.Equal(t, tt.wantEnd, end.Format(time.RFC3339))
		})
	}
}

func TestDayBoundsNilLocationDefaultsUTC(t *testing.T) {
	start, _, err := DayBounds("2025-06-01", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, start.Location())
}

func TestDayBoundsHalfOpen(t *testing.T) {
	start, end, err := DayBounds("2025-12-14", time.UTC)
	require.NoError(t, err)

	inside := time.Date(2025, 12, 14, 23, 59, 59, 999999999, time.UTC)
	assert.True(t, !inside.Before(start) && inside.Before(end))

	nextMidnight := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	assert.False(t, nextMidnight.Before(end))
}
