package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestHalfDay(t *testing.T) {
	t.Run("morning instant maps to 00 window", func(t *testing.T) {
		w := HalfDay(utc(2025, time.January, 10, 9, 30))
		assert.Equal(t, "2025-01-10T00", w.Key)
		assert.Equal(t, utc(2025, time.January, 10, 0, 0), w.Start)
		assert.Equal(t, utc(2025, time.January, 10, 12, 0), w.EndExclusive)
	})

	t.Run("afternoon instant maps to 12 window", func(t *testing.T) {
		w := HalfDay(utc(2025, time.January, 10, 12, 0))
		assert.Equal(t, "2025-01-10T12", w.Key)
		assert.Equal(t, utc(2025, time.January, 10, 12, 0), w.Start)
		assert.Equal(t, utc(2025, time.January, 11, 0, 0), w.EndExclusive)
	})

	t.Run("exact noon boundary belongs to the later window", func(t *testing.T) {
		before := HalfDay(utc(2025, time.June, 1, 12, 0).Add(-time.Nanosecond))
		after := HalfDay(utc(2025, time.June, 1, 12, 0))
		assert.Equal(t, "2025-06-01T00", before.Key)
		assert.Equal(t, "2025-06-01T12", after.Key)
	})

	t.Run("non-UTC input is converted", func(t *testing.T) {
		loc := time.FixedZone("UTC+5", 5*3600)
		// 03:00 at UTC+5 is 22:00 UTC the previous day.
		w := HalfDay(time.Date(2025, time.March, 2, 3, 0, 0, 0, loc))
		assert.Equal(t, "2025-03-01T12", w.Key)
	})
}

func TestHalfDayFromKey(t *testing.T) {
	t.Run("round trips exactly", func(t *testing.T) {
		for _, instant := range []time.Time{
			utc(2025, time.January, 10, 0, 0),
			utc(2025, time.January, 10, 11, 59),
			utc(2025, time.December, 31, 23, 59),
			utc(2024, time.February, 29, 13, 0), // leap day
		} {
			w := HalfDay(instant)
			got, err := HalfDayFromKey(w.Key)
			require.NoError(t, err)
			assert.Equal(t, w, got)
		}
	})

	t.Run("rejects hours other than 00 and 12", func(t *testing.T) {
		_, err := HalfDayFromKey("2025-01-10T07")
		assert.Error(t, err)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := HalfDayFromKey("not-a-key")
		assert.Error(t, err)
	})
}

func TestPreviousHalfDay(t *testing.T) {
	t.Run("previous of a morning window is the prior evening", func(t *testing.T) {
		w := PreviousHalfDay(utc(2025, time.January, 10, 3, 0))
		assert.Equal(t, "2025-01-09T12", w.Key)
	})

	t.Run("previous of an afternoon window is the same morning", func(t *testing.T) {
		w := PreviousHalfDay(utc(2025, time.January, 10, 15, 0))
		assert.Equal(t, "2025-01-10T00", w.Key)
	})

	t.Run("crosses month boundaries", func(t *testing.T) {
		w := PreviousHalfDay(utc(2025, time.March, 1, 1, 0))
		assert.Equal(t, "2025-02-28T12", w.Key)
	})
}

func TestHalfDaysBetween(t *testing.T) {
	t.Run("enumerates every period with no skips or duplicates", func(t *testing.T) {
		after := utc(2025, time.January, 10, 0, 0)  // cursor ended at P0
		until := utc(2025, time.January, 11, 13, 0) // target three half-days later
		windows := HalfDaysBetween(after, until)
		keys := make([]string, len(windows))
		for i, w := range windows {
			keys[i] = w.Key
		}
		assert.Equal(t, []string{"2025-01-10T12", "2025-01-11T00", "2025-01-11T12"}, keys)
	})

	t.Run("empty when target is in the same window", func(t *testing.T) {
		assert.Empty(t, HalfDaysBetween(utc(2025, time.January, 10, 1, 0), utc(2025, time.January, 10, 11, 0)))
	})

	t.Run("empty when target precedes after", func(t *testing.T) {
		assert.Empty(t, HalfDaysBetween(utc(2025, time.January, 10, 1, 0), utc(2025, time.January, 9, 0, 0)))
	})
}

func TestDayWeekMonth(t *testing.T) {
	t.Run("day window", func(t *testing.T) {
		w := Day(utc(2025, time.January, 10, 23, 59))
		assert.Equal(t, "2025-01-10", w.Key)
		assert.Equal(t, utc(2025, time.January, 11, 0, 0), w.EndExclusive)
	})

	t.Run("week starts Monday", func(t *testing.T) {
		// 2025-01-10 is a Friday; the ISO week starts Monday 2025-01-06.
		w := Week(utc(2025, time.January, 10, 10, 0))
		assert.Equal(t, utc(2025, time.January, 6, 0, 0), w.Start)
		assert.Equal(t, utc(2025, time.January, 13, 0, 0), w.EndExclusive)
		assert.Equal(t, "2025-W02", w.Key)
	})

	t.Run("monday maps to its own week", func(t *testing.T) {
		w := Week(utc(2025, time.January, 6, 0, 0))
		assert.Equal(t, utc(2025, time.January, 6, 0, 0), w.Start)
	})

	t.Run("month window", func(t *testing.T) {
		w := Month(utc(2025, time.February, 14, 8, 0))
		assert.Equal(t, "2025-02", w.Key)
		assert.Equal(t, utc(2025, time.February, 1, 0, 0), w.Start)
		assert.Equal(t, utc(2025, time.March, 1, 0, 0), w.EndExclusive)
	})

	t.Run("month key round trips", func(t *testing.T) {
		w, err := MonthFromKey("2025-02")
		require.NoError(t, err)
		assert.Equal(t, utc(2025, time.February, 1, 0, 0), w.Start)
		assert.Equal(t, "2025-02", MonthKey(w.Start))
	})
}

func TestNextMonthStart(t *testing.T) {
	assert.Equal(t, utc(2025, time.February, 1, 0, 0), NextMonthStart(utc(2025, time.January, 31, 23, 59)))
	assert.Equal(t, utc(2026, time.January, 1, 0, 0), NextMonthStart(utc(2025, time.December, 1, 0, 0)))
}

func TestWindowContains(t *testing.T) {
	w := HalfDay(utc(2025, time.January, 10, 0, 0))
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.EndInclusive))
	assert.False(t, w.Contains(w.EndExclusive))
}
