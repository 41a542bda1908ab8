package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsUTCAtStorePrecision(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Truncate(storePrecision)
	got := New().Now()

	require.Equal(t, time.UTC, got.Location())
	require.Zero(t, got.Nanosecond()%int(storePrecision))
	require.False(t, got.Before(before))
	require.WithinDuration(t, time.Now().UTC(), got, time.Second)
}

func TestNowTruncatesSubMicroseconds(t *testing.T) {
	t.Parallel()

	rome := time.FixedZone("CET", 3600)
	clk := Clock{now: func() time.Time { return time.Date(2026, 3, 1, 13, 0, 0, 123456789, rome) }}

	require.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC), clk.Now())
	require.Equal(t, time.UTC, Clock{}.Now().Location(), "the zero Clock reads time.Now")
}
