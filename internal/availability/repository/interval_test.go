package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(t *testing.T, hhmm string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, "2026-09-01T"+hhmm+":00Z")
	require.NoError(t, err)
	return out
}

func TestSubtractMiddleCut(t *testing.T) {
	got := subtract(at(t, "09:00"), at(t, "10:00"), []interval{
		{start: at(t, "09:30"), end: at(t, "09:45")},
	})
	require.Len(t, got, 2)
	require.Equal(t, at(t, "09:00"), got[0].start)
	require.Equal(t, at(t, "09:30"), got[0].end)
	require.Equal(t, at(t, "09:45"), got[1].start)
	require.Equal(t, at(t, "10:00"), got[1].end)
}

func TestSubtractEdgeCuts(t *testing.T) {
	// cut aligned with the start leaves one trailing fragment
	got := subtract(at(t, "09:00"), at(t, "10:00"), []interval{
		{start: at(t, "09:00"), end: at(t, "09:30")},
	})
	require.Len(t, got, 1)
	require.Equal(t, at(t, "09:30"), got[0].start)
	require.Equal(t, at(t, "10:00"), got[0].end)

	// full cover leaves nothing
	got = subtract(at(t, "09:00"), at(t, "10:00"), []interval{
		{start: at(t, "08:00"), end: at(t, "11:00")},
	})
	require.Empty(t, got)

	// touching interval is not an overlap
	got = subtract(at(t, "09:00"), at(t, "10:00"), []interval{
		{start: at(t, "10:00"), end: at(t, "11:00")},
	})
	require.Len(t, got, 1)
}

func TestSubtractOverlappingCuts(t *testing.T) {
	got := subtract(at(t, "09:00"), at(t, "12:00"), []interval{
		{start: at(t, "09:30"), end: at(t, "10:30")},
		{start: at(t, "10:00"), end: at(t, "11:00")},
	})
	require.Len(t, got, 2)
	require.Equal(t, at(t, "09:00"), got[0].start)
	require.Equal(t, at(t, "09:30"), got[0].end)
	require.Equal(t, at(t, "11:00"), got[1].start)
	require.Equal(t, at(t, "12:00"), got[1].end)
}
