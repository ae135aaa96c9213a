package hours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2025-03-03 is a Monday.
func at(day, hour, min, sec int) time.Time {
	return time.Date(2025, time.March, day, hour, min, sec, 0, time.UTC)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(18, 8, nil)
	require.Error(t, err)
	_, err = New(-1, 8, nil)
	require.Error(t, err)
	_, err = New(8, 25, nil)
	require.Error(t, err)
	_, err = New(8, 8, nil)
	require.Error(t, err)

	w, err := New(9, 17, []time.Weekday{time.Saturday})
	require.NoError(t, err)
	assert.True(t, w.IsWorkday(time.Saturday))
	assert.False(t, w.IsWorkday(time.Monday))
}

func TestIsBusinessHours_Boundaries(t *testing.T) {
	w := Default()
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday 07:59:59", at(3, 7, 59, 59), false},
		{"monday 08:00:00", at(3, 8, 0, 0), true},
		{"monday 12:30", at(3, 12, 30, 0), true},
		{"monday 17:59:59", at(3, 17, 59, 59), true},
		{"monday 18:00:00", at(3, 18, 0, 0), false},
		{"friday 10:00", at(7, 10, 0, 0), true},
		{"saturday 10:00", at(8, 10, 0, 0), false},
		{"sunday 10:00", at(9, 10, 0, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.IsBusinessHours(tt.t))
		})
	}
}

func TestAdvance(t *testing.T) {
	w := Default()
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"inside window unchanged", at(3, 9, 15, 0), at(3, 9, 15, 0)},
		{"before opening snaps same day", at(4, 6, 30, 0), at(4, 8, 0, 0)},
		{"exactly closing goes next day", at(4, 18, 0, 0), at(5, 8, 0, 0)},
		{"after closing goes next day", at(4, 22, 10, 0), at(5, 8, 0, 0)},
		{"friday evening goes monday", at(7, 19, 0, 0), at(10, 8, 0, 0)},
		{"saturday goes monday", at(8, 11, 0, 0), at(10, 8, 0, 0)},
		{"sunday goes monday", at(9, 23, 59, 59), at(10, 8, 0, 0)},
		{"saturday before opening goes monday", at(8, 2, 0, 0), at(10, 8, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Advance(tt.in))
		})
	}
}

func TestAdvance_IdempotentAndMonotonic(t *testing.T) {
	w := Default()
	start := at(1, 0, 0, 0) // Saturday
	for i := 0; i < 14*24*4; i++ {
		in := start.Add(time.Duration(i) * 15 * time.Minute)
		for _, probe := range []time.Time{in, in.Add(-time.Second)} {
			out := w.Advance(probe)
			assert.False(t, out.Before(probe), "Advance(%s) = %s moved backwards", probe, out)
			assert.True(t, w.IsBusinessHours(out), "Advance(%s) = %s outside window", probe, out)
			assert.Equal(t, out, w.Advance(out), "Advance not idempotent for %s", probe)
		}
	}
}

func TestAdvance_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	w := Default()
	in := time.Date(2025, time.March, 8, 12, 0, 0, 0, loc)
	out := w.Advance(in)
	assert.Equal(t, loc, out.Location())
	assert.Equal(t, time.Date(2025, time.March, 10, 8, 0, 0, 0, loc), out)
}
