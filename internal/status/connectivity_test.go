package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(DefaultStaleAfter)
	tests := []struct {
		age  time.Duration
		want Connectivity
	}{
		{age: 0, want: Live},
		{age: 29999 * time.Millisecond, want: Live},
		{age: 30000 * time.Millisecond, want: SignalLost},
		{age: 30001 * time.Millisecond, want: SignalLost},
		{age: time.Hour, want: SignalLost},
	}
	for _, tc := range tests {
		t.Run(tc.age.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.age))
		})
	}
}

func TestClassifyReport(t *testing.T) {
	c := NewClassifier(DefaultStaleAfter)
	now := time.Date(2025, 10, 11, 6, 50, 0, 0, time.UTC)

	assert.Equal(t, Live, c.ClassifyReport(time.Time{}, now))
	assert.Equal(t, Live, c.ClassifyReport(now.Add(-10*time.Second), now))
	assert.Equal(t, SignalLost, c.ClassifyReport(now.Add(-31*time.Second), now))

	// no smoothing: a fresh report flips straight back
	stale := c.ClassifyReport(now.Add(-40*time.Second), now)
	fresh := c.ClassifyReport(now.Add(-time.Second), now)
	assert.Equal(t, SignalLost, stale)
	assert.Equal(t, Live, fresh)

	assert.Equal(t, "signal-lost", SignalLost.String())
	assert.Equal(t, "live", Live.String())
}

func TestEffective(t *testing.T) {
	late := Punctuality{Kind: PunctualityLate, LateMinutes: 12}
	onTime := Punctuality{Kind: PunctualityOnTime}

	assert.Equal(t, DisplaySignalLost, Effective(late, SignalLost))
	assert.Equal(t, DisplayLate, Effective(late, Live))
	assert.Equal(t, DisplayOnTime, Effective(onTime, Live))
	assert.Equal(t, DisplayOnTime, Effective(Punctuality{}, Live))
}

func TestParseFilter(t *testing.T) {
	tests := map[string]Display{
		"":            DisplayAll,
		"all":         DisplayAll,
		"on-time":     DisplayOnTime,
		"onTime":      DisplayOnTime,
		"late":        DisplayLate,
		"delayed":     DisplayLate,
		"signal-lost": DisplaySignalLost,
		"stale":       DisplaySignalLost,
	}
	for in, want := range tests {
		got, err := ParseFilter(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFilter("bogus")
	assert.Error(t, err)

	assert.True(t, DisplayAll.Matches(DisplayLate))
	assert.True(t, DisplayLate.Matches(DisplayLate))
	assert.False(t, DisplayLate.Matches(DisplayOnTime))
}
