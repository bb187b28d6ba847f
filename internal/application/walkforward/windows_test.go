package walkforward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/backtester/internal/domain"
)

var rangeStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func days(n int) time.Time { return rangeStart.AddDate(0, 0, n) }

func TestGenerateWindows_TruncatesLastWindow(t *testing.T) {
	windows, err := GenerateWindows(days(0), days(365), WindowSpec{Train: 180, Test: 60, Step: 60})
	require.NoError(t, err)
	require.Len(t, windows, 4)

	lengths := make([]int, len(windows))
	for i, w := range windows {
		lengths[i] = int(w.TestEnd.Sub(w.TestStart).Hours() / 24)
		assert.Equal(t, i, w.Index)
		assert.Equal(t, w.TestStart, w.TrainEnd)
		assert.Equal(t, w.TestStart.AddDate(0, 0, -180), w.TrainStart)
	}
	assert.Equal(t, []int{60, 60, 60, 5}, lengths)
	assert.Equal(t, days(180), windows[0].TestStart)
	assert.Equal(t, days(365), windows[3].TestEnd)
}

func TestGenerateWindows_TestRangesTile(t *testing.T) {
	windows, err := GenerateWindows(days(0), days(400), WindowSpec{Train: 100, Test: 30})
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	assert.Equal(t, days(100), windows[0].TestStart)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].TestEnd, windows[i].TestStart)
	}
	assert.Equal(t, days(400), windows[len(windows)-1].TestEnd)
}

func TestGenerateWindows_StepLongerThanTestLeavesGaps(t *testing.T) {
	windows, err := GenerateWindows(days(0), days(40), WindowSpec{Train: 10, Test: 5, Step: 10})
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, days(10), windows[0].TestStart)
	assert.Equal(t, days(15), windows[0].TestEnd)
	assert.Equal(t, days(20), windows[1].TestStart)
	assert.Equal(t, days(30), windows[2].TestStart)
	assert.Equal(t, days(35), windows[2].TestEnd)
}

func TestGenerateWindows_Errors(t *testing.T) {
	cases := map[string]struct {
		end  time.Time
		spec WindowSpec
	}{
		"overlapping step": {days(365), WindowSpec{Train: 252, Test: 63, Step: 21}},
		"zero train":       {days(365), WindowSpec{Train: 0, Test: 30}},
		"zero test":        {days(365), WindowSpec{Train: 30, Test: 0}},
		"negative step":    {days(365), WindowSpec{Train: 30, Test: 30, Step: -1}},
		"empty range":      {days(0), WindowSpec{Train: 30, Test: 30}},
		"train too long":   {days(100), WindowSpec{Train: 100, Test: 30}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := GenerateWindows(days(0), tc.end, tc.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestDefaultWindowSpec(t *testing.T) {
	spec := DefaultWindowSpec()
	assert.NoError(t, spec.Validate())
	assert.Equal(t, WindowSpec{Train: 252, Test: 63, Step: 63}, spec)
}
