package walkforward

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/backtester/internal/domain"
)

// WindowSpec holds the window lengths in calendar days.
type WindowSpec struct {
	Train int `yaml:"train_days"`
	Test  int `yaml:"test_days"`
	Step  int `yaml:"step_days"` // 0 means Step = Test
}

// DefaultWindowSpec is one trading year of training and a quarter of testing.
func DefaultWindowSpec() WindowSpec {
	return WindowSpec{Train: 252, Test: 63, Step: 63}
}

// Validate rejects lengths that cannot tile a range.
func (s WindowSpec) Validate() error {
	if s.Train <= 0 {
		return &domain.ConfigurationError{Field: "walk_forward.train_days", Detail: "must be positive"}
	}
	if s.Test <= 0 {
		return &domain.ConfigurationError{Field: "walk_forward.test_days", Detail: "must be positive"}
	}
	if s.Step < 0 {
		return &domain.ConfigurationError{Field: "walk_forward.step_days", Detail: "must be >= 0"}
	}
	if s.Step > 0 && s.Step < s.Test {
		return &domain.ConfigurationError{
			Field:  "walk_forward.step_days",
			Detail: fmt.Sprintf("step %d shorter than test %d would overlap test windows", s.Step, s.Test),
		}
	}
	return nil
}

// GenerateWindows splits [start, end) into rolling train/test windows. The
// first test range begins Train days after start and every following one
// Step days later. The last test range is truncated at end.
func GenerateWindows(start, end time.Time, spec WindowSpec) ([]domain.Window, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, &domain.ConfigurationError{Field: "walk_forward.range", Detail: "end must be after start"}
	}
	step := spec.Step
	if step == 0 {
		step = spec.Test
	}
	first := start.AddDate(0, 0, spec.Train)
	if !first.Before(end) {
		return nil, &domain.ConfigurationError{
			Field:  "walk_forward.train_days",
			Detail: fmt.Sprintf("training length %d leaves no test range before %s", spec.Train, end.Format(time.DateOnly)),
		}
	}

	var windows []domain.Window
	for k := 0; ; k++ {
		testStart := first.AddDate(0, 0, k*step)
		if !testStart.Before(end) {
			break
		}
		testEnd := testStart.AddDate(0, 0, spec.Test)
		if testEnd.After(end) {
			testEnd = end
		}
		windows = append(windows, domain.Window{
			Index:      k,
			TrainStart: testStart.AddDate(0, 0, -spec.Train),
			TrainEnd:   testStart,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
	}
	return windows, nil
}
