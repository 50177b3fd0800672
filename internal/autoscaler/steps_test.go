package autoscaler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pct(v float64) *float64 { return &v }

// defaultSteps scales in at or below 20%, out above 30%, and ignores the band between.
func defaultSteps() ([]StepRule, []DeadZone) {
	return []StepRule{
			{Upper: pct(20), Delta: -1},
			{Lower: pct(30), Delta: 1},
		}, []DeadZone{
			{Lower: pct(20), Upper: pct(30)},
		}
}

func TestStepEvaluator_Evaluate(t *testing.T) {
	rules, zones := defaultSteps()
	rules = append(rules, StepRule{Lower: pct(80), Delta: 3})
	rules[1].Upper = pct(80)

	e, err := NewStepEvaluator(rules, zones)
	require.NoError(t, err)

	tests := []struct {
		name      string
		value     float64
		wantDelta int
		wantOK    bool
	}{
		{"idle fleet", 0, -1, true},
		{"scenario B", 15, -1, true},
		{"upper bound is inclusive", 20, -1, true},
		{"dead zone", 25, 0, false},
		{"dead zone upper bound", 30, 0, false},
		{"scenario A", 35, 1, true},
		{"shared boundary fires lower band", 80, 1, true},
		{"hot fleet", 95, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, ok := e.Evaluate(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantDelta, delta)
		})
	}
}

func TestNewStepEvaluator_Validation(t *testing.T) {
	tests := []struct {
		name    string
		rules   []StepRule
		zones   []DeadZone
		wantErr string
	}{
		{
			name:  "empty disables reactive scaling",
			rules: nil,
		},
		{
			name:  "single unbounded rule",
			rules: []StepRule{{Delta: 1}},
		},
		{
			name:    "overlapping rules",
			rules:   []StepRule{{Upper: pct(40), Delta: -1}, {Lower: pct(30), Delta: 1}},
			wantErr: "overlaps",
		},
		{
			name:    "two rules open below",
			rules:   []StepRule{{Upper: pct(40), Delta: -1}, {Upper: pct(50), Delta: 1}},
			wantErr: "overlaps",
		},
		{
			name:    "undeclared gap",
			rules:   []StepRule{{Upper: pct(20), Delta: -1}, {Lower: pct(30), Delta: 1}},
			wantErr: "gap (20, 30]",
		},
		{
			name:    "nothing covers low values",
			rules:   []StepRule{{Lower: pct(30), Delta: 1}},
			wantErr: "at or below 30",
		},
		{
			name:    "nothing covers high values",
			rules:   []StepRule{{Upper: pct(20), Delta: -1}},
			wantErr: "above 20",
		},
		{
			name:    "bound out of range",
			rules:   []StepRule{{Upper: pct(120), Delta: -1}, {Lower: pct(120), Delta: 1}},
			wantErr: "outside [0, 100]",
		},
		{
			name:    "inverted interval",
			rules:   []StepRule{{Upper: pct(20), Delta: -1}, {Lower: pct(40), Upper: pct(30), Delta: 1}},
			wantErr: "must be below upper bound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStepEvaluator(tt.rules, tt.zones)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr), "expected a ConfigError, got %T", err)
		})
	}
}
