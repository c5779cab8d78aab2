package ivr

import "testing"

func TestIntervalDays(t *testing.T) {
	tests := []struct {
		risk string
		want int
	}{
		{"high", 3},
		{"HIGH", 3},
		{" high ", 3},
		{"medium", 5},
		{"low", 7},
		{"", 7},
		{"critical", 7},
		{"unknown", 7},
	}
	for _, tt := range tests {
		if got := IntervalDays(tt.risk); got != tt.want {
			t.Errorf("IntervalDays(%q) = %d, want %d", tt.risk, got, tt.want)
		}
	}
}

func TestHorizonCycles(t *testing.T) {
	tests := []struct {
		ga   int
		want int
	}{
		{0, 20},
		{10, 20},
		{20, 20},
		{21, 19},
		{30, 10},
		{39, 1},
		{40, 0},
		{42, 0},
		{45, 0},
	}
	for _, tt := range tests {
		if got := HorizonCycles(tt.ga); got != tt.want {
			t.Errorf("HorizonCycles(%d) = %d, want %d", tt.ga, got, tt.want)
		}
	}
}

func TestIsHighRisk(t *testing.T) {
	if !IsHighRisk("High") {
		t.Error("expected High to be high risk")
	}
	if IsHighRisk("medium") {
		t.Error("expected medium not to be high risk")
	}
}
