package queue

import (
	"testing"
	"time"
)

func TestExponential_NoJitter(t *testing.T) {
	b := Exponential{Initial: time.Second, Max: 10 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_JitterBounds(t *testing.T) {
	b := Exponential{Initial: time.Second, Max: time.Minute, Jitter: true}
	for i := 0; i < 200; i++ {
		got := b.Delay(3)
		if got < 2*time.Second || got > 4*time.Second {
			t.Fatalf("Delay(3) = %v, want within [2s, 4s]", got)
		}
	}
}

func TestFixed(t *testing.T) {
	if got := Fixed(time.Minute).Delay(9); got != time.Minute {
		t.Errorf("Fixed.Delay = %v, want 1m", got)
	}
}
