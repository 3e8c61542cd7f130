package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		delay      time.Duration
		retryCount int
		want       time.Duration
	}{
		{5 * time.Second, 0, 5 * time.Second},
		{5 * time.Second, 1, 10 * time.Second},
		{5 * time.Second, 2, 20 * time.Second},
		{5 * time.Second, 9, 2560 * time.Second},
		{time.Minute, 7, time.Hour},
		{time.Second, 200, time.Hour},
		{0, 3, 0},
	}
	for _, tt := range tests {
		got := Backoff(tt.delay, tt.retryCount)
		assert.Equal(t, tt.want, got, "Backoff(%s, %d)", tt.delay, tt.retryCount)
	}
}
