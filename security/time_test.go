package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "expired 10 minutes ago", expiresAt: time.Now().Add(-10 * time.Minute), want: true},
		{name: "expires in 10 minutes", expiresAt: time.Now().Add(10 * time.Minute)},
		{name: "expired 1 second ago (within grace period)", expiresAt: time.Now().Add(-time.Second)},
		{name: "expired 10 seconds ago", expiresAt: time.Now().Add(-10 * time.Second), want: true},
		{name: "zero time never expires", expiresAt: time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTokenExpired(tt.expiresAt))
		})
	}
}

func TestIsTokenExpiredWithGracePeriod(t *testing.T) {
	past := time.Now().Add(-2 * time.Second)
	assert.True(t, IsTokenExpiredWithGracePeriod(past, 0))
	assert.False(t, IsTokenExpiredWithGracePeriod(past, time.Minute))
}

func TestRemainingLifetime(t *testing.T) {
	assert.Equal(t, time.Duration(0), RemainingLifetime(time.Now().Add(-time.Hour)))
	d := RemainingLifetime(time.Now().Add(time.Hour))
	assert.True(t, d > 59*time.Minute && d <= time.Hour)
}
