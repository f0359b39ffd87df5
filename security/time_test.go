package security

import (
	"testing"
	"time"
)

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "zero never expires", expiresAt: time.Time{}, want: false},
		{name: "future", expiresAt: time.Now().Add(time.Minute), want: false},
		{name: "just past within grace", expiresAt: time.Now().Add(-time.Second), want: false},
		{name: "past beyond grace", expiresAt: time.Now().Add(-time.Minute), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTokenExpiredWithGracePeriod(t *testing.T) {
	past := time.Now().Add(-time.Second)

	if IsTokenExpiredWithGracePeriod(past, 10*time.Second) {
		t.Error("expired despite grace period")
	}
	if !IsTokenExpiredWithGracePeriod(past, 0) {
		t.Error("not expired without grace period")
	}
}
