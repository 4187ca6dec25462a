package model_test

import (
	"testing"
	"time"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from model.MessageStatus
		to   model.MessageStatus
		want bool
	}{
		{"pending to queued", model.StatusPending, model.StatusQueued, true},
		{"pending to sent", model.StatusPending, model.StatusSent, true},
		{"sent to delivered", model.StatusSent, model.StatusDelivered, true},
		{"delivered to read", model.StatusDelivered, model.StatusRead, true},
		{"sent to read skips delivered", model.StatusSent, model.StatusRead, true},

		{"delivered to sent regresses", model.StatusDelivered, model.StatusSent, false},
		{"read to delivered regresses", model.StatusRead, model.StatusDelivered, false},
		{"sent to sent is a no-op", model.StatusSent, model.StatusSent, false},

		{"pending can fail", model.StatusPending, model.StatusFailed, true},
		{"queued can fail", model.StatusQueued, model.StatusFailed, true},
		{"sent can fail", model.StatusSent, model.StatusFailed, true},
		{"delivered cannot fail", model.StatusDelivered, model.StatusFailed, false},
		{"read cannot fail", model.StatusRead, model.StatusFailed, false},
		{"failed is terminal", model.StatusFailed, model.StatusSent, false},
		{"failed stays failed", model.StatusFailed, model.StatusFailed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := model.CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestNextResetBoundary(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 45, 0, 0, time.UTC)
	want := time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)
	if got := model.NextResetBoundary(now); !got.Equal(want) {
		t.Errorf("NextResetBoundary(%v) = %v, want %v", now, got, want)
	}

	// A non-UTC clock still resets at midnight UTC.
	jst := time.FixedZone("JST", 9*3600)
	local := time.Date(2024, 6, 16, 3, 0, 0, 0, jst) // 18:00 UTC on the 15th
	if got := model.NextResetBoundary(local); !got.Equal(want) {
		t.Errorf("NextResetBoundary(%v) = %v, want %v", local, got, want)
	}
}
