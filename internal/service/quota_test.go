package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ds124wfegd/library-reservations/internal/entity"
)

func TestSummarize(t *testing.T) {
	card := uuid.New()

	tests := []struct {
		name     string
		activity entity.CardActivity
		want     int
	}{
		{name: "idle cardholder", activity: entity.CardActivity{}, want: 5},
		{name: "pending reserves are not counted", activity: entity.CardActivity{PendingReserves: 4}, want: 5},
		{
			name:     "borrows requests and assigned reserves",
			activity: entity.CardActivity{ActiveBorrowing: 2, RequestedItems: 1, AssignedReserves: 1},
			want:     1,
		},
		{name: "over the ceiling is clamped", activity: entity.CardActivity{ActiveBorrowing: 7}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := summarize(card, &tt.activity, 5)
			assert.Equal(t, tt.want, summary.RemainTotal)
			assert.Equal(t, 5, summary.MaxActivity)
			assert.Equal(t, tt.activity.PendingReserves, summary.TotalPendingReserves)
			assert.Equal(t, card, summary.LibraryCardID)
		})
	}
}
