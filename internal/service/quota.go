package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	repository "github.com/ds124wfegd/library-reservations/internal/database/postgres"
	"github.com/ds124wfegd/library-reservations/internal/entity"
)

type quotaChecker struct {
	borrowRepo  repository.BorrowRepository
	maxActivity int
}

func NewQuotaChecker(borrowRepo repository.BorrowRepository, maxActivity int) QuotaChecker {
	return &quotaChecker{borrowRepo: borrowRepo, maxActivity: maxActivity}
}

// ActivitySummary считает остаток лимита: активные выдачи, открытые заявки и
// назначенные резервы. Ожидающие резервы в остаток не входят.
func (q *quotaChecker) ActivitySummary(ctx context.Context, cardID uuid.UUID) (*entity.UserPendingActivitySummary, error) {
	activity, err := q.borrowRepo.GetCardActivity(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity for card %s: %w", cardID, err)
	}

	return summarize(cardID, activity, q.maxActivity), nil
}

func summarize(cardID uuid.UUID, activity *entity.CardActivity, maxActivity int) *entity.UserPendingActivitySummary {
	used := activity.ActiveBorrowing + activity.RequestedItems + activity.AssignedReserves
	return &entity.UserPendingActivitySummary{
		LibraryCardID:         cardID,
		TotalActiveBorrowing:  activity.ActiveBorrowing,
		TotalRequestedItems:   activity.RequestedItems,
		TotalPendingReserves:  activity.PendingReserves,
		TotalAssignedReserves: activity.AssignedReserves,
		MaxActivity:           maxActivity,
		RemainTotal:           max(0, maxActivity-used),
	}
}
