package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/config"
	repository "github.com/ds124wfegd/library-reservations/internal/database/postgres"
	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/pkg/events"
)

const sweepBatchLimit = 200

type assignmentService struct {
	txManager       repository.TxManager
	reservationRepo repository.ReservationRepository
	itemRepo        repository.ItemRepository
	userRepo        repository.UserRepository
	quota           QuotaChecker
	codes           *CodeGenerator
	notifier        Notifier
	publisher       events.Publisher
	pickupDays      int
	loc             *time.Location
	now             func() time.Time
}

// NewAssignmentService создает движок распределения экземпляров
func NewAssignmentService(
	txManager repository.TxManager,
	reservationRepo repository.ReservationRepository,
	itemRepo repository.ItemRepository,
	userRepo repository.UserRepository,
	quota QuotaChecker,
	codes *CodeGenerator,
	notifier Notifier,
	publisher events.Publisher,
	cfg config.ReservationConfig,
) AssignmentService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &assignmentService{
		txManager:       txManager,
		reservationRepo: reservationRepo,
		itemRepo:        itemRepo,
		userRepo:        userRepo,
		quota:           quota,
		codes:           codes,
		notifier:        notifier,
		publisher:       publisher,
		pickupDays:      cfg.PickupExpirationDays,
		loc:             cfg.Location(),
		now:             time.Now,
	}
}

// AssignInstancesAfterReturn отдает вернувшиеся экземпляры ожидающим резервам
func (s *assignmentService) AssignInstancesAfterReturn(ctx context.Context, lang locale.Lang, instanceIDs []int64) (*entity.Result, error) {
	ids := uniqueIDs(instanceIDs)
	if len(ids) == 0 {
		return nil, failure(lang, entity.KindValidation, entity.CodeInvalidInput, "instance_ids")
	}

	now := s.now()
	var assigned []*entity.ReservationQueue

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		found, err := s.itemRepo.GetInstances(ctx, ids)
		if err != nil {
			return err
		}
		// экземпляры раздаются в порядке запроса
		instances, missing := inRequestOrder(ids, found)
		if missing != 0 {
			return notFound(lang, locale.NounInstance, missing)
		}
		returned := make([]*entity.LibraryItemInstance, 0, len(instances))
		returnedIDs := make([]int64, 0, len(instances))
		for _, instance := range instances {
			// уже распределен предыдущим запуском
			if instance.Status == entity.InstanceStatusReserved {
				continue
			}
			if !instance.IsReturnedOutOfShelf() {
				return fmt.Errorf("instance %d (%s): %w", instance.ID, instance.Status, entity.ErrInstanceNotAssignable)
			}
			returned = append(returned, instance)
			returnedIDs = append(returnedIDs, instance.ID)
		}
		if len(returned) == 0 {
			return failure(lang, entity.KindFailed, entity.CodeAssignFailed)
		}

		// Шаг 1: ожидающие резервы по FIFO
		candidates, err := s.reservationRepo.ListPendingForInstances(ctx, returnedIDs)
		if err != nil {
			return err
		}

		remain, err := s.remainByCard(ctx, candidates)
		if err != nil {
			return err
		}

		// Шаги 2-3: предварительное назначение и сверка лимитов
		plan := planAssignments(candidates, returned, remain)
		if len(plan.instanceOf) == 0 {
			return failure(lang, entity.KindFailed, entity.CodeAssignFailed)
		}

		// Шаг 4: общий код выдачи на читателя
		assigned, err = s.applyPlan(ctx, now, candidates, plan)
		if err != nil {
			return err
		}

		// Шаг 5: запись в одной транзакции
		return s.persistAssigned(ctx, assigned)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"instances": len(ids),
		"assigned":  len(assigned),
	}).Info("Returned instances assigned to reservations")

	s.afterAssign(ctx, lang, assigned)

	outcome := &entity.AssignmentOutcome{
		AssignedCount: len(assigned),
		Assignments:   toAssignmentResults(assigned),
	}
	return success(lang, entity.CodeAssignSuccess, outcome, outcome.AssignedCount), nil
}

// AssignByIDAndInstanceID ручное назначение экземпляра библиотекарем
func (s *assignmentService) AssignByIDAndInstanceID(ctx context.Context, lang locale.Lang, queueID, instanceID int64) (*entity.Result, error) {
	now := s.now()
	var reservation *entity.ReservationQueue

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.reservationRepo.GetByIDForUpdate(ctx, queueID)
		if errors.Is(err, entity.ErrReservationNotFound) {
			return notFound(lang, locale.NounReservation)
		}
		if err != nil {
			return err
		}

		ok, err := s.isAssignable(ctx, current)
		if err != nil {
			return err
		}
		if !ok {
			return failure(lang, entity.KindConflict, entity.CodeNotAssignable)
		}

		instance, err := s.itemRepo.GetInstance(ctx, instanceID)
		if errors.Is(err, entity.ErrInstanceNotFound) {
			return notFound(lang, locale.NounInstance, instanceID)
		}
		if err != nil {
			return err
		}
		if instance.LibraryItemID != current.LibraryItemID {
			return failure(lang, entity.KindValidation, entity.CodeInstanceMismatch, instanceID)
		}
		if instance.Status != entity.InstanceStatusOutOfShelf {
			return failure(lang, entity.KindConflict, entity.CodeInstanceNotOutOfShelf, instanceID)
		}

		code, err := s.codes.Next(ctx, now, nil)
		if err != nil {
			logrus.WithError(err).WithField("queue_id", queueID).Error("Failed to generate reservation code")
			return failure(lang, entity.KindFailed, entity.CodeCodeGenerationFailed)
		}

		expected := current.ReservationDate.AddDate(0, 0, 1)
		expiry := expected.AddDate(0, 0, s.pickupDays)

		reservation = current.Clone()
		reservation.Status = entity.ReservationStatusAssigned
		reservation.LibraryItemInstanceID = &instance.ID
		reservation.ExpectedAvailableDateMin = &expected
		reservation.ExpectedAvailableDateMax = &expected
		reservation.ExpiryDate = &expiry
		reservation.ReservationCode = &code
		reservation.IsAppliedLabel = false
		reservation.IsNotified = false

		err = s.persistAssigned(ctx, []*entity.ReservationQueue{reservation})
		if errors.Is(err, entity.ErrConcurrentUpdate) {
			return failure(lang, entity.KindConflict, entity.CodeNotAssignable)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"queue_id":    queueID,
		"instance_id": instanceID,
		"code":        *reservation.ReservationCode,
	}).Info("Reservation assigned manually")

	assigned := []*entity.ReservationQueue{reservation}
	s.afterAssign(ctx, lang, assigned)

	outcome := &entity.AssignmentOutcome{
		AssignedCount: 1,
		Assignments:   toAssignmentResults(assigned),
	}
	return success(lang, entity.CodeAssignSuccess, outcome, 1), nil
}

func (s *assignmentService) CheckAssignableByID(ctx context.Context, queueID int64) (bool, error) {
	reservation, err := s.reservationRepo.GetByID(ctx, queueID)
	if err != nil {
		return false, err
	}
	return s.isAssignable(ctx, reservation)
}

// SweepReturnedInstances подбирает экземпляры, задача по которым могла потеряться
func (s *assignmentService) SweepReturnedInstances(ctx context.Context) (int, error) {
	ids, err := s.itemRepo.ListReturnedWithPendingQueue(ctx, sweepBatchLimit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := s.AssignInstancesAfterReturn(ctx, locale.English, ids)
	if de, ok := entity.AsDomainError(err); ok && de.Code == entity.CodeAssignFailed {
		// все кандидаты упираются в лимит
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return result.Data.(*entity.AssignmentOutcome).AssignedCount, nil
}

func (s *assignmentService) isAssignable(ctx context.Context, reservation *entity.ReservationQueue) (bool, error) {
	if !reservation.IsAssignableState() {
		return false, nil
	}

	summary, err := s.quota.ActivitySummary(ctx, reservation.LibraryCardID)
	if err != nil {
		return false, err
	}
	if summary.RemainTotal <= 0 {
		return false, nil
	}

	inventory, err := s.itemRepo.GetInventory(ctx, reservation.LibraryItemID)
	if errors.Is(err, entity.ErrInventoryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	instances, err := s.itemRepo.ListInstancesByItem(ctx, reservation.LibraryItemID)
	if err != nil {
		return false, err
	}
	for _, instance := range instances {
		if instance.Status == entity.InstanceStatusOutOfShelf {
			return true, nil
		}
		if instance.Status == entity.InstanceStatusInShelf && inventory.AvailableUnits > 0 {
			return true, nil
		}
	}

	return false, nil
}

func (s *assignmentService) remainByCard(ctx context.Context, candidates []*entity.ReservationQueue) (map[uuid.UUID]int, error) {
	remain := make(map[uuid.UUID]int)
	for _, c := range candidates {
		if _, ok := remain[c.LibraryCardID]; ok {
			continue
		}
		summary, err := s.quota.ActivitySummary(ctx, c.LibraryCardID)
		if err != nil {
			return nil, err
		}
		remain[c.LibraryCardID] = summary.RemainTotal
	}
	return remain, nil
}

// applyPlan builds the assigned copies of the planned candidates. All
// reservations of one cardholder share a code.
func (s *assignmentService) applyPlan(ctx context.Context, now time.Time, candidates []*entity.ReservationQueue, plan *assignmentPlan) ([]*entity.ReservationQueue, error) {
	local := now.In(s.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	expiry := today.AddDate(0, 0, s.pickupDays)

	var batchCodes []string
	var assigned []*entity.ReservationQueue

	for _, card := range plan.cardOrder {
		indexes := plan.byCard[card]
		if len(indexes) == 0 {
			continue
		}

		code, err := s.codes.Next(ctx, now, batchCodes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate code for card %s: %w", card, err)
		}
		batchCodes = append(batchCodes, code)

		sort.Ints(indexes)
		for _, idx := range indexes {
			instanceID := plan.instanceOf[idx]
			expected := today
			expiryDate := expiry
			reservationCode := code

			r := candidates[idx].Clone()
			r.Status = entity.ReservationStatusAssigned
			r.LibraryItemInstanceID = &instanceID
			r.ExpectedAvailableDateMin = &expected
			r.ExpectedAvailableDateMax = &expected
			r.ExpiryDate = &expiryDate
			r.ReservationCode = &reservationCode
			r.IsAppliedLabel = false
			r.IsNotified = false
			assigned = append(assigned, r)
		}
	}

	return assigned, nil
}

func (s *assignmentService) persistAssigned(ctx context.Context, assigned []*entity.ReservationQueue) error {
	if err := s.reservationRepo.MarkAssigned(ctx, assigned); err != nil {
		return err
	}

	instanceIDs := make([]int64, 0, len(assigned))
	perItem := make(map[int64]int)
	for _, r := range assigned {
		instanceIDs = append(instanceIDs, *r.LibraryItemInstanceID)
		perItem[r.LibraryItemID]++
	}

	if err := s.itemRepo.ReserveInstances(ctx, instanceIDs); err != nil {
		return err
	}

	itemIDs := make([]int64, 0, len(perItem))
	for itemID := range perItem {
		itemIDs = append(itemIDs, itemID)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	for _, itemID := range itemIDs {
		if err := s.itemRepo.AdjustReservedUnits(ctx, itemID, perItem[itemID]); err != nil {
			return err
		}
	}
	return nil
}

// afterAssign уведомляет читателей и публикует события; ошибки только логируются
func (s *assignmentService) afterAssign(ctx context.Context, lang locale.Lang, assigned []*entity.ReservationQueue) {
	for _, notice := range s.buildNotices(ctx, assigned) {
		if err := s.notifier.NotifyAssigned(ctx, lang, notice); err != nil {
			logrus.WithError(err).WithField("card_id", notice.LibraryCardID).Error("Failed to notify cardholder")
		}
	}

	batch := make([]events.Event, 0, len(assigned))
	for _, r := range assigned {
		event := events.NewEvent(events.TypeReservationAssigned, r.ID, r.LibraryItemID, r.LibraryCardID, string(r.Status))
		event.LibraryItemInstanceID = r.LibraryItemInstanceID
		event.ReservationCode = r.ReservationCode
		batch = append(batch, event)
	}
	if err := s.publisher.Publish(ctx, batch...); err != nil {
		logrus.WithError(err).Warn("Failed to publish assignment events")
	}
}

func (s *assignmentService) buildNotices(ctx context.Context, assigned []*entity.ReservationQueue) []*AssignmentNotice {
	itemIDs := make([]int64, 0, len(assigned))
	for _, r := range assigned {
		itemIDs = append(itemIDs, r.LibraryItemID)
	}
	items, err := s.itemRepo.GetItems(ctx, uniqueIDs(itemIDs))
	if err != nil {
		logrus.WithError(err).Error("Failed to load items for notification")
		return nil
	}

	var notices []*AssignmentNotice
	byCard := make(map[uuid.UUID]*AssignmentNotice)
	for _, r := range assigned {
		notice, ok := byCard[r.LibraryCardID]
		if !ok {
			user, err := s.userRepo.GetByCardID(ctx, r.LibraryCardID)
			if err != nil {
				logrus.WithError(err).WithField("card_id", r.LibraryCardID).Error("Failed to load cardholder for notification")
				continue
			}
			notice = &AssignmentNotice{
				LibraryCardID: r.LibraryCardID,
				Email:         user.Email,
				Name:          user.Name,
				TelegramID:    user.TelegramID,
			}
			byCard[r.LibraryCardID] = notice
			notices = append(notices, notice)
		}

		line := NoticeLine{QueueID: r.ID, Code: *r.ReservationCode, ExpiryDate: *r.ExpiryDate}
		if item, ok := items[r.LibraryItemID]; ok {
			line.Title = item.Title
			line.Author = item.Author
		}
		notice.Lines = append(notice.Lines, line)
	}

	return notices
}

// assignmentPlan maps candidate indexes to instances. byCard keeps each
// cardholder's candidates in the order they received an instance.
type assignmentPlan struct {
	instanceOf map[int]int64
	byCard     map[uuid.UUID][]int
	cardOrder  []uuid.UUID
}

// planAssignments runs the tentative FIFO pass, rolls back what exceeds each
// cardholder's quota starting from the latest assignment, and then offers the
// freed instances to the remaining candidates that still have quota.
func planAssignments(candidates []*entity.ReservationQueue, instances []*entity.LibraryItemInstance, remain map[uuid.UUID]int) *assignmentPlan {
	pool := make(map[int64][]int64)
	for _, instance := range instances {
		pool[instance.LibraryItemID] = append(pool[instance.LibraryItemID], instance.ID)
	}

	plan := &assignmentPlan{
		instanceOf: make(map[int]int64),
		byCard:     make(map[uuid.UUID][]int),
	}

	take := func(idx int) {
		c := candidates[idx]
		free := pool[c.LibraryItemID]
		plan.instanceOf[idx] = free[0]
		pool[c.LibraryItemID] = free[1:]
		if _, seen := plan.byCard[c.LibraryCardID]; !seen {
			plan.cardOrder = append(plan.cardOrder, c.LibraryCardID)
		}
		plan.byCard[c.LibraryCardID] = append(plan.byCard[c.LibraryCardID], idx)
	}

	// предварительная проверка: остаток лимита больше нуля
	for idx, c := range candidates {
		if len(pool[c.LibraryItemID]) == 0 || remain[c.LibraryCardID] <= 0 {
			continue
		}
		take(idx)
	}

	// сверка по читателю: откатываем последние назначения
	for _, card := range plan.cardOrder {
		indexes := plan.byCard[card]
		for len(indexes) > remain[card] {
			last := indexes[len(indexes)-1]
			indexes = indexes[:len(indexes)-1]

			itemID := candidates[last].LibraryItemID
			pool[itemID] = append([]int64{plan.instanceOf[last]}, pool[itemID]...)
			delete(plan.instanceOf, last)
		}
		plan.byCard[card] = indexes
	}

	for changed := true; changed; {
		changed = false
		for idx, c := range candidates {
			if _, ok := plan.instanceOf[idx]; ok {
				continue
			}
			if len(pool[c.LibraryItemID]) == 0 || len(plan.byCard[c.LibraryCardID]) >= remain[c.LibraryCardID] {
				continue
			}
			take(idx)
			changed = true
		}
	}

	return plan
}

func toAssignmentResults(assigned []*entity.ReservationQueue) []entity.AssignmentResult {
	results := make([]entity.AssignmentResult, 0, len(assigned))
	for _, r := range assigned {
		results = append(results, entity.AssignmentResult{
			QueueID:               r.ID,
			LibraryCardID:         r.LibraryCardID,
			LibraryItemID:         r.LibraryItemID,
			LibraryItemInstanceID: *r.LibraryItemInstanceID,
			ReservationCode:       *r.ReservationCode,
			ExpiryDate:            *r.ExpiryDate,
		})
	}
	return results
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// inRequestOrder lines instances up with ids. The first id missing from
// instances is returned as missing.
func inRequestOrder(ids []int64, instances []*entity.LibraryItemInstance) (ordered []*entity.LibraryItemInstance, missing int64) {
	byID := make(map[int64]*entity.LibraryItemInstance, len(instances))
	for _, instance := range instances {
		byID[instance.ID] = instance
	}
	ordered = make([]*entity.LibraryItemInstance, 0, len(ids))
	for _, id := range ids {
		instance, ok := byID[id]
		if !ok {
			return nil, id
		}
		ordered = append(ordered, instance)
	}
	return ordered, 0
}
