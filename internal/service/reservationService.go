package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds124wfegd/library-reservations/config"
	repository "github.com/ds124wfegd/library-reservations/internal/database/postgres"
	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/pkg/events"
)

type reservationService struct {
	txManager       repository.TxManager
	reservationRepo repository.ReservationRepository
	itemRepo        repository.ItemRepository
	userRepo        repository.UserRepository
	borrowRepo      repository.BorrowRepository
	quota           QuotaChecker
	assignment      AssignmentService
	dispatcher      ReturnDispatcher
	publisher       events.Publisher
	cfg             config.ReservationConfig
	now             func() time.Time
}

// NewReservationService создает новый экземпляр ReservationService
func NewReservationService(
	txManager repository.TxManager,
	reservationRepo repository.ReservationRepository,
	itemRepo repository.ItemRepository,
	userRepo repository.UserRepository,
	borrowRepo repository.BorrowRepository,
	quota QuotaChecker,
	assignment AssignmentService,
	dispatcher ReturnDispatcher,
	publisher events.Publisher,
	cfg config.ReservationConfig,
) ReservationService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &reservationService{
		txManager:       txManager,
		reservationRepo: reservationRepo,
		itemRepo:        itemRepo,
		userRepo:        userRepo,
		borrowRepo:      borrowRepo,
		quota:           quota,
		assignment:      assignment,
		dispatcher:      dispatcher,
		publisher:       publisher,
		cfg:             cfg,
		now:             time.Now,
	}
}

// CheckAllowToReserveByItemID проверяет, может ли читатель встать в очередь на тайтл
func (s *reservationService) CheckAllowToReserveByItemID(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.Result, error) {
	if _, err := s.checkAllow(ctx, lang, itemID, email); err != nil {
		return nil, err
	}
	return success(lang, entity.CodeAllowReserve, nil), nil
}

// Порядок проверок важен: клиент показывает первую причину отказа
func (s *reservationService) checkAllow(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.User, error) {
	email = strings.TrimSpace(email)
	if itemID <= 0 || email == "" {
		return nil, failure(lang, entity.KindValidation, entity.CodeInvalidInput, "item_id/email")
	}

	if _, err := s.itemRepo.GetItem(ctx, itemID); err != nil {
		if errors.Is(err, entity.ErrItemNotFound) {
			return nil, notFound(lang, locale.NounItem)
		}
		return nil, err
	}

	inventory, err := s.itemRepo.GetInventory(ctx, itemID)
	if err != nil {
		if errors.Is(err, entity.ErrInventoryNotFound) {
			return nil, notFound(lang, locale.NounInventory)
		}
		return nil, err
	}
	if inventory.AvailableUnits > 0 {
		return nil, failure(lang, entity.KindConflict, entity.CodeReserveNotNeeded)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.LibraryCardID == nil {
		return nil, failure(lang, entity.KindForbidden, entity.CodeNoLibraryCard)
	}
	cardID := *user.LibraryCardID

	reserved, err := s.reservationRepo.HasActiveForCardAndItem(ctx, cardID, itemID)
	if err != nil {
		return nil, err
	}
	if reserved {
		return nil, failure(lang, entity.KindConflict, entity.CodeAlreadyReserved)
	}

	borrowing, err := s.borrowRepo.HasActiveBorrowForItem(ctx, cardID, itemID)
	if err != nil {
		return nil, err
	}
	if borrowing {
		return nil, failure(lang, entity.KindConflict, entity.CodeAlreadyBorrowing)
	}

	requested, err := s.borrowRepo.HasOpenRequestForItem(ctx, cardID, itemID)
	if err != nil {
		return nil, err
	}
	if requested {
		return nil, failure(lang, entity.KindConflict, entity.CodeAlreadyRequested)
	}

	return user, nil
}

// CreateReservation ставит читателя в очередь на тайтл
func (s *reservationService) CreateReservation(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.Result, error) {
	var reservation *entity.ReservationQueue

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.checkAllow(ctx, lang, itemID, email)
		if err != nil {
			return err
		}
		cardID := *user.LibraryCardID

		summary, err := s.quota.ActivitySummary(ctx, cardID)
		if err != nil {
			return err
		}
		if summary.RemainTotal-summary.TotalPendingReserves <= 0 {
			return failure(lang, entity.KindForbidden, entity.CodeQuotaExceeded, summary.MaxActivity)
		}

		expected, err := s.GenerateExpectedAvailableDate(ctx, itemID)
		if err != nil {
			return err
		}

		reservation = &entity.ReservationQueue{
			LibraryItemID:   itemID,
			LibraryCardID:   cardID,
			Status:          entity.ReservationStatusPending,
			ReservationDate: s.now(),
		}
		if expected != nil {
			reservation.ExpectedAvailableDateMin = &expected.Min
			reservation.ExpectedAvailableDateMax = &expected.Max
		}

		err = s.reservationRepo.Create(ctx, reservation)
		if errors.Is(err, entity.ErrConcurrentUpdate) {
			return failure(lang, entity.KindConflict, entity.CodeAlreadyReserved)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"queue_id": reservation.ID,
		"item_id":  itemID,
		"card_id":  reservation.LibraryCardID,
	}).Info("Reservation created")

	s.publish(ctx, events.NewEvent(events.TypeReservationCreated,
		reservation.ID, reservation.LibraryItemID, reservation.LibraryCardID, string(reservation.Status)))

	return success(lang, entity.CodeCreateSuccess, reservation), nil
}

// GenerateExpectedAvailableDate: N-я дата возврата среди активных выдач, где N
// число уже стоящих в очереди. nil, если выдач меньше, чем резервов.
func (s *reservationService) GenerateExpectedAvailableDate(ctx context.Context, itemID int64) (*ExpectedAvailability, error) {
	queued, err := s.reservationRepo.CountActiveByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	dueDates, err := s.borrowRepo.ListActiveDueDates(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if queued >= len(dueDates) {
		return nil, nil
	}

	due := dueDates[queued]
	return &ExpectedAvailability{
		Min: due,
		Max: due.AddDate(0, 0, s.cfg.ExtensionDays+s.cfg.OverdueHandlingDays),
	}, nil
}

// CancelReservation отменяет незавершенный резерв; назначенный экземпляр уходит следующему
func (s *reservationService) CancelReservation(ctx context.Context, lang locale.Lang, req *CancelReservationRequest) (*entity.Result, error) {
	var reservation *entity.ReservationQueue
	var freedInstance *int64

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.reservationRepo.GetByID(ctx, req.QueueID)
		if errors.Is(err, entity.ErrReservationNotFound) {
			return notFound(lang, locale.NounReservation)
		}
		if err != nil {
			return err
		}

		if !req.ByLibrarian {
			user, err := s.userRepo.GetByEmail(ctx, req.Email)
			if err != nil {
				return err
			}
			if user == nil || user.LibraryCardID == nil || *user.LibraryCardID != current.LibraryCardID {
				return failure(lang, entity.KindForbidden, entity.CodeForbidden)
			}
		}

		if current.Status.IsTerminal() {
			return failure(lang, entity.KindConflict, entity.CodeInvalidStatus, current.Status)
		}

		reservation = current.Clone()
		reservation.Status = entity.ReservationStatusCancelled
		cancelledBy := req.Email
		reservation.CancelledBy = &cancelledBy
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			reservation.CancellationReason = &reason
		}

		if err := s.reservationRepo.Update(ctx, reservation); err != nil {
			return err
		}

		if current.Status != entity.ReservationStatusAssigned || current.LibraryItemInstanceID == nil {
			return nil
		}

		// экземпляр возвращается в пул ожидающих распределения
		freedInstance = current.LibraryItemInstanceID
		if err := s.itemRepo.UpdateInstanceStatus(ctx, []int64{*freedInstance}, entity.InstanceStatusOutOfShelf); err != nil {
			return err
		}
		return s.itemRepo.AdjustReservedUnits(ctx, current.LibraryItemID, -1)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"queue_id":     reservation.ID,
		"by_librarian": req.ByLibrarian,
	}).Info("Reservation cancelled")

	s.publish(ctx, events.NewEvent(events.TypeReservationCancelled,
		reservation.ID, reservation.LibraryItemID, reservation.LibraryCardID, string(reservation.Status)))

	if freedInstance != nil {
		if _, err := s.dispatcher.DispatchReturned(ctx, lang, []int64{*freedInstance}); err != nil {
			// экземпляр подберет периодический обход
			logrus.WithError(err).WithField("instance_id", *freedInstance).Warn("Failed to reassign freed instance")
		}
	}

	return success(lang, entity.CodeUpdateSuccess, reservation), nil
}

// ApplyLabel отмечает, что на назначенный экземпляр наклеена этикетка
func (s *reservationService) ApplyLabel(ctx context.Context, lang locale.Lang, queueIDs []int64) (*entity.Result, error) {
	ids := uniqueIDs(queueIDs)
	if len(ids) == 0 {
		return nil, failure(lang, entity.KindValidation, entity.CodeInvalidInput, "queue_ids")
	}

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		labelled := make([]*entity.ReservationQueue, 0, len(ids))
		for _, id := range ids {
			current, err := s.reservationRepo.GetByID(ctx, id)
			if errors.Is(err, entity.ErrReservationNotFound) {
				return notFound(lang, locale.NounReservation)
			}
			if err != nil {
				return err
			}
			if current.Status != entity.ReservationStatusAssigned {
				return failure(lang, entity.KindConflict, entity.CodeInvalidStatus, current.Status)
			}

			r := current.Clone()
			r.IsAppliedLabel = true
			labelled = append(labelled, r)
		}
		return s.reservationRepo.UpdateMany(ctx, labelled)
	})
	if err != nil {
		return nil, err
	}

	return success(lang, entity.CodeUpdateSuccess, map[string]int{"labelled": len(ids)}), nil
}

// CollectReservation выдает читателю все экземпляры по коду выдачи
func (s *reservationService) CollectReservation(ctx context.Context, lang locale.Lang, code string) (*entity.Result, error) {
	code = strings.TrimSpace(code)
	if _, _, ok := ParseReservationCode(code); !ok {
		return nil, failure(lang, entity.KindValidation, entity.CodeInvalidInput, "reservation_code")
	}

	now := s.now()
	var collected []*entity.ReservationQueue

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		reservations, err := s.reservationRepo.ListByCode(ctx, code)
		if err != nil {
			return err
		}

		var records []*entity.BorrowRecord
		var instanceIDs []int64
		perItem := make(map[int64]int)

		for _, current := range reservations {
			if current.Status != entity.ReservationStatusAssigned || current.LibraryItemInstanceID == nil {
				continue
			}

			r := current.Clone()
			r.Status = entity.ReservationStatusCollected
			collectedAt := now
			r.CollectedDate = &collectedAt
			collected = append(collected, r)

			instanceIDs = append(instanceIDs, *r.LibraryItemInstanceID)
			perItem[r.LibraryItemID]++
			records = append(records, &entity.BorrowRecord{
				LibraryCardID:         r.LibraryCardID,
				LibraryItemID:         r.LibraryItemID,
				LibraryItemInstanceID: *r.LibraryItemInstanceID,
				Status:                entity.BorrowRecordStatusBorrowing,
				BorrowDate:            now,
				DueDate:               now.AddDate(0, 0, s.cfg.BorrowDays),
			})
		}

		if len(collected) == 0 {
			return notFound(lang, locale.NounReservation)
		}

		if err := s.reservationRepo.UpdateMany(ctx, collected); err != nil {
			return err
		}
		if err := s.itemRepo.UpdateInstanceStatus(ctx, instanceIDs, entity.InstanceStatusBorrowed); err != nil {
			return err
		}
		for itemID, n := range perItem {
			if err := s.itemRepo.AdjustReservedUnits(ctx, itemID, -n); err != nil {
				return err
			}
		}
		return s.borrowRepo.CreateRecords(ctx, records)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"code":  code,
		"items": len(collected),
	}).Info("Reservations collected")

	batch := make([]events.Event, 0, len(collected))
	for _, r := range collected {
		event := events.NewEvent(events.TypeReservationCollected, r.ID, r.LibraryItemID, r.LibraryCardID, string(r.Status))
		event.LibraryItemInstanceID = r.LibraryItemInstanceID
		event.ReservationCode = r.ReservationCode
		batch = append(batch, event)
	}
	s.publish(ctx, batch...)

	return success(lang, entity.CodeUpdateSuccess, collected), nil
}

func (s *reservationService) GetReservation(ctx context.Context, lang locale.Lang, id int64) (*entity.Result, error) {
	detail, err := s.reservationRepo.GetDetail(ctx, id)
	if errors.Is(err, entity.ErrReservationNotFound) {
		return nil, notFound(lang, locale.NounReservation)
	}
	if err != nil {
		return nil, err
	}

	if err := s.fillAssignable(ctx, detail); err != nil {
		return nil, err
	}

	return success(lang, entity.CodeReadSuccess, detail), nil
}

func (s *reservationService) ListReservations(ctx context.Context, lang locale.Lang, filter entity.ReservationFilter) (*entity.Result, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	details, total, err := s.reservationRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	for _, detail := range details {
		if err := s.fillAssignable(ctx, detail); err != nil {
			return nil, err
		}
	}

	return success(lang, entity.CodeReadSuccess, &ReservationList{
		Items:  details,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}), nil
}

func (s *reservationService) fillAssignable(ctx context.Context, detail *entity.ReservationDetail) error {
	if !detail.IsAssignableState() {
		detail.IsAssignable = false
		return nil
	}

	ok, err := s.assignment.CheckAssignableByID(ctx, detail.ID)
	if err != nil {
		return err
	}
	detail.IsAssignable = ok
	return nil
}

func (s *reservationService) publish(ctx context.Context, batch ...events.Event) {
	if err := s.publisher.Publish(ctx, batch...); err != nil {
		logrus.WithError(err).Warn("Failed to publish reservation events")
	}
}
