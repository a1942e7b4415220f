package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ds124wfegd/library-reservations/config"
	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/pkg/events"
)

// memStore is an in-memory stand-in for the postgres repositories. WithinTx
// snapshots the mutable tables and restores them when fn fails.
type memStore struct {
	mu sync.Mutex

	reservations map[int64]*entity.ReservationQueue
	items        map[int64]*entity.LibraryItem
	inventory    map[int64]*entity.LibraryItemInventory
	instances    map[int64]*entity.LibraryItemInstance
	users        []*entity.User
	borrowing    map[uuid.UUID]int
	requested    map[uuid.UUID]int
	activeBorrow map[cardItem]bool
	openRequest  map[cardItem]bool
	dueDates     map[int64][]time.Time
	records      []*entity.BorrowRecord
	counters     map[string]int
	nextID       int64

	failUpdates error
	// afterRead runs after a locking reservation read or an instance read and
	// stands in for another transaction committing in between.
	afterRead func(m *memStore, what string)
}

type cardItem struct {
	card uuid.UUID
	item int64
}

type memSnapshot struct {
	reservations map[int64]*entity.ReservationQueue
	inventory    map[int64]entity.LibraryItemInventory
	instances    map[int64]entity.LibraryItemInstance
	records      int
	counters     map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		reservations: make(map[int64]*entity.ReservationQueue),
		items:        make(map[int64]*entity.LibraryItem),
		inventory:    make(map[int64]*entity.LibraryItemInventory),
		instances:    make(map[int64]*entity.LibraryItemInstance),
		borrowing:    make(map[uuid.UUID]int),
		requested:    make(map[uuid.UUID]int),
		activeBorrow: make(map[cardItem]bool),
		openRequest:  make(map[cardItem]bool),
		dueDates:     make(map[int64][]time.Time),
		counters:     make(map[string]int),
		nextID:       100,
	}
}

// fixtures

func (m *memStore) addItem(id int64, title string, available int) {
	m.items[id] = &entity.LibraryItem{ID: id, Title: title, Author: "Author " + title}
	m.inventory[id] = &entity.LibraryItemInventory{LibraryItemID: id, AvailableUnits: available}
}

func (m *memStore) addInstance(id, itemID int64, status entity.InstanceStatus, circulated bool) {
	m.instances[id] = &entity.LibraryItemInstance{ID: id, LibraryItemID: itemID, Status: status, IsCirculated: circulated}
}

func (m *memStore) addUser(email string, card uuid.UUID) {
	c := card
	m.users = append(m.users, &entity.User{ID: int64(len(m.users) + 1), Email: email, Name: strings.Split(email, "@")[0], LibraryCardID: &c})
}

func (m *memStore) addPending(id, itemID int64, card uuid.UUID, date time.Time) *entity.ReservationQueue {
	r := &entity.ReservationQueue{
		ID:              id,
		LibraryItemID:   itemID,
		LibraryCardID:   card,
		Status:          entity.ReservationStatusPending,
		ReservationDate: date,
	}
	m.reservations[id] = r
	return r
}

func (m *memStore) reservation(id int64) *entity.ReservationQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reservations[id].Clone()
}

func (m *memStore) instance(id int64) entity.LibraryItemInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.instances[id]
}

// TxManager

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) snapshot() *memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &memSnapshot{
		reservations: make(map[int64]*entity.ReservationQueue, len(m.reservations)),
		inventory:    make(map[int64]entity.LibraryItemInventory, len(m.inventory)),
		instances:    make(map[int64]entity.LibraryItemInstance, len(m.instances)),
		records:      len(m.records),
		counters:     make(map[string]int, len(m.counters)),
	}
	for id, r := range m.reservations {
		s.reservations[id] = r.Clone()
	}
	for id, inv := range m.inventory {
		s.inventory[id] = *inv
	}
	for id, inst := range m.instances {
		s.instances[id] = *inst
	}
	for k, v := range m.counters {
		s.counters[k] = v
	}
	return s
}

func (m *memStore) restore(s *memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reservations = s.reservations
	for id, inv := range s.inventory {
		v := inv
		m.inventory[id] = &v
	}
	for id, inst := range s.instances {
		v := inst
		m.instances[id] = &v
	}
	m.records = m.records[:s.records]
	m.counters = s.counters
}

// ReservationRepository

type memReservations struct{ *memStore }

func (r memReservations) Create(ctx context.Context, reservation *entity.ReservationQueue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.reservations {
		if existing.LibraryCardID == reservation.LibraryCardID &&
			existing.LibraryItemID == reservation.LibraryItemID &&
			!existing.Status.IsTerminal() {
			return entity.ErrConcurrentUpdate
		}
	}
	r.nextID++
	reservation.ID = r.nextID
	r.reservations[reservation.ID] = reservation.Clone()
	return nil
}

func (r memReservations) GetByID(ctx context.Context, id int64) (*entity.ReservationQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	return res.Clone(), nil
}

func (r memReservations) GetByIDForUpdate(ctx context.Context, id int64) (*entity.ReservationQueue, error) {
	res, err := r.GetByID(ctx, id)
	if err == nil {
		r.touch("reservation")
	}
	return res, err
}

func (m *memStore) touch(what string) {
	if m.afterRead == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterRead(m, what)
}

func (r memReservations) GetDetail(ctx context.Context, id int64) (*entity.ReservationDetail, error) {
	res, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.detail(res), nil
}

func (r memReservations) detail(res *entity.ReservationQueue) *entity.ReservationDetail {
	d := &entity.ReservationDetail{ReservationQueue: *res}
	if item, ok := r.items[res.LibraryItemID]; ok {
		d.ItemTitle = item.Title
		d.ItemAuthor = item.Author
	}
	return d
}

func (r memReservations) Update(ctx context.Context, reservation *entity.ReservationQueue) error {
	return r.UpdateMany(ctx, []*entity.ReservationQueue{reservation})
}

func (r memReservations) UpdateMany(ctx context.Context, reservations []*entity.ReservationQueue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failUpdates != nil {
		return r.failUpdates
	}
	for _, res := range reservations {
		if _, ok := r.reservations[res.ID]; !ok {
			return entity.ErrReservationNotFound
		}
		r.reservations[res.ID] = res.Clone()
	}
	return nil
}

func (r memReservations) MarkAssigned(ctx context.Context, reservations []*entity.ReservationQueue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failUpdates != nil {
		return r.failUpdates
	}
	for _, res := range reservations {
		stored, ok := r.reservations[res.ID]
		if !ok || stored.Status != entity.ReservationStatusPending || stored.LibraryItemInstanceID != nil {
			return entity.ErrConcurrentUpdate
		}
		r.reservations[res.ID] = res.Clone()
	}
	return nil
}

func (r memReservations) List(ctx context.Context, filter entity.ReservationFilter) ([]*entity.ReservationDetail, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*entity.ReservationQueue
	for _, res := range r.reservations {
		if filter.Status != nil && res.Status != *filter.Status {
			continue
		}
		if filter.LibraryItemID != nil && res.LibraryItemID != *filter.LibraryItemID {
			continue
		}
		if filter.LibraryCardID != nil && res.LibraryCardID != *filter.LibraryCardID {
			continue
		}
		if filter.Code != "" && (res.ReservationCode == nil || *res.ReservationCode != filter.Code) {
			continue
		}
		matched = append(matched, res)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	start := min(filter.Offset, total)
	end := min(start+filter.Limit, total)

	details := make([]*entity.ReservationDetail, 0, end-start)
	for _, res := range matched[start:end] {
		details = append(details, r.detail(res.Clone()))
	}
	return details, total, nil
}

func (r memReservations) ListByCode(ctx context.Context, code string) ([]*entity.ReservationQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.ReservationQueue
	for _, res := range r.reservations {
		if res.ReservationCode != nil && *res.ReservationCode == code {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReservations) ListPendingForInstances(ctx context.Context, instanceIDs []int64) ([]*entity.ReservationQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	itemIDs := make(map[int64]bool)
	for _, id := range instanceIDs {
		if inst, ok := r.instances[id]; ok {
			itemIDs[inst.LibraryItemID] = true
		}
	}

	var out []*entity.ReservationQueue
	for _, res := range r.reservations {
		if itemIDs[res.LibraryItemID] && res.Status == entity.ReservationStatusPending && res.LibraryItemInstanceID == nil {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservationDate.Equal(out[j].ReservationDate) {
			return out[i].ReservationDate.Before(out[j].ReservationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memReservations) CountActiveByItem(ctx context.Context, itemID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, res := range r.reservations {
		if res.LibraryItemID == itemID && !res.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (r memReservations) HasActiveForCardAndItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, res := range r.reservations {
		if res.LibraryCardID == cardID && res.LibraryItemID == itemID && !res.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (r memReservations) MarkNotified(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if res, ok := r.reservations[id]; ok {
			res.IsNotified = true
		}
	}
	return nil
}

func (r memReservations) ListCodesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var codes []string
	for _, res := range r.reservations {
		switch res.Status {
		case entity.ReservationStatusAssigned, entity.ReservationStatusExpired, entity.ReservationStatusCollected:
		default:
			continue
		}
		if res.ReservationCode != nil && strings.HasPrefix(*res.ReservationCode, prefix) {
			codes = append(codes, *res.ReservationCode)
		}
	}
	return codes, nil
}

func (r memReservations) NextCodeSequence(ctx context.Context, day time.Time, seed int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := day.Format("20060102")
	next := max(r.counters[key]+1, seed)
	r.counters[key] = next
	return next, nil
}

// ItemRepository

type memItems struct{ *memStore }

func (r memItems) GetItem(ctx context.Context, id int64) (*entity.LibraryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return nil, entity.ErrItemNotFound
	}
	c := *item
	return &c, nil
}

func (r memItems) GetItems(ctx context.Context, ids []int64) (map[int64]*entity.LibraryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int64]*entity.LibraryItem)
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			c := *item
			out[id] = &c
		}
	}
	return out, nil
}

func (r memItems) GetInventory(ctx context.Context, itemID int64) (*entity.LibraryItemInventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.inventory[itemID]
	if !ok {
		return nil, entity.ErrInventoryNotFound
	}
	c := *inv
	return &c, nil
}

func (r memItems) AdjustReservedUnits(ctx context.Context, itemID int64, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.inventory[itemID]
	if !ok {
		return entity.ErrInventoryNotFound
	}
	inv.ReservedUnits += delta
	return nil
}

func (r memItems) GetInstance(ctx context.Context, id int64) (*entity.LibraryItemInstance, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return nil, entity.ErrInstanceNotFound
	}
	c := *inst
	r.mu.Unlock()

	r.touch("instance")
	return &c, nil
}

func (r memItems) GetInstances(ctx context.Context, ids []int64) ([]*entity.LibraryItemInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.LibraryItemInstance
	for _, id := range ids {
		if inst, ok := r.instances[id]; ok {
			c := *inst
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memItems) ListInstancesByItem(ctx context.Context, itemID int64) ([]*entity.LibraryItemInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.LibraryItemInstance
	for _, inst := range r.instances {
		if inst.LibraryItemID == itemID {
			c := *inst
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memItems) UpdateInstanceStatus(ctx context.Context, ids []int64, status entity.InstanceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		inst, ok := r.instances[id]
		if !ok {
			return entity.ErrInstanceNotFound
		}
		inst.Status = status
	}
	return nil
}

func (r memItems) ReserveInstances(ctx context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		inst, ok := r.instances[id]
		if !ok || inst.Status != entity.InstanceStatusOutOfShelf {
			return entity.ErrConcurrentUpdate
		}
	}
	for _, id := range ids {
		r.instances[id].Status = entity.InstanceStatusReserved
	}
	return nil
}

func (r memItems) ListReturnedWithPendingQueue(ctx context.Context, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiting := make(map[int64]bool)
	for _, res := range r.reservations {
		if res.Status == entity.ReservationStatusPending && res.LibraryItemInstanceID == nil {
			waiting[res.LibraryItemID] = true
		}
	}

	var ids []int64
	for _, inst := range r.instances {
		if inst.IsReturnedOutOfShelf() && waiting[inst.LibraryItemID] {
			ids = append(ids, inst.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// UserRepository

type memUsers struct{ *memStore }

func (r memUsers) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (r memUsers) GetByCardID(ctx context.Context, cardID uuid.UUID) (*entity.User, error) {
	for _, u := range r.users {
		if u.LibraryCardID != nil && *u.LibraryCardID == cardID {
			c := *u
			return &c, nil
		}
	}
	return nil, entity.ErrUserNotFound
}

// BorrowRepository

type memBorrows struct{ *memStore }

func (r memBorrows) GetCardActivity(ctx context.Context, cardID uuid.UUID) (*entity.CardActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity := &entity.CardActivity{
		ActiveBorrowing: r.borrowing[cardID],
		RequestedItems:  r.requested[cardID],
	}
	for _, res := range r.reservations {
		if res.LibraryCardID != cardID {
			continue
		}
		switch res.Status {
		case entity.ReservationStatusPending:
			activity.PendingReserves++
		case entity.ReservationStatusAssigned:
			activity.AssignedReserves++
		}
	}
	return activity, nil
}

func (r memBorrows) HasActiveBorrowForItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error) {
	return r.activeBorrow[cardItem{cardID, itemID}], nil
}

func (r memBorrows) HasOpenRequestForItem(ctx context.Context, cardID uuid.UUID, itemID int64) (bool, error) {
	return r.openRequest[cardItem{cardID, itemID}], nil
}

func (r memBorrows) ListActiveDueDates(ctx context.Context, itemID int64) ([]time.Time, error) {
	return r.dueDates[itemID], nil
}

func (r memBorrows) CreateRecords(ctx context.Context, records []*entity.BorrowRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		r.nextID++
		rec.ID = r.nextID
		r.records = append(r.records, rec)
	}
	return nil
}

// collaborators

type recordingNotifier struct {
	mu      sync.Mutex
	notices []*AssignmentNotice
	err     error
}

func (n *recordingNotifier) NotifyAssigned(ctx context.Context, lang locale.Lang, notice *AssignmentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return n.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, batch ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, batch...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingQueue struct {
	tasks []*Task
	err   error
}

func (q *recordingQueue) Publish(ctx context.Context, task *Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

// fixture clock: 2024-03-10 20:00 UTC is 2024-03-11 03:00 in UTC+7
var testNow = time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)

func testConfig() config.ReservationConfig {
	return config.ReservationConfig{
		MaxActivity:          3,
		PickupExpirationDays: 3,
		ExtensionDays:        7,
		OverdueHandlingDays:  3,
		BorrowDays:           14,
		TimezoneOffsetHours:  7,
		TimezoneName:         "ICT",
	}
}

type testEnv struct {
	store       *memStore
	notifier    *recordingNotifier
	publisher   *recordingPublisher
	assignment  *assignmentService
	reservation *reservationService
	dispatcher  ReturnDispatcher
}

func newTestEnv() *testEnv {
	store := newMemStore()
	cfg := testConfig()
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}

	reservations := memReservations{store}
	items := memItems{store}
	users := memUsers{store}
	borrows := memBorrows{store}

	quota := NewQuotaChecker(borrows, cfg.MaxActivity)
	codes := NewCodeGenerator(reservations, cfg.Location())

	assignment := NewAssignmentService(store, reservations, items, users, quota, codes, notifier, publisher, cfg).(*assignmentService)
	assignment.now = func() time.Time { return testNow }

	dispatcher := NewReturnDispatcher(nil, assignment, 3)

	reservation := NewReservationService(store, reservations, items, users, borrows, quota, assignment, dispatcher, publisher, cfg).(*reservationService)
	reservation.now = func() time.Time { return testNow }

	return &testEnv{
		store:       store,
		notifier:    notifier,
		publisher:   publisher,
		assignment:  assignment,
		reservation: reservation,
		dispatcher:  dispatcher,
	}
}

func domainCode(err error) string {
	var de *entity.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
