package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/internal/service"
	"github.com/ds124wfegd/library-reservations/internal/transport/middleware"
)

var testSecret = []byte("test-secret")

type fakeReservations struct {
	result *entity.Result
	err    error

	gotItemID int64
	gotEmail  string
	gotLang   locale.Lang
	gotFilter entity.ReservationFilter
	gotCancel *service.CancelReservationRequest
	gotCode   string
}

func (f *fakeReservations) respond() (*entity.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return entity.NewResult(entity.CodeReadSuccess, "ok", nil), nil
}

func (f *fakeReservations) CheckAllowToReserveByItemID(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.Result, error) {
	f.gotLang, f.gotItemID, f.gotEmail = lang, itemID, email
	return f.respond()
}

func (f *fakeReservations) CreateReservation(ctx context.Context, lang locale.Lang, itemID int64, email string) (*entity.Result, error) {
	f.gotLang, f.gotItemID, f.gotEmail = lang, itemID, email
	return f.respond()
}

func (f *fakeReservations) CancelReservation(ctx context.Context, lang locale.Lang, req *service.CancelReservationRequest) (*entity.Result, error) {
	f.gotCancel = req
	return f.respond()
}

func (f *fakeReservations) ApplyLabel(ctx context.Context, lang locale.Lang, queueIDs []int64) (*entity.Result, error) {
	return f.respond()
}

func (f *fakeReservations) CollectReservation(ctx context.Context, lang locale.Lang, code string) (*entity.Result, error) {
	f.gotCode = code
	return f.respond()
}

func (f *fakeReservations) GetReservation(ctx context.Context, lang locale.Lang, id int64) (*entity.Result, error) {
	return f.respond()
}

func (f *fakeReservations) ListReservations(ctx context.Context, lang locale.Lang, filter entity.ReservationFilter) (*entity.Result, error) {
	f.gotFilter = filter
	return f.respond()
}

func (f *fakeReservations) GenerateExpectedAvailableDate(ctx context.Context, itemID int64) (*service.ExpectedAvailability, error) {
	return nil, nil
}

type fakeAssignments struct {
	assignable bool
	err        error
}

func (f *fakeAssignments) AssignInstancesAfterReturn(ctx context.Context, lang locale.Lang, ids []int64) (*entity.Result, error) {
	return entity.NewResult(entity.CodeAssignSuccess, "ok", nil), f.err
}

func (f *fakeAssignments) AssignByIDAndInstanceID(ctx context.Context, lang locale.Lang, queueID, instanceID int64) (*entity.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return entity.NewResult(entity.CodeAssignSuccess, "ok", nil), nil
}

func (f *fakeAssignments) CheckAssignableByID(ctx context.Context, queueID int64) (bool, error) {
	return f.assignable, f.err
}

func (f *fakeAssignments) SweepReturnedInstances(ctx context.Context) (int, error) {
	return 0, nil
}

type fakeDispatcher struct {
	queued bool
	gotIDs []int64
}

func (f *fakeDispatcher) DispatchReturned(ctx context.Context, lang locale.Lang, ids []int64) (*entity.Result, error) {
	f.gotIDs = ids
	if f.queued {
		return entity.NewResult(entity.CodeAssignQueued, "queued", nil), nil
	}
	return entity.NewResult(entity.CodeAssignSuccess, "ok", nil), nil
}

func token(t *testing.T, email, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

type testServer struct {
	router       *gin.Engine
	reservations *fakeReservations
	assignments  *fakeAssignments
	dispatcher   *fakeDispatcher
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		reservations: &fakeReservations{},
		assignments:  &fakeAssignments{},
		dispatcher:   &fakeDispatcher{},
	}
	handler := NewReservationHandler(s.reservations, s.assignments, s.dispatcher)
	s.router = InitRoutes(handler, NewQueueHandler(nil), testSecret, 5*time.Second)
	return s
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (*httptest.ResponseRecorder, entity.Result) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var result entity.Result
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	return w, result
}

func TestAuthAndRoles(t *testing.T) {
	s := newTestServer()
	member := token(t, "reader@library.test", middleware.RoleMember)

	w, result := s.do(t, http.MethodGet, "/api/v1/reservations/check?item_id=1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, entity.CodeUnauthorized, result.ResultCode)

	w, _ = s.do(t, http.MethodGet, "/api/v1/reservations/check?item_id=1", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{Email: "x@library.test"}).SignedString([]byte("other"))
	require.NoError(t, err)
	w, _ = s.do(t, http.MethodGet, "/api/v1/reservations/check?item_id=1", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, result = s.do(t, http.MethodPost, "/api/v1/reservations/collect", member, map[string]string{"reservation_code": "RS-20240311-0001"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, entity.CodeForbidden, result.ResultCode)

	w, _ = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateReservationHandler(t *testing.T) {
	s := newTestServer()
	member := token(t, "reader@library.test", "")
	s.reservations.result = entity.NewResult(entity.CodeCreateSuccess, "created", nil)

	w, result := s.do(t, http.MethodPost, "/api/v1/reservations", member, map[string]int64{"library_item_id": 42})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, entity.CodeCreateSuccess, result.ResultCode)
	assert.Equal(t, int64(42), s.reservations.gotItemID)
	assert.Equal(t, "reader@library.test", s.reservations.gotEmail)

	w, result = s.do(t, http.MethodPost, "/api/v1/reservations", member, map[string]int64{"library_item_id": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, entity.CodeInvalidInput, result.ResultCode)
}

func TestErrorMapping(t *testing.T) {
	member := token(t, "reader@library.test", middleware.RoleMember)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "validation", err: entity.NewDomainError(entity.KindValidation, entity.CodeInvalidInput, "bad"), wantStatus: http.StatusBadRequest, wantCode: entity.CodeInvalidInput},
		{name: "not found", err: entity.NewDomainError(entity.KindNotFound, entity.CodeNotFound, "item not found"), wantStatus: http.StatusNotFound, wantCode: entity.CodeNotFound},
		{name: "conflict", err: entity.NewDomainError(entity.KindConflict, entity.CodeReserveNotNeeded, "available"), wantStatus: http.StatusConflict, wantCode: entity.CodeReserveNotNeeded},
		{name: "forbidden", err: entity.NewDomainError(entity.KindForbidden, entity.CodeNoLibraryCard, "no card"), wantStatus: http.StatusForbidden, wantCode: entity.CodeNoLibraryCard},
		{name: "failed", err: entity.NewDomainError(entity.KindFailed, entity.CodeAssignFailed, "none"), wantStatus: http.StatusUnprocessableEntity, wantCode: entity.CodeAssignFailed},
		{name: "wrapped domain error", err: fmt.Errorf("tx: %w", entity.NewDomainError(entity.KindConflict, entity.CodeAlreadyReserved, "dup")), wantStatus: http.StatusConflict, wantCode: entity.CodeAlreadyReserved},
		{name: "infrastructure", err: errors.New("connection refused"), wantStatus: http.StatusInternalServerError, wantCode: entity.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer()
			s.reservations.err = tt.err

			w, result := s.do(t, http.MethodGet, "/api/v1/reservations/check?item_id=1", member, nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, result.ResultCode)
			assert.NotEmpty(t, result.Message)
			assert.NotContains(t, result.Message, "connection refused")
		})
	}
}

func TestListReservationsQuery(t *testing.T) {
	librarian := token(t, "staff@library.test", middleware.RoleLibrarian)

	t.Run("filters are parsed", func(t *testing.T) {
		s := newTestServer()
		card := "6f1c2f4e-8d7a-4b8e-9a51-0c3f3f0b5a11"

		w, _ := s.do(t, http.MethodGet, "/api/v1/reservations?status=Assigned&item_id=9&card_id="+card+"&limit=500&offset=20", librarian, nil)
		require.Equal(t, http.StatusOK, w.Code)

		f := s.reservations.gotFilter
		require.NotNil(t, f.Status)
		assert.Equal(t, entity.ReservationStatusAssigned, *f.Status)
		assert.Equal(t, int64(9), *f.LibraryItemID)
		assert.Equal(t, card, f.LibraryCardID.String())
		assert.Equal(t, 200, f.Limit)
		assert.Equal(t, 20, f.Offset)
	})

	for _, query := range []string{"status=Lost", "item_id=abc", "card_id=nope"} {
		t.Run("invalid "+query, func(t *testing.T) {
			s := newTestServer()
			w, result := s.do(t, http.MethodGet, "/api/v1/reservations?"+query, librarian, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, entity.CodeInvalidInput, result.ResultCode)
		})
	}
}

func TestCancelReservationHandler(t *testing.T) {
	s := newTestServer()

	w, _ := s.do(t, http.MethodDelete, "/api/v1/reservations/7", token(t, "reader@library.test", middleware.RoleMember), map[string]string{"reason": "moved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), s.reservations.gotCancel.QueueID)
	assert.Equal(t, "moved", s.reservations.gotCancel.Reason)
	assert.False(t, s.reservations.gotCancel.ByLibrarian)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/reservations/7", token(t, "staff@library.test", middleware.RoleLibrarian), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.reservations.gotCancel.ByLibrarian)
	assert.Equal(t, "staff@library.test", s.reservations.gotCancel.Email)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/reservations/abc", token(t, "staff@library.test", middleware.RoleLibrarian), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLibrarianAssignmentRoutes(t *testing.T) {
	librarian := token(t, "staff@library.test", middleware.RoleLibrarian)

	t.Run("assignable flag", func(t *testing.T) {
		s := newTestServer()
		s.assignments.assignable = true

		w, result := s.do(t, http.MethodGet, "/api/v1/reservations/3/assignable", librarian, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := result.Data.(map[string]interface{})
		assert.Equal(t, true, data["is_assignable"])
	})

	t.Run("assignable of unknown reservation", func(t *testing.T) {
		s := newTestServer()
		s.assignments.err = entity.ErrReservationNotFound

		w, _ := s.do(t, http.MethodGet, "/api/v1/reservations/3/assignable", librarian, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("manual assignment", func(t *testing.T) {
		s := newTestServer()
		w, _ := s.do(t, http.MethodPost, "/api/v1/reservations/3/assign", librarian, map[string]int64{"instance_id": 11})
		assert.Equal(t, http.StatusOK, w.Code)

		s.assignments.err = fmt.Errorf("batch: %w", entity.ErrInstanceNotAssignable)
		w, _ = s.do(t, http.MethodPost, "/api/v1/reservations/3/assign", librarian, map[string]int64{"instance_id": 11})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("returned instances queued", func(t *testing.T) {
		s := newTestServer()
		s.dispatcher.queued = true

		w, result := s.do(t, http.MethodPost, "/api/v1/reservations/assign-returned", librarian, map[string][]int64{"instance_ids": {11, 12}})
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, entity.CodeAssignQueued, result.ResultCode)
		assert.Equal(t, []int64{11, 12}, s.dispatcher.gotIDs)

		w, _ = s.do(t, http.MethodPost, "/api/v1/reservations/assign-returned", librarian, map[string][]int64{"instance_ids": {}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("collect", func(t *testing.T) {
		s := newTestServer()
		w, _ := s.do(t, http.MethodPost, "/api/v1/reservations/collect", librarian, map[string]string{"reservation_code": "RS-20240311-0001"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "RS-20240311-0001", s.reservations.gotCode)
	})
}

func TestQueueRoutesWithoutRedis(t *testing.T) {
	s := newTestServer()
	w, _ := s.do(t, http.MethodGet, "/api/v1/admin/queue/stats", token(t, "staff@library.test", middleware.RoleLibrarian), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLocaleHeader(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations/check?item_id=1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "reader@library.test", middleware.RoleMember))
	req.Header.Set("Accept-Language", "vi-VN,vi;q=0.9")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, locale.Vietnamese, s.reservations.gotLang)
}
