package transport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ds124wfegd/library-reservations/internal/entity"
	"github.com/ds124wfegd/library-reservations/internal/locale"
	"github.com/ds124wfegd/library-reservations/internal/service"
	"github.com/ds124wfegd/library-reservations/internal/transport/middleware"
)

type ReservationHandler struct {
	reservationService service.ReservationService
	assignmentService  service.AssignmentService
	dispatcher         service.ReturnDispatcher
}

func NewReservationHandler(
	reservationService service.ReservationService,
	assignmentService service.AssignmentService,
	dispatcher service.ReturnDispatcher,
) *ReservationHandler {
	return &ReservationHandler{
		reservationService: reservationService,
		assignmentService:  assignmentService,
		dispatcher:         dispatcher,
	}
}

type createReservationRequest struct {
	LibraryItemID int64 `json:"library_item_id" binding:"required,min=1"`
}

// CheckAllowToReserve GET /reservations/check?item_id=
func (h *ReservationHandler) CheckAllowToReserve(c *gin.Context) {
	itemID, err := strconv.ParseInt(c.Query("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		respondInvalid(c, "item_id")
		return
	}

	result, err := h.reservationService.CheckAllowToReserveByItemID(c.Request.Context(), middleware.Lang(c), itemID, c.GetString(middleware.ContextEmail))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

// CreateReservation POST /reservations
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "library_item_id")
		return
	}

	result, err := h.reservationService.CreateReservation(c.Request.Context(), middleware.Lang(c), req.LibraryItemID, c.GetString(middleware.ContextEmail))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, result)
}

func (h *ReservationHandler) GetReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.reservationService.GetReservation(c.Request.Context(), middleware.Lang(c), id)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

// ListReservations GET /reservations?status=&item_id=&card_id=&code=&limit=&offset=
func (h *ReservationHandler) ListReservations(c *gin.Context) {
	var filter entity.ReservationFilter

	if s := c.Query("status"); s != "" {
		status, ok := entity.ParseReservationStatus(s)
		if !ok {
			respondInvalid(c, "status")
			return
		}
		filter.Status = &status
	}
	if s := c.Query("item_id"); s != "" {
		itemID, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			respondInvalid(c, "item_id")
			return
		}
		filter.LibraryItemID = &itemID
	}
	if s := c.Query("card_id"); s != "" {
		cardID, err := uuid.Parse(s)
		if err != nil {
			respondInvalid(c, "card_id")
			return
		}
		filter.LibraryCardID = &cardID
	}
	filter.Code = c.Query("code")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset

	result, err := h.reservationService.ListReservations(c.Request.Context(), middleware.Lang(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

// CancelReservation DELETE /reservations/:id
func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.CancelReservationRequest
	// тело необязательно
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, "reason")
			return
		}
	}
	req.QueueID = id
	req.Email = c.GetString(middleware.ContextEmail)
	req.ByLibrarian = c.GetString(middleware.ContextRole) == middleware.RoleLibrarian

	result, err := h.reservationService.CancelReservation(c.Request.Context(), middleware.Lang(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

// CheckAssignable GET /reservations/:id/assignable
func (h *ReservationHandler) CheckAssignable(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	lang := middleware.Lang(c)
	assignable, err := h.assignmentService.CheckAssignableByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrReservationNotFound) {
			respondError(c, entity.NewDomainError(entity.KindNotFound, entity.CodeNotFound, locale.Msg(lang, entity.CodeNotFound, locale.Msg(lang, locale.NounReservation))))
			return
		}
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, entity.NewResult(entity.CodeReadSuccess, locale.Msg(lang, entity.CodeReadSuccess), gin.H{
		"queue_id":      id,
		"is_assignable": assignable,
	}))
}

// AssignInstance POST /reservations/:id/assign
func (h *ReservationHandler) AssignInstance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.AssignInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "instance_id")
		return
	}

	result, err := h.assignmentService.AssignByIDAndInstanceID(c.Request.Context(), middleware.Lang(c), id, req.InstanceID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

// AssignReturned POST /reservations/assign-returned
func (h *ReservationHandler) AssignReturned(c *gin.Context) {
	var req service.AssignReturnedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "instance_ids")
		return
	}

	result, err := h.dispatcher.DispatchReturned(c.Request.Context(), middleware.Lang(c), req.InstanceIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.ResultCode == entity.CodeAssignQueued {
		status = http.StatusAccepted
	}
	respond(c, status, result)
}

// ApplyLabel POST /reservations/labels
func (h *ReservationHandler) ApplyLabel(c *gin.Context) {
	var req service.ApplyLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "queue_ids")
		return
	}

	result, err := h.reservationService.ApplyLabel(c.Request.Context(), middleware.Lang(c), req.QueueIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

// Collect POST /reservations/collect
func (h *ReservationHandler) Collect(c *gin.Context) {
	var req service.CollectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "reservation_code")
		return
	}

	result, err := h.reservationService.CollectReservation(c.Request.Context(), middleware.Lang(c), req.ReservationCode)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondInvalid(c, "id")
		return 0, false
	}
	return id, true
}
