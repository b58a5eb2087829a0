package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"medibook/internal/appointments/service"
	"medibook/pkg/config"
	apperrors "medibook/pkg/errors"
	httputil "medibook/pkg/http"
	"medibook/pkg/logger"
	"medibook/pkg/model"
)

type AppointmentHandler struct {
	service service.AppointmentService
	log     *logger.Logger
}

func NewAppointmentHandler(service service.AppointmentService, log *logger.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		service: service,
		log:     log,
	}
}

func (h *AppointmentHandler) Lock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.LockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Lock", apperrors.InvalidInput("Invalid request body"))
		return
	}

	reservation, err := h.service.Lock(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Lock", err)
		return
	}

	if err := httputil.WriteCreated(w, reservation); err != nil {
		h.log.Error("failed to write created response", "handler", "Lock", "error", err)
	}
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Confirm", apperrors.InvalidInput("Invalid request body"))
		return
	}

	appt, err := h.service.Confirm(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Confirm", err)
		return
	}

	if err := httputil.WriteSuccess(w, appt); err != nil {
		h.log.Error("failed to write success response", "handler", "Confirm", "error", err)
	}
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	appt, err := h.service.Cancel(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "Cancel", err)
		return
	}

	if err := httputil.WriteSuccess(w, appt); err != nil {
		h.log.Error("failed to write success response", "handler", "Cancel", "error", err)
	}
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req model.RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Reschedule", apperrors.InvalidInput("Invalid request body"))
		return
	}

	appt, err := h.service.Reschedule(r.Context(), ps.ByName("id"), req.NewSlotTime)
	if err != nil {
		h.writeError(w, "Reschedule", err)
		return
	}

	if err := httputil.WriteSuccess(w, appt); err != nil {
		h.log.Error("failed to write success response", "handler", "Reschedule", "error", err)
	}
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	doctorID := query.Get("doctor_id")
	userID := query.Get("user_id")

	limit := config.NormalizePaginationLimit(0)
	if s := query.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, "List", apperrors.InvalidInput("invalid limit parameter: "+s))
			return
		}
		limit = config.NormalizePaginationLimit(v)
	}

	var offset int64
	if s := query.Get("offset"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			h.writeError(w, "List", apperrors.InvalidInput("invalid offset parameter: "+s))
			return
		}
		offset = v
	}

	appts, err := h.service.ListByDoctor(r.Context(), doctorID, userID, limit, offset)
	if err != nil {
		h.writeError(w, "List", err)
		return
	}

	if err := httputil.WriteSuccess(w, appts); err != nil {
		h.log.Error("failed to write success response", "handler", "List", "error", err)
	}
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, handlerName string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handlerName, "error", writeErr)
	}
}

func (h *AppointmentHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/appointments/lock", h.Lock)
	router.POST("/api/v1/appointments/confirm", h.Confirm)
	router.GET("/api/v1/appointments", h.List)
	router.DELETE("/api/v1/appointments/id/:id", h.Cancel)
	router.PATCH("/api/v1/appointments/id/:id/reschedule", h.Reschedule)
}
