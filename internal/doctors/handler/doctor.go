package handler

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"medibook/internal/doctors/service"
	httputil "medibook/pkg/http"
	"medibook/pkg/logger"
)

type SlotsResponse struct {
	Slots []time.Time `json:"slots"`
}

type DoctorHandler struct {
	slots service.SlotService
	log   *logger.Logger
}

func NewDoctorHandler(slots service.SlotService, log *logger.Logger) *DoctorHandler {
	return &DoctorHandler{
		slots: slots,
		log:   log,
	}
}

func (h *DoctorHandler) Slots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	doctorID := ps.ByName("id")
	date := r.URL.Query().Get("date")

	slots, err := h.slots.OpenSlots(r.Context(), doctorID, date)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Slots", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, SlotsResponse{Slots: slots}); err != nil {
		h.log.Error("failed to write success response", "handler", "Slots", "error", err)
	}
}

func (h *DoctorHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/doctors/id/:id/slots", h.Slots)
}
