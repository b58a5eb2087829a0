package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	apptsrepo "medibook/internal/appointments/repository"
	doctorserrors "medibook/internal/doctors/errors"
	"medibook/internal/doctors/repository"
	"medibook/pkg/config"
	apperrors "medibook/pkg/errors"
)

const dateLayout = "2006-01-02"

type SlotService interface {
	// OpenSlots resolves the instants on the given civil date that the
	// doctor's weekly template offers and no Pending or Booked
	// appointment occupies. A weekday without a template entry yields
	// an empty list, not an error.
	OpenSlots(ctx context.Context, doctorID, date string) ([]time.Time, error)
}

type slotService struct {
	doctorRepo repository.DoctorRepository
	apptRepo   apptsrepo.AppointmentRepository
	cfg        *config.Config
}

func NewSlotService(doctorRepo repository.DoctorRepository, apptRepo apptsrepo.AppointmentRepository, cfg *config.Config) SlotService {
	return &slotService{
		doctorRepo: doctorRepo,
		apptRepo:   apptRepo,
		cfg:        cfg,
	}
}

func (s *slotService) OpenSlots(ctx context.Context, doctorID, date string) ([]time.Time, error) {
	if date == "" {
		return nil, apperrors.InvalidInput("date query required (YYYY-MM-DD)")
	}
	day, err := time.ParseInLocation(dateLayout, date, time.UTC)
	if err != nil {
		return nil, apperrors.InvalidInput("date must be in YYYY-MM-DD format")
	}

	doctor, err := s.doctorRepo.FindByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, doctorserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Doctor", doctorID)
		}
		if errors.Is(err, doctorserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid doctor ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve doctor", err)
	}

	weekday := day.Weekday().String()
	var template []string
	for _, availability := range doctor.Availability {
		if strings.EqualFold(availability.Day, weekday) {
			template = availability.Slots
			break
		}
	}
	if len(template) == 0 {
		return []time.Time{}, nil
	}

	candidates := make([]time.Time, 0, len(template))
	for _, hhmm := range template {
		instant, err := slotInstant(day, hhmm)
		if err != nil {
			s.cfg.Log.Warn("Skipping malformed template slot",
				"doctor_id", doctorID, "day", weekday, "slot", hhmm)
			continue
		}
		candidates = append(candidates, instant)
	}

	occupied, err := s.apptRepo.FindActiveInRange(ctx, doctorID, day, day.Add(24*time.Hour))
	if err != nil {
		s.cfg.Log.Error("Failed to load occupied slots", "doctor_id", doctorID, "date", date, "error", err)
		return nil, apperrors.Internal("Failed to resolve availability", err)
	}

	taken := make(map[int64]struct{}, len(occupied))
	for _, appt := range occupied {
		taken[appt.SlotTime.Unix()] = struct{}{}
	}

	open := make([]time.Time, 0, len(candidates))
	for _, slot := range candidates {
		if _, ok := taken[slot.Unix()]; !ok {
			open = append(open, slot)
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].Before(open[j]) })
	return open, nil
}

func slotInstant(day time.Time, hhmm string) (time.Time, error) {
	var hours, minutes int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hours, &minutes); err != nil {
		return time.Time{}, fmt.Errorf("malformed slot time %q: %w", hhmm, err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return time.Time{}, fmt.Errorf("slot time %q out of range", hhmm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hours, minutes, 0, 0, time.UTC), nil
}
