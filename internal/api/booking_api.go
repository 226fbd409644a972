package api

import (
	"errors"
	"net/http"

	"parkgate/internal/availability"
	"parkgate/internal/booking"
	"parkgate/internal/metrics"
	"parkgate/internal/model"
	"parkgate/internal/store"
)

// CreateBookingRequest is the request body for POST /api/bookings.
type CreateBookingRequest struct {
	Username    string `json:"username"`
	Floor       string `json:"floor"`
	SlotID      string `json:"slot_id"`
	PlateNumber string `json:"plate_number,omitempty"`
	RateType    string `json:"rate_type"`  // hourly, daily, monthly
	EntryDate   string `json:"entry_date"` // YYYY-MM-DD
	EntryTime   string `json:"entry_time,omitempty"`
	Units       int    `json:"units"` // hours, days or months
	CouponID    string `json:"coupon_id,omitempty"`

	VisitorBooking  bool   `json:"visitor_booking,omitempty"`
	VisitorUsername string `json:"visitor_username,omitempty"`
}

// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_create")
	if !requirePost(w, r) {
		return
	}

	var req CreateBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Floor == "" || req.SlotID == "" {
		writeError(w, http.StatusBadRequest, "username, floor and slot_id are required")
		return
	}

	b, err := s.bookings.Create(r.Context(), booking.CreateRequest{
		Username:         req.Username,
		Floor:            req.Floor,
		SlotID:           req.SlotID,
		PlateNumber:      req.PlateNumber,
		RateType:         model.RateType(req.RateType),
		EntryDate:        req.EntryDate,
		EntryTime:        req.EntryTime,
		Units:            req.Units,
		CouponID:         req.CouponID,
		IsVisitorBooking: req.VisitorBooking,
		VisitorUsername:  req.VisitorUsername,
	})
	if err != nil {
		var conflict *availability.ConflictError
		if errors.As(err, &conflict) {
			writeError(w, http.StatusConflict, conflict.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// CancelBookingRequest is the request body for POST /api/bookings/cancel.
type CancelBookingRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason,omitempty"`
}

// POST /api/bookings/cancel
func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_cancel")
	if !requirePost(w, r) {
		return
	}

	var req CancelBookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BookingID == "" {
		writeError(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	if err := s.bookings.Cancel(r.Context(), req.BookingID, req.Reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// FineRequest identifies a booking whose fine is assessed or settled.
type FineRequest struct {
	BookingID string `json:"booking_id"`
}

// POST /api/bookings/fine
func (s *HTTPServer) handleAssessFine(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("fine_assess")
	if !requirePost(w, r) {
		return
	}

	var req FineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.bookings.AssessFine(r.Context(), req.BookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// POST /api/bookings/fine/pay
func (s *HTTPServer) handleSettleFine(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("fine_pay")
	if !requirePost(w, r) {
		return
	}

	var req FineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := s.bookings.SettleFine(r.Context(), req.BookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GET /api/export
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="parkgate-export.xlsx"`)
	if err := s.exporter.Export(r.Context(), w); err != nil {
		s.logger.Error().Err(err).Msg("export failed")
	}
}
