package api

import (
	"errors"
	"net/http"

	"parkgate/internal/availability"
	"parkgate/internal/gate"
	"parkgate/internal/metrics"
	"parkgate/internal/store"
)

// ResolveConflictRequest identifies the booking caught in a slot conflict.
type ResolveConflictRequest struct {
	BookingID string `json:"booking_id"`
}

// POST /api/conflicts/relocate
func (s *HTTPServer) handleRelocate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("conflict_relocate")
	if !requirePost(w, r) {
		return
	}

	var req ResolveConflictRequest
	if !decodeBody(w, r, &req) {
		return
	}

	replacement, err := s.coordinator.Relocate(r.Context(), req.BookingID)
	if err != nil {
		switch {
		case errors.Is(err, availability.ErrNoCapacity):
			writeError(w, http.StatusConflict, "no replacement slot available")
		case store.IsStaleRead(err):
			writeError(w, http.StatusConflict, "slot state changed, retry")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "booking not found")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, replacement)
}

// POST /api/conflicts/compensate
func (s *HTTPServer) handleCompensate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("conflict_compensate")
	if !requirePost(w, r) {
		return
	}

	var req ResolveConflictRequest
	if !decodeBody(w, r, &req) {
		return
	}

	coupon, err := s.coordinator.Compensate(r.Context(), req.BookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, coupon)
}

// BarrierRequest is the request body for POST /api/barrier.
type BarrierRequest struct {
	BookingID string `json:"booking_id"`
	Command   string `json:"command"` // lift or lower
}

// POST /api/barrier
func (s *HTTPServer) handleBarrier(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("barrier")
	if !requirePost(w, r) {
		return
	}
	if s.gate == nil {
		writeError(w, http.StatusServiceUnavailable, "access gate not configured")
		return
	}

	var req BarrierRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.gate.Command(r.Context(), req.BookingID, req.Command); err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// VisitorInviteRequest mints a shareable session id for a booking.
type VisitorInviteRequest struct {
	BookingID string `json:"booking_id"`
}

// POST /api/visitor/invite
func (s *HTTPServer) handleVisitorInvite(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("visitor_invite")
	if !requirePost(w, r) {
		return
	}
	if s.gate == nil {
		writeError(w, http.StatusServiceUnavailable, "access gate not configured")
		return
	}

	var req VisitorInviteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BookingID == "" {
		writeError(w, http.StatusBadRequest, "booking_id is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": s.gate.InviteSessionID(req.BookingID),
	})
}

// VisitorSessionRequest starts visitor verification.
type VisitorSessionRequest struct {
	SessionID   string `json:"session_id"`
	PlateNumber string `json:"plate_number"`
}

// POST /api/visitor/session
func (s *HTTPServer) handleVisitorSession(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("visitor_session")
	if !requirePost(w, r) {
		return
	}
	if s.gate == nil {
		writeError(w, http.StatusServiceUnavailable, "access gate not configured")
		return
	}

	var req VisitorSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.gate.StartVisitorSession(r.Context(), req.SessionID, req.PlateNumber)
	if err != nil {
		writeGateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"state":      string(session.GetState()),
	})
}

// VisitorVerifyRequest carries the one-time code.
type VisitorVerifyRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

// POST /api/visitor/verify
func (s *HTTPServer) handleVisitorVerify(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("visitor_verify")
	if !requirePost(w, r) {
		return
	}
	if s.gate == nil {
		writeError(w, http.StatusServiceUnavailable, "access gate not configured")
		return
	}

	var req VisitorVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.gate.VerifyVisitor(r.Context(), req.SessionID, req.Code); err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

// VisitorBarrierRequest is a barrier command through a visitor session.
type VisitorBarrierRequest struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
}

// POST /api/visitor/barrier
func (s *HTTPServer) handleVisitorBarrier(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("visitor_barrier")
	if !requirePost(w, r) {
		return
	}
	if s.gate == nil {
		writeError(w, http.StatusServiceUnavailable, "access gate not configured")
		return
	}

	var req VisitorBarrierRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.gate.VisitorCommand(r.Context(), req.SessionID, req.Command); err != nil {
		writeGateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeGateError(w http.ResponseWriter, err error) {
	switch {
	case gate.IsAccessDenied(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
