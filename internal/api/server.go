// Package api exposes the engine operations over HTTP for the outer
// application layer.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"parkgate/internal/booking"
	"parkgate/internal/gate"
	"parkgate/internal/relocation"
	"parkgate/internal/report"
)

// HTTPServer routes engine operations.
type HTTPServer struct {
	bookings    *booking.Service
	coordinator *relocation.Coordinator
	gate        *gate.Gate // nil when visitor verification is disabled
	exporter    *report.Exporter
	logger      zerolog.Logger
}

// NewHTTPServer creates the API server. The gate may be nil when no OTP
// backend is configured; visitor endpoints then answer 503.
func NewHTTPServer(bookings *booking.Service, coordinator *relocation.Coordinator, accessGate *gate.Gate, exporter *report.Exporter, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		bookings:    bookings,
		coordinator: coordinator,
		gate:        accessGate,
		exporter:    exporter,
		logger:      logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the route table.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bookings", s.handleCreateBooking)
	mux.HandleFunc("/api/bookings/cancel", s.handleCancelBooking)
	mux.HandleFunc("/api/bookings/fine", s.handleAssessFine)
	mux.HandleFunc("/api/bookings/fine/pay", s.handleSettleFine)
	mux.HandleFunc("/api/conflicts/relocate", s.handleRelocate)
	mux.HandleFunc("/api/conflicts/compensate", s.handleCompensate)
	mux.HandleFunc("/api/barrier", s.handleBarrier)
	mux.HandleFunc("/api/visitor/invite", s.handleVisitorInvite)
	mux.HandleFunc("/api/visitor/session", s.handleVisitorSession)
	mux.HandleFunc("/api/visitor/verify", s.handleVisitorVerify)
	mux.HandleFunc("/api/visitor/barrier", s.handleVisitorBarrier)
	mux.HandleFunc("/api/export", s.handleExport)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return false
	}
	return true
}
