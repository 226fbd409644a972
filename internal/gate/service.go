// Package gate authorizes physical barrier commands and runs the visitor
// verification flow.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"parkgate/internal/db"
	"parkgate/internal/metrics"
	"parkgate/internal/model"
)

// Barrier commands.
const (
	CommandLift  = "lift"
	CommandLower = "lower"
)

// AccessDeniedError is returned when a barrier command or verification step
// is rejected.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	_, ok := err.(*AccessDeniedError)
	return ok
}

// OTPService issues and checks visitor one-time codes.
type OTPService interface {
	Send(ctx context.Context, bookingID string) error
	Verify(ctx context.Context, bookingID, code string) (bool, error)
}

// FineChecker reports whether a booking blocks on an unpaid fine.
type FineChecker interface {
	FineDue(ctx context.Context, b *model.Booking) (bool, error)
}

// Gate enforces who may move the barrier, and when.
type Gate struct {
	db       *db.DB
	otp      OTPService
	fines    FineChecker
	sessions *SessionStore
	fsm      *FSM
	logger   zerolog.Logger

	now func() time.Time
}

// NewGate creates an access gate.
func NewGate(database *db.DB, otpSvc OTPService, fines FineChecker, sessionTimeout time.Duration, logger zerolog.Logger) *Gate {
	return &Gate{
		db:       database,
		otp:      otpSvc,
		fines:    fines,
		sessions: NewSessionStore(sessionTimeout),
		fsm:      NewFSM(),
		logger:   logger.With().Str("component", "gate").Logger(),
		now:      time.Now,
	}
}

// InviteSessionID mints a session id a resident can share with a visitor.
func (g *Gate) InviteSessionID(bookingID string) string {
	return NewSessionID(bookingID, g.now())
}

// StartVisitorSession begins verification: the plate must match the booking
// before a code goes out. On success the session sits in the otp-sent state.
func (g *Gate) StartVisitorSession(ctx context.Context, sessionID, plate string) (*Session, error) {
	bookingID, err := BookingIDFromSession(sessionID)
	if err != nil {
		return nil, err
	}

	b, err := g.db.Booking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("loading booking %s: %w", bookingID, err)
	}
	if !b.IsActive() {
		return nil, &AccessDeniedError{Reason: "booking is no longer active"}
	}
	if !b.PlateMatches(plate) {
		return nil, &AccessDeniedError{Reason: "plate number does not match the booking"}
	}

	session := NewSession(sessionID, bookingID)
	session.PlateNumber = plate
	g.sessions.Put(session)

	if err := g.otp.Send(ctx, bookingID); err != nil {
		g.sessions.Delete(sessionID)
		return nil, err
	}
	if !g.fsm.Transition(session, StateOtpSent) {
		return nil, fmt.Errorf("session %s in unexpected state %s", sessionID, session.GetState())
	}

	g.logger.Info().
		Str("session_id", sessionID).
		Str("booking_id", bookingID).
		Msg("visitor session started")
	return session, nil
}

// ResendCode issues a fresh code for a session awaiting verification.
func (g *Gate) ResendCode(ctx context.Context, sessionID string) error {
	session := g.sessions.Get(sessionID)
	if session == nil {
		return &AccessDeniedError{Reason: "unknown or expired session"}
	}
	if session.GetState() != StateOtpSent {
		return &AccessDeniedError{Reason: "session is not awaiting a code"}
	}
	return g.otp.Send(ctx, session.BookingID)
}

// VerifyVisitor checks the code and promotes the session to verified.
func (g *Gate) VerifyVisitor(ctx context.Context, sessionID, code string) error {
	session := g.sessions.Get(sessionID)
	if session == nil {
		return &AccessDeniedError{Reason: "unknown or expired session"}
	}
	if session.GetState() != StateOtpSent {
		return &AccessDeniedError{Reason: "session is not awaiting a code"}
	}

	ok, err := g.otp.Verify(ctx, session.BookingID, code)
	if err != nil {
		return err
	}
	if !ok {
		return &AccessDeniedError{Reason: "invalid or expired code"}
	}
	if !g.fsm.Transition(session, StateVerified) {
		return fmt.Errorf("session %s in unexpected state %s", sessionID, session.GetState())
	}

	g.logger.Info().
		Str("session_id", sessionID).
		Str("booking_id", session.BookingID).
		Msg("visitor verified")
	return nil
}

// Command authorizes and executes a barrier command for the booking's
// owner. Authorized commands append to the booking's barrier log.
func (g *Gate) Command(ctx context.Context, bookingID, command string) error {
	b, err := g.db.Booking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("loading booking %s: %w", bookingID, err)
	}
	return g.execute(ctx, b, command)
}

// VisitorCommand executes a barrier command through a verified visitor
// session.
func (g *Gate) VisitorCommand(ctx context.Context, sessionID, command string) error {
	session := g.sessions.Get(sessionID)
	if session == nil {
		metrics.IncBarrierCommand(command, "denied")
		return &AccessDeniedError{Reason: "unknown or expired session"}
	}
	if session.GetState() != StateVerified {
		metrics.IncBarrierCommand(command, "denied")
		return &AccessDeniedError{Reason: "session is not verified"}
	}
	return g.Command(ctx, session.BookingID, command)
}

func (g *Gate) execute(ctx context.Context, b *model.Booking, command string) error {
	if err := g.authorize(ctx, b, command); err != nil {
		if IsAccessDenied(err) {
			metrics.IncBarrierCommand(command, "denied")
			g.logger.Warn().
				Str("booking_id", b.ID).
				Str("command", command).
				Str("reason", err.Error()).
				Msg("barrier command denied")
		}
		return err
	}

	now := g.now()
	entry := model.BarrierLogEntry{
		Status: statusFor(command),
		Date:   now.Format("2006-01-02"),
		Time:   now.Format("15:04"),
	}
	if err := g.db.AppendBarrierLog(ctx, b.ID, entry); err != nil {
		return fmt.Errorf("appending barrier log: %w", err)
	}

	metrics.IncBarrierCommand(command, "allowed")
	g.logger.Info().
		Str("booking_id", b.ID).
		Str("command", command).
		Msg("barrier command executed")
	return nil
}

// authorize applies the gate rules: a valid command on an active booking
// inside its time window (visitor bookings exempt from the window checks).
// Past the exit instant only the settle-and-depart case stays open: the
// fine must be cleared and the barrier log must say the vehicle is still
// inside, so the overstayer can leave.
func (g *Gate) authorize(ctx context.Context, b *model.Booking, command string) error {
	if command != CommandLift && command != CommandLower {
		return fmt.Errorf("unknown barrier command %q", command)
	}
	if !b.IsActive() {
		return &AccessDeniedError{Reason: "booking is no longer active"}
	}

	window, err := b.Window()
	if err != nil {
		return err
	}
	now := g.now()

	if window.Expired(now) {
		due, err := g.fines.FineDue(ctx, b)
		if err != nil {
			return err
		}
		if due {
			return &AccessDeniedError{Reason: "overdue fine must be paid before leaving"}
		}
		if b.IsVisitorBooking {
			return nil
		}
		logs, err := g.db.BarrierLogs(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("loading barrier logs: %w", err)
		}
		if model.ResolveOccupancy(logs) == model.StillPresent {
			return nil
		}
		return &AccessDeniedError{Reason: "outside the booked time window"}
	}

	if !b.IsVisitorBooking && now.Before(window.Entry) {
		return &AccessDeniedError{Reason: "outside the booked time window"}
	}
	return nil
}

func statusFor(command string) string {
	if command == CommandLift {
		return model.BarrierLifted
	}
	return model.BarrierLowered
}
