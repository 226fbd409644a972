// Package otp issues and verifies one-time codes for visitor sessions.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"parkgate/internal/metrics"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

// Sender delivers a code to the visitor. Delivery transport (SMS, email)
// is outside the engine.
type Sender interface {
	SendCode(ctx context.Context, bookingID, code string) error
}

// ExternalServiceError wraps a failure of the delivery collaborator.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsExternalService checks if error came from an external collaborator.
func IsExternalService(err error) bool {
	var ee *ExternalServiceError
	return errors.As(err, &ee)
}

// Service stores codes in redis with a TTL and verifies them single-use.
type Service struct {
	rdb    *redis.Client
	sender Sender
	ttl    time.Duration
	logger zerolog.Logger
}

// NewService creates an OTP service. A zero ttl means DefaultTTL.
func NewService(rdb *redis.Client, sender Sender, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		rdb:    rdb,
		sender: sender,
		ttl:    ttl,
		logger: logger.With().Str("component", "otp").Logger(),
	}
}

func key(bookingID string) string {
	return "otp:" + bookingID
}

// Send issues a fresh 6-digit code for the booking and hands it to the
// delivery collaborator. Re-sending replaces the previous code.
func (s *Service) Send(ctx context.Context, bookingID string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}

	if err := s.rdb.Set(ctx, key(bookingID), code, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing code: %w", err)
	}

	if err := s.sender.SendCode(ctx, bookingID, code); err != nil {
		// Invalidate the stored code so an undelivered one cannot verify.
		_ = s.rdb.Del(ctx, key(bookingID)).Err()
		return &ExternalServiceError{Op: "send code", Err: err}
	}

	s.logger.Info().Str("booking_id", bookingID).Msg("otp sent")
	return nil
}

// Verify checks the code for the booking. A correct code is consumed and
// cannot verify twice; a missing or expired code fails without error.
func (s *Service) Verify(ctx context.Context, bookingID, code string) (bool, error) {
	stored, err := s.rdb.Get(ctx, key(bookingID)).Result()
	if err == redis.Nil {
		metrics.IncOTPVerification("expired")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading code: %w", err)
	}

	if stored != code {
		metrics.IncOTPVerification("mismatch")
		return false, nil
	}

	if err := s.rdb.Del(ctx, key(bookingID)).Err(); err != nil {
		return false, fmt.Errorf("consuming code: %w", err)
	}

	metrics.IncOTPVerification("ok")
	s.logger.Info().Str("booking_id", bookingID).Msg("otp verified")
	return true, nil
}

func generateCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 6)
	for i, b := range buf {
		code[i] = '0' + b%10
	}
	return string(code), nil
}
