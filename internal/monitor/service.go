// Package monitor runs the periodic overstay, reconciliation and reminder
// checks.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parkgate/internal/availability"
	"parkgate/internal/db"
	"parkgate/internal/metrics"
	"parkgate/internal/model"
	"parkgate/internal/notify"
	"parkgate/internal/store"
)

// Config holds configuration for the monitor service.
type Config struct {
	// CheckInterval is how often the checks run. Default: 30 seconds.
	CheckInterval time.Duration

	// DetectionWindow is how far back an entry instant may lie for its
	// booking to be treated as arriving now. Default: 15 minutes.
	DetectionWindow time.Duration

	// ReminderLead is how long before exit the expiry reminder fires.
	// Default: 10 minutes.
	ReminderLead time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:   30 * time.Second,
		DetectionWindow: 15 * time.Minute,
		ReminderLead:    10 * time.Minute,
	}
}

// Service watches bookings for overstay conflicts, prepares relocation
// offers for unhandled conflict notifications and sends expiry reminders.
type Service struct {
	config   *Config
	db       *db.DB
	resolver *availability.Resolver
	emitter  *notify.Emitter
	logger   zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// seen short-circuits conflicts already recorded in this process; the
	// durable marker is conflictNotifiedAt on the booking.
	seen map[string]struct{}

	now func() time.Time
}

// NewService creates a monitor service.
func NewService(config *Config, database *db.DB, resolver *availability.Resolver, emitter *notify.Emitter, logger zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckInterval == 0 {
		config.CheckInterval = 30 * time.Second
	}
	if config.DetectionWindow == 0 {
		config.DetectionWindow = 15 * time.Minute
	}
	if config.ReminderLead == 0 {
		config.ReminderLead = 10 * time.Minute
	}

	return &Service{
		config:   config,
		db:       database,
		resolver: resolver,
		emitter:  emitter,
		logger:   logger.With().Str("component", "monitor").Logger(),
		stopCh:   make(chan struct{}),
		seen:     make(map[string]struct{}),
		now:      time.Now,
	}
}

// Start begins the check loop. A notification watch triggers an extra
// reconciliation pass as soon as a new conflict is recorded.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	kick := make(chan struct{}, 1)
	s.wg.Add(1)
	go s.watchNotifications(ctx, kick)

	s.wg.Add(1)
	go s.loop(ctx, kick)

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Dur("detection_window", s.config.DetectionWindow).
		Msg("monitor started")
}

// Stop gracefully stops the monitor.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info().Msg("monitor stopped")
}

func (s *Service) loop(ctx context.Context, kick <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.CheckNow(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		case <-kick:
			s.reconcile(ctx)
		}
	}
}

func (s *Service) watchNotifications(ctx context.Context, kick chan<- struct{}) {
	defer s.wg.Done()

	events := s.db.Store().Watch(ctx, db.NotificationsRoot)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Deleted {
				continue
			}
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// CheckNow runs one full pass (useful for testing).
func (s *Service) CheckNow(ctx context.Context) {
	s.detectOverstays(ctx)
	s.reconcile(ctx)
	s.sendReminders(ctx)
}

// detectOverstays records a conflict for every booking whose window just
// started while the previous occupant's barrier log says the vehicle never
// left. Notification and durable marker land in one batch.
func (s *Service) detectOverstays(ctx context.Context) {
	bookings, err := s.db.ActiveBookings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("loading active bookings")
		return
	}
	now := s.now()

	for i := range bookings {
		incoming := &bookings[i]
		if incoming.ConflictNotifiedAt != "" {
			continue
		}
		if _, done := s.seen[incoming.ID]; done {
			continue
		}

		window, err := incoming.Window()
		if err != nil {
			s.logger.Warn().Str("booking_id", incoming.ID).Err(err).Msg("skipping booking with bad window")
			continue
		}
		// Only bookings whose entry just arrived.
		if window.Entry.After(now) || window.Entry.Before(now.Add(-s.config.DetectionWindow)) {
			continue
		}

		blocker := s.findBlocker(ctx, bookings, incoming, window.Entry, now)
		if blocker == nil {
			continue
		}

		s.recordConflict(ctx, incoming, blocker)
	}
}

// findBlocker returns a prior booking on the same slot whose window ended
// but whose vehicle is still present according to the barrier log.
func (s *Service) findBlocker(ctx context.Context, bookings []model.Booking, incoming *model.Booking, entry, now time.Time) *model.Booking {
	for i := range bookings {
		prior := &bookings[i]
		if prior.ID == incoming.ID || prior.Floor != incoming.Floor || prior.SlotID != incoming.SlotID {
			continue
		}
		pw, err := prior.Window()
		if err != nil {
			continue
		}
		if pw.Exit.After(entry) || pw.Exit.After(now) {
			continue
		}

		logs, err := s.db.BarrierLogs(ctx, prior.ID)
		if err != nil {
			s.logger.Error().Str("booking_id", prior.ID).Err(err).Msg("loading barrier logs")
			continue
		}
		if model.ResolveOccupancy(logs) == model.StillPresent {
			return prior
		}
	}
	return nil
}

func (s *Service) recordConflict(ctx context.Context, incoming, blocker *model.Booking) {
	incoming.ConflictNotifiedAt = s.now().Format(time.RFC3339)

	notification := model.Notification{
		Type:      model.NotifySlotUnavailable,
		Message:   fmt.Sprintf("Your parking slot %s (floor %s) is still occupied by the previous vehicle.", incoming.SlotID, incoming.Floor),
		SlotID:    incoming.SlotID,
		Floor:     incoming.Floor,
		Username:  incoming.Username,
		BookingID: incoming.ID,
	}
	ops := []store.Op{{Path: db.BookingPath(incoming.ID), Value: incoming}}
	_, notifyOp, err := s.emitter.Prepare(ctx, notification)
	switch {
	case err == notify.ErrDuplicate:
		// The user already heard about this slot; keep the marker alone.
	case err != nil:
		incoming.ConflictNotifiedAt = ""
		s.logger.Error().Str("booking_id", incoming.ID).Err(err).Msg("preparing conflict notification")
		return
	default:
		ops = append(ops, notifyOp)
	}

	if err := s.db.Store().Apply(ctx, ops); err != nil {
		incoming.ConflictNotifiedAt = ""
		s.logger.Error().Str("booking_id", incoming.ID).Err(err).Msg("recording conflict")
		return
	}

	s.seen[incoming.ID] = struct{}{}
	metrics.IncOverstayDetected()
	s.logger.Warn().
		Str("booking_id", incoming.ID).
		Str("blocker_id", blocker.ID).
		Str("slot", incoming.Floor+"/"+incoming.SlotID).
		Msg("overstay conflict detected")
}

// reconcile prepares a relocation offer for every unhandled conflict
// notification. Running it twice for the same notification is a no-op
// beyond re-marking it handled.
func (s *Service) reconcile(ctx context.Context) {
	pending, err := s.db.UnhandledConflicts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("loading unhandled conflicts")
		return
	}

	for i := range pending {
		n := &pending[i]
		if err := s.reconcileOne(ctx, n); err != nil {
			s.logger.Error().Str("notification_id", n.ID).Err(err).Msg("reconciling conflict")
		}
	}
}

func (s *Service) reconcileOne(ctx context.Context, n *model.Notification) error {
	b, err := s.matchBooking(ctx, n)
	if err != nil {
		return err
	}
	if b == nil {
		// The booking is gone; nothing left to offer.
		n.Handled = true
		return s.db.Store().Put(ctx, db.NotificationPath(n.ID), n)
	}

	window, err := b.Window()
	if err != nil {
		return err
	}

	exclude := availability.Slot{Floor: b.Floor, SlotID: b.SlotID}
	target, err := s.resolver.FindFreeSlot(ctx, window, exclude)
	switch {
	case err == availability.ErrNoCapacity:
		n.Message = fmt.Sprintf("Your parking slot %s (floor %s) is unavailable and no replacement slot is free. You can cancel for a compensation coupon.", b.SlotID, b.Floor)
	case err != nil:
		return err
	default:
		n.Message = fmt.Sprintf("Your parking slot %s (floor %s) is unavailable. Slot %s (floor %s) is free for your booking. Accept the move or cancel for a compensation coupon.", b.SlotID, b.Floor, target.SlotID, target.Floor)
		n.OfferSlotID = target.SlotID
		n.OfferFloor = target.Floor
	}
	n.Handled = true

	if err := s.db.Store().Put(ctx, db.NotificationPath(n.ID), n); err != nil {
		return err
	}
	s.logger.Info().
		Str("notification_id", n.ID).
		Str("booking_id", b.ID).
		Str("offer", n.OfferFloor+"/"+n.OfferSlotID).
		Msg("conflict offer prepared")
	return nil
}

// matchBooking resolves the booking a conflict notification refers to, by
// id when recorded, by slot otherwise.
func (s *Service) matchBooking(ctx context.Context, n *model.Notification) (*model.Booking, error) {
	if n.BookingID != "" {
		b, err := s.db.Booking(ctx, n.BookingID)
		if err == store.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !b.IsActive() {
			return nil, nil
		}
		return b, nil
	}

	bookings, err := s.db.ActiveBookings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bookings {
		b := &bookings[i]
		if b.SlotID == n.SlotID && b.Floor == n.Floor && b.Username == n.Username {
			return b, nil
		}
	}
	return nil, nil
}

// sendReminders notifies users shortly before their window ends. Hourly and
// daily bookings get a reminder before the exit instant; monthly bookings
// on the evening of the exit date.
func (s *Service) sendReminders(ctx context.Context) {
	bookings, err := s.db.ActiveBookings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("loading active bookings")
		return
	}
	now := s.now()

	for i := range bookings {
		b := &bookings[i]
		window, err := b.Window()
		if err != nil {
			continue
		}

		switch b.RateType {
		case model.RateHourly, model.RateDaily:
			if b.NotifiedHour || now.Before(window.Exit.Add(-s.config.ReminderLead)) || now.After(window.Exit) {
				continue
			}
			b.NotifiedHour = true
			s.sendReminder(ctx, b, fmt.Sprintf("Your parking at slot %s (floor %s) expires at %s.", b.SlotID, b.Floor, window.Exit.Format("15:04")))
		case model.RateMonthly:
			if b.NotifiedMonthly || now.Format("2006-01-02") != b.ExitDate {
				continue
			}
			if now.Hour() < 23 || now.Minute() < 50 {
				continue
			}
			b.NotifiedMonthly = true
			s.sendReminder(ctx, b, fmt.Sprintf("Your monthly parking at slot %s (floor %s) expires today.", b.SlotID, b.Floor))
		}
	}
}

func (s *Service) sendReminder(ctx context.Context, b *model.Booking, message string) {
	notification := model.Notification{
		Type:      model.NotifyReminder,
		Message:   message,
		SlotID:    b.SlotID,
		Floor:     b.Floor,
		Username:  b.Username,
		BookingID: b.ID,
		Handled:   true,
	}
	ops := []store.Op{{Path: db.BookingPath(b.ID), Value: b}}
	_, notifyOp, err := s.emitter.Prepare(ctx, notification)
	switch {
	case err == notify.ErrDuplicate:
		// Still record the flag so the reminder is not retried.
	case err != nil:
		s.logger.Error().Str("booking_id", b.ID).Err(err).Msg("preparing reminder")
		return
	default:
		ops = append(ops, notifyOp)
	}

	if err := s.db.Store().Apply(ctx, ops); err != nil {
		s.logger.Error().Str("booking_id", b.ID).Err(err).Msg("sending reminder")
		return
	}
	s.logger.Info().Str("booking_id", b.ID).Msg("reminder sent")
}
