package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkgate/internal/availability"
	"parkgate/internal/booking"
	"parkgate/internal/db"
	"parkgate/internal/gate"
	"parkgate/internal/model"
	"parkgate/internal/notify"
	"parkgate/internal/relocation"
	"parkgate/internal/report"
	"parkgate/internal/store"
)

type fakeOTP struct {
	sent []string
	ok   bool
}

func (f *fakeOTP) Send(_ context.Context, bookingID string) error {
	f.sent = append(f.sent, bookingID)
	return nil
}

func (f *fakeOTP) Verify(_ context.Context, _, _ string) (bool, error) {
	return f.ok, nil
}

func newTestServer(t *testing.T, withGate bool) (*HTTPServer, *db.DB, *fakeOTP) {
	t.Helper()

	database := db.New(store.NewMemory())
	layout := availability.Layout{Floors: []availability.Floor{
		{Name: "1", Slots: []string{"A1", "A2"}},
		{Name: "2", Slots: []string{"B1"}},
	}}
	resolver := availability.NewResolver(database, layout, zerolog.Nop())
	bookings := booking.NewService(database, resolver, model.DefaultRateTable(), zerolog.Nop())
	emitter := notify.NewEmitter(database, nil, zerolog.Nop())
	coordinator := relocation.NewCoordinator(database, resolver, emitter, zerolog.Nop())

	var accessGate *gate.Gate
	otpSvc := &fakeOTP{ok: true}
	if withGate {
		accessGate = gate.NewGate(database, otpSvc, bookings, 0, zerolog.Nop())
	}

	srv := NewHTTPServer(bookings, coordinator, accessGate, report.NewExporter(database), zerolog.Nop())
	return srv, database, otpSvc
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createBooking(t *testing.T, handler http.Handler, slotID, plate string) model.Booking {
	t.Helper()
	entryDate := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	rec := postJSON(t, handler, "/api/bookings", CreateBookingRequest{
		Username:    "alice",
		Floor:       "1",
		SlotID:      slotID,
		PlateNumber: plate,
		RateType:    "hourly",
		EntryDate:   entryDate,
		EntryTime:   "10:00",
		Units:       2,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var b model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return b
}

func TestCreateBooking(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "alice", b.Username)
	assert.Equal(t, 80.0, b.Price)
}

func TestCreateBookingConflict(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	createBooking(t, handler, "A1", "AB123")

	entryDate := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	rec := postJSON(t, handler, "/api/bookings", CreateBookingRequest{
		Username:  "bob",
		Floor:     "1",
		SlotID:    "A1",
		RateType:  "hourly",
		EntryDate: entryDate,
		EntryTime: "11:00",
		Units:     2,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateBookingRejectsBadBody(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", bytes.NewReader([]byte(`{"unknown_field": 1}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBookingMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCancelBooking(t *testing.T) {
	srv, database, _ := newTestServer(t, false)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")

	rec := postJSON(t, handler, "/api/bookings/cancel", CancelBookingRequest{BookingID: b.ID, Reason: "change of plans"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := database.Booking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
}

func TestCancelBookingNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/api/bookings/cancel", CancelBookingRequest{BookingID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelocateConflict(t *testing.T) {
	srv, database, _ := newTestServer(t, false)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")

	rec := postJSON(t, handler, "/api/conflicts/relocate", ResolveConflictRequest{BookingID: b.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var replacement model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replacement))
	assert.NotEqual(t, b.ID, replacement.ID)
	assert.Equal(t, "A2", replacement.SlotID)

	old, err := database.Booking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, old.Status)
}

func TestCompensateConflict(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")

	rec := postJSON(t, handler, "/api/conflicts/compensate", ResolveConflictRequest{BookingID: b.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var coupon model.Coupon
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &coupon))
	assert.Equal(t, 10, coupon.Discount)
	assert.Equal(t, model.RateHourly, coupon.DiscountType)
}

func TestBarrierDeniedBeforeWindow(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")

	rec := postJSON(t, handler, "/api/barrier", BarrierRequest{BookingID: b.ID, Command: gate.CommandLift})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVisitorFlow(t *testing.T) {
	srv, _, otpSvc := newTestServer(t, true)
	handler := srv.Handler()

	entryDate := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	rec := postJSON(t, handler, "/api/bookings", CreateBookingRequest{
		Username:        "alice",
		Floor:           "1",
		SlotID:          "A1",
		PlateNumber:     "XY987",
		RateType:        "hourly",
		EntryDate:       entryDate,
		EntryTime:       "10:00",
		Units:           2,
		VisitorBooking:  true,
		VisitorUsername: "guest",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b model.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))

	rec = postJSON(t, handler, "/api/visitor/invite", VisitorInviteRequest{BookingID: b.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var invite map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invite))
	sessionID := invite["session_id"]
	require.NotEmpty(t, sessionID)

	rec = postJSON(t, handler, "/api/visitor/session", VisitorSessionRequest{SessionID: sessionID, PlateNumber: "XY987"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{b.ID}, otpSvc.sent)

	rec = postJSON(t, handler, "/api/visitor/verify", VisitorVerifyRequest{SessionID: sessionID, Code: "123456"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = postJSON(t, handler, "/api/visitor/barrier", VisitorBarrierRequest{SessionID: sessionID, Command: gate.CommandLift})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVisitorSessionWrongPlate(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")

	rec := postJSON(t, handler, "/api/visitor/invite", VisitorInviteRequest{BookingID: b.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var invite map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invite))

	rec = postJSON(t, handler, "/api/visitor/session", VisitorSessionRequest{SessionID: invite["session_id"], PlateNumber: "WRONG"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVisitorEndpointsWithoutGate(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	for _, path := range []string{"/api/visitor/invite", "/api/visitor/session", "/api/visitor/verify", "/api/visitor/barrier", "/api/barrier"} {
		rec := postJSON(t, handler, path, map[string]string{})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestExport(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	createBooking(t, handler, "A1", "AB123")

	req := httptest.NewRequest(http.MethodGet, "/api/export", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.NotZero(t, rec.Body.Len())
}

func TestFineLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	b := createBooking(t, handler, "A1", "AB123")

	rec := postJSON(t, handler, "/api/bookings/fine", FineRequest{BookingID: b.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var assessed model.FineRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assessed))
	assert.Zero(t, assessed.Amount)

	rec = postJSON(t, handler, "/api/bookings/fine/pay", FineRequest{BookingID: b.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var settled model.FineRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settled))
	assert.Equal(t, model.PaymentPaid, settled.PayFineStatus)
}

func TestRelocateNoCapacity(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	handler := srv.Handler()

	ids := make([]string, 0, 3)
	for i, slot := range []struct{ floor, id string }{{"1", "A1"}, {"1", "A2"}, {"2", "B1"}} {
		entryDate := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
		rec := postJSON(t, handler, "/api/bookings", CreateBookingRequest{
			Username:  fmt.Sprintf("user%d", i),
			Floor:     slot.floor,
			SlotID:    slot.id,
			RateType:  "hourly",
			EntryDate: entryDate,
			EntryTime: "10:00",
			Units:     2,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var b model.Booking
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
		ids = append(ids, b.ID)
	}

	rec := postJSON(t, handler, "/api/conflicts/relocate", ResolveConflictRequest{BookingID: ids[0]})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
