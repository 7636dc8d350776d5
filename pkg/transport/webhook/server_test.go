package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/napryag/doctor_booking_bot/pkg/observability/metrics"
	"github.com/napryag/doctor_booking_bot/pkg/repository/model"
	"github.com/napryag/doctor_booking_bot/pkg/utils/errs"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, upd tgbotapi.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	return f.err
}

type decision struct {
	action string
	id     int64
	reason string
}

type fakeDecider struct {
	calls []decision
	err   error
}

func (f *fakeDecider) Confirm(_ context.Context, id int64) error {
	f.calls = append(f.calls, decision{"confirm", id, ""})
	return f.err
}

func (f *fakeDecider) Reject(_ context.Context, id int64, reason string) error {
	f.calls = append(f.calls, decision{"reject", id, reason})
	return f.err
}

func (f *fakeDecider) CancelByDoctor(_ context.Context, id int64, reason string) error {
	f.calls = append(f.calls, decision{"cancel", id, reason})
	return f.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

const (
	secret = "hook-secret"
	admin  = "admin-token"
)

func newServer(sub *fakeSubmitter, dec *fakeDecider, opts ...Option) http.Handler {
	return NewHandler(Config{WebhookSecret: secret, AdminToken: admin, AdminRate: 100}, sub, dec, zerolog.Nop(), opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestUpdateIsSubmitted(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newServer(sub, &fakeDecider{})

	rr := do(t, h, http.MethodPost, UpdatePath,
		`{"update_id":77,"message":{"message_id":1,"from":{"id":42},"chat":{"id":42},"text":"hi"}}`,
		map[string]string{SecretHeader: secret})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	require.Len(t, sub.updates, 1)
	assert.Equal(t, 77, sub.updates[0].UpdateID)
	assert.Equal(t, int64(42), sub.updates[0].Message.From.ID)
}

func TestUpdateWithWrongSecretIsRejected(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newServer(sub, &fakeDecider{})

	rr := do(t, h, http.MethodPost, UpdatePath, `{"update_id":1}`, map[string]string{SecretHeader: "guess"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, UpdatePath, `{"update_id":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, sub.updates)
}

func TestMalformedUpdateIsAcknowledged(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newServer(sub, &fakeDecider{})

	rr := do(t, h, http.MethodPost, UpdatePath, `{"update_id":`, map[string]string{SecretHeader: secret})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, sub.updates)
}

func TestRefusedUpdateAsksForRedelivery(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("pool is busy")}
	h := newServer(sub, &fakeDecider{})

	rr := do(t, h, http.MethodPost, UpdatePath, `{"update_id":5}`, map[string]string{SecretHeader: secret})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUpdateWithoutConfiguredSecret(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewHandler(Config{}, sub, &fakeDecider{}, zerolog.Nop())

	rr := do(t, h, http.MethodPost, UpdatePath, `{"update_id":9}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, sub.updates, 1)
}

func TestAdminDecisions(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer " + admin, "Content-Type": "application/json"}

	t.Run("confirm", func(t *testing.T) {
		dec := &fakeDecider{}
		rr := do(t, newServer(&fakeSubmitter{}, dec), http.MethodPost, "/admin/appointments/12/confirm", "", auth)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"id":12,"status":"ok"}`, rr.Body.String())
		assert.Equal(t, []decision{{"confirm", 12, ""}}, dec.calls)
	})

	t.Run("reject with reason", func(t *testing.T) {
		dec := &fakeDecider{}
		rr := do(t, newServer(&fakeSubmitter{}, dec), http.MethodPost, "/admin/appointments/12/reject",
			`{"reason":"  в отпуске "}`, auth)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []decision{{"reject", 12, "в отпуске"}}, dec.calls)
	})

	t.Run("cancel", func(t *testing.T) {
		dec := &fakeDecider{}
		rr := do(t, newServer(&fakeSubmitter{}, dec), http.MethodPost, "/admin/appointments/3/cancel",
			`{"reason":"болезнь"}`, auth)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []decision{{"cancel", 3, "болезнь"}}, dec.calls)
	})

	for name, tc := range map[string]struct {
		path string
		body string
		err  error
		code int
	}{
		"bad id":            {"/admin/appointments/abc/confirm", "", nil, http.StatusBadRequest},
		"unknown action":    {"/admin/appointments/1/approve", "", nil, http.StatusNotFound},
		"bad body":          {"/admin/appointments/1/reject", `{"reason":`, nil, http.StatusBadRequest},
		"not found":         {"/admin/appointments/1/confirm", "", errs.New("appointment not found").Wrap(model.ErrNotFound), http.StatusNotFound},
		"already processed": {"/admin/appointments/1/confirm", "", errs.New("guard failed").Wrap(model.ErrAlreadyProcessed), http.StatusConflict},
		"internal":          {"/admin/appointments/1/confirm", "", errors.New("db down"), http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			rr := do(t, newServer(&fakeSubmitter{}, &fakeDecider{err: tc.err}), http.MethodPost, tc.path, tc.body, auth)
			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestAdminRequiresToken(t *testing.T) {
	dec := &fakeDecider{}
	h := newServer(&fakeSubmitter{}, dec)

	rr := do(t, h, http.MethodPost, "/admin/appointments/1/confirm", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/admin/appointments/1/confirm", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, dec.calls)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := NewHandler(Config{WebhookSecret: secret}, &fakeSubmitter{}, &fakeDecider{}, zerolog.Nop())

	rr := do(t, h, http.MethodPost, "/admin/appointments/1/confirm", "", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminIsRateLimited(t *testing.T) {
	h := NewHandler(Config{AdminToken: admin, AdminRate: 2}, &fakeSubmitter{}, &fakeDecider{}, zerolog.Nop())
	auth := map[string]string{"Authorization": "Bearer " + admin}

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodPost, "/admin/appointments/1/confirm", "", auth).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHealth(t *testing.T) {
	h := newServer(&fakeSubmitter{}, &fakeDecider{}, WithHealthCheck("postgres", pinger{}), WithHealthCheck("redis", pinger{}))
	rr := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	h = newServer(&fakeSubmitter{}, &fakeDecider{}, WithHealthCheck("redis", pinger{errors.New("dial tcp: refused")}))
	rr = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "redis")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewBookingMetrics(reg)
	m.ObserveBooking("created")

	h := newServer(&fakeSubmitter{}, &fakeDecider{}, WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	rr := do(t, h, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "booking_appointments_created_total")
}
