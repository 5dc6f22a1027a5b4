package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/event-escrow/internal/checkin"
	"github.com/Shivanand-hulikatti/event-escrow/internal/i18n"
	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
	"github.com/Shivanand-hulikatti/event-escrow/internal/rail"
	"github.com/Shivanand-hulikatti/event-escrow/internal/repository"
	"github.com/Shivanand-hulikatti/event-escrow/internal/service"
)

var start = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	router http.Handler
	now    time.Time
}

func newTestServer(t *testing.T, faucet bool) *testServer {
	t.Helper()
	ts := &testServer{now: start}
	memRail := rail.NewMemoryRail()
	ledger := repository.NewMemoryLedger()
	svc := service.NewEscrowService(
		ledger,
		repository.NewMemoryRegistrar(ledger),
		memRail,
		checkin.NewSigner("handler-test"),
		service.Config{Currency: "USDC", CreationMargin: time.Minute},
		service.WithClock(func() time.Time { return ts.now }),
	)
	h := NewEventHandler(svc, memRail, i18n.NewTranslator("en", zerolog.Nop()), zerolog.Nop(),
		Options{Decimals: 2, Faucet: faucet})

	r := chi.NewRouter()
	r.Use(Identify)
	r.Get("/health", HealthCheck)
	h.Routes(r)
	ts.router = r
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, caller string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func (ts *testServer) createEvent(t *testing.T, id, price string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/events", "org", model.CreateEventRequest{
		ID:                       id,
		Name:                     "Launch party",
		TicketPrice:              price,
		EventEndTime:             start.Add(time.Hour),
		RedistributionPercentage: 50,
	})
	expectStatus(t, rec, http.StatusCreated)
}

func (ts *testServer) deposit(t *testing.T, account, amount string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/accounts/"+account+"/deposits", "", model.DepositRequest{Amount: amount})
	expectStatus(t, rec, http.StatusCreated)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestEscrowFlow(t *testing.T) {
	ts := newTestServer(t, true)
	ts.createEvent(t, "launch", "1.00")

	ev := decode[model.Event](t, ts.do(t, http.MethodGet, "/events/launch", "", nil))
	if ev.TicketPrice != 100 || ev.Organizer != "org" {
		t.Fatalf("event = %+v", ev)
	}

	for _, a := range []string{"alice", "bob", "carol"} {
		ts.deposit(t, a, "1.00")
		rec := ts.do(t, http.MethodPost, "/events/launch/tickets", a, nil)
		expectStatus(t, rec, http.StatusCreated)
		res := decode[model.PurchaseResult](t, rec)
		if res.Receipt == nil || res.CheckInToken == "" {
			t.Fatalf("purchase result = %+v", res)
		}
	}

	rec := ts.do(t, http.MethodPost, "/events/launch/attendance", "org",
		model.AttendanceRequest{Participants: []string{"alice", "bob"}})
	expectStatus(t, rec, http.StatusOK)

	rec = ts.do(t, http.MethodPost, "/events/launch/finalize", "org", nil)
	expectStatus(t, rec, http.StatusConflict)
	if e := decode[model.ErrorResponse](t, rec); e.Error != "event_not_yet_ended" {
		t.Errorf("error = %+v", e)
	}

	ts.now = start.Add(2 * time.Hour)
	rec = ts.do(t, http.MethodPost, "/events/launch/finalize", "org", nil)
	expectStatus(t, rec, http.StatusOK)
	fin := decode[model.FinalizeResult](t, rec)
	if fin.Settlement.OrganizerShare != 50 || fin.Settlement.RedistributionAmount != 50 {
		t.Errorf("settlement = %+v", fin.Settlement)
	}

	rec = ts.do(t, http.MethodGet, "/events/launch/participants/alice/redistribution", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if p := decode[amountResponse](t, rec); p.Amount != 125 || p.Display != "1.25" {
		t.Errorf("potential = %+v", p)
	}

	rec = ts.do(t, http.MethodPost, "/events/launch/withdrawals", "alice", nil)
	expectStatus(t, rec, http.StatusOK)
	if w := decode[model.WithdrawResult](t, rec); w.Amount != 125 {
		t.Errorf("withdraw = %+v", w)
	}
	rec = ts.do(t, http.MethodPost, "/events/launch/withdrawals", "alice", nil)
	expectStatus(t, rec, http.StatusConflict)

	bal := decode[balanceResponse](t, ts.do(t, http.MethodGet, "/accounts/alice/balance", "", nil))
	if bal.Balance != 125 || bal.Display != "1.25" {
		t.Errorf("balance = %+v", bal)
	}

	stats := decode[model.EventStats](t, ts.do(t, http.MethodGet, "/events/launch/stats", "", nil))
	if stats.AttendeeCount != 2 || stats.AbsenteeCount != 1 || stats.TotalAbsenteeFunds != 100 || !stats.Frozen {
		t.Errorf("stats = %+v", stats)
	}
	ps := decode[[]model.Participant](t, ts.do(t, http.MethodGet, "/events/launch/participants", "", nil))
	if len(ps) != 3 {
		t.Errorf("participants = %d, want 3", len(ps))
	}
}

func TestFreeEventFlow(t *testing.T) {
	ts := newTestServer(t, false)
	ts.createEvent(t, "meetup", "0")

	rec := ts.do(t, http.MethodPost, "/events/meetup/tickets", "dana", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = ts.do(t, http.MethodPost, "/events/meetup/registrations", "dana", nil)
	expectStatus(t, rec, http.StatusCreated)
	res := decode[model.PurchaseResult](t, rec)

	rec = ts.do(t, http.MethodPost, "/events/meetup/checkin", "org", model.CheckInRequest{Token: res.CheckInToken})
	expectStatus(t, rec, http.StatusOK)
	if c := decode[model.CheckInResult](t, rec); c.Registration == nil || !c.Registration.CheckedIn {
		t.Errorf("check-in = %+v", c)
	}

	regs := decode[[]model.Registration](t, ts.do(t, http.MethodGet, "/events/meetup/registrations", "", nil))
	if len(regs) != 1 || regs[0].Account != "dana" {
		t.Errorf("registrations = %+v", regs)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, true)
	ts.createEvent(t, "gala", "5.00")
	ts.deposit(t, "payer", "5.00")
	if rec := ts.do(t, http.MethodPost, "/events/gala/tickets", "payer", nil); rec.Code != http.StatusCreated {
		t.Fatalf("purchase: %s", rec.Body.String())
	}

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   any
		status int
		code   string
	}{
		{"missing caller", http.MethodPost, "/events/gala/tickets", "", nil, http.StatusUnauthorized, "missing_caller"},
		{"unknown event", http.MethodGet, "/events/nope", "", nil, http.StatusNotFound, "event_not_found"},
		{"not organizer", http.MethodPost, "/events/gala/finalize", "payer", nil, http.StatusForbidden, "not_organizer"},
		{"insufficient funds", http.MethodPost, "/events/gala/tickets", "broke", nil, http.StatusPaymentRequired, "insufficient_funds"},
		{"already paid", http.MethodPost, "/events/gala/tickets", "payer", nil, http.StatusConflict, "already_paid"},
		{"bad price", http.MethodPost, "/events", "org", model.CreateEventRequest{TicketPrice: "abc", EventEndTime: start.Add(time.Hour)}, http.StatusBadRequest, "invalid_price"},
		{"not withdrawable", http.MethodPost, "/events/gala/withdrawals", "payer", nil, http.StatusConflict, "not_finalized"},
		{"unknown field", http.MethodPost, "/events/gala/checkin", "org", map[string]string{"tok": "x"}, http.StatusBadRequest, "invalid_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.caller, tt.body)
			expectStatus(t, rec, tt.status)
			if e := decode[model.ErrorResponse](t, rec); e.Error != tt.code {
				t.Errorf("error code = %q, want %q", e.Error, tt.code)
			}
		})
	}
}

func TestBatchRejectionListsEntries(t *testing.T) {
	ts := newTestServer(t, true)
	ts.createEvent(t, "gala", "5.00")
	ts.deposit(t, "payer", "5.00")
	ts.do(t, http.MethodPost, "/events/gala/tickets", "payer", nil)

	rec := ts.do(t, http.MethodPost, "/events/gala/attendance", "org",
		model.AttendanceRequest{Participants: []string{"payer", "ghost"}}, "Accept-Language", "fr")
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	e := decode[model.ErrorResponse](t, rec)
	if e.Error != "batch_rejected" || len(e.Entries) != 1 {
		t.Fatalf("response = %+v", e)
	}
	if e.Entries[0].Account != "ghost" || e.Entries[0].Error != "not_paid" {
		t.Errorf("entry = %+v", e.Entries[0])
	}
	if e.Entries[0].Reason == "" || e.Entries[0].Reason == "participant has not paid" {
		t.Errorf("reason not localized: %q", e.Entries[0].Reason)
	}

	p := decode[model.Participant](t, ts.do(t, http.MethodGet, "/events/gala/participants/payer", "", nil))
	if p.HasAttended {
		t.Error("rejected batch marked a participant")
	}
}

func TestClosedEventReasonNamesState(t *testing.T) {
	ts := newTestServer(t, true)
	ts.createEvent(t, "gala", "5.00")
	ts.deposit(t, "payer", "5.00")
	expectStatus(t, ts.do(t, http.MethodPost, "/events/gala/cancel", "org", nil), http.StatusOK)

	tests := []struct {
		lang string
		want []string
	}{
		{"en", []string{"no longer accepts purchases", "already cancelled"}},
		{"fr", []string{"n'accepte plus", "déjà annulé"}},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/events/gala/tickets", "payer", nil, "Accept-Language", tt.lang)
			expectStatus(t, rec, http.StatusConflict)
			e := decode[model.ErrorResponse](t, rec)
			if e.Error != "event_closed" {
				t.Errorf("error code = %q", e.Error)
			}
			for _, w := range tt.want {
				if !strings.Contains(e.Reason, w) {
					t.Errorf("reason %q missing %q", e.Reason, w)
				}
			}
		})
	}
}

func TestDepositRequiresFaucet(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodPost, "/accounts/alice/deposits", "", model.DepositRequest{Amount: "10"})
	expectStatus(t, rec, http.StatusBadRequest)
	if e := decode[model.ErrorResponse](t, rec); e.Error != "faucet_disabled" {
		t.Errorf("error = %+v", e)
	}

	ts = newTestServer(t, true)
	rec = ts.do(t, http.MethodPost, "/accounts/alice/deposits", "", model.DepositRequest{Amount: "-1"})
	expectStatus(t, rec, http.StatusBadRequest)

	bal := decode[balanceResponse](t, ts.do(t, http.MethodGet, "/accounts/alice/balance", "", nil))
	if bal.Balance != money.Zero {
		t.Errorf("balance = %d, want 0", bal.Balance)
	}
}
