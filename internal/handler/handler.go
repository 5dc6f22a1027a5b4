// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the escrow engine.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/event-escrow/internal/i18n"
	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
	"github.com/Shivanand-hulikatti/event-escrow/internal/money"
	"github.com/Shivanand-hulikatti/event-escrow/internal/service"
)

// Accounts exposes rail balances and test deposits.
type Accounts interface {
	Balance(ctx context.Context, account string) (money.Amount, error)
	Fund(ctx context.Context, account string, amount money.Amount) (money.Amount, error)
}

// Options configure an EventHandler.
type Options struct {
	// Decimals is the number of fractional digits of the currency.
	Decimals int32
	// Faucet enables POST /accounts/{account}/deposits.
	Faucet bool
}

// EventHandler holds all HTTP handlers for the escrow API.
type EventHandler struct {
	svc      *service.EscrowService
	accounts Accounts
	tr       *i18n.Translator
	log      zerolog.Logger
	opts     Options
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EscrowService, accounts Accounts, tr *i18n.Translator, log zerolog.Logger, opts Options) *EventHandler {
	return &EventHandler{svc: svc, accounts: accounts, tr: tr, log: log, opts: opts}
}

// Routes mounts every escrow endpoint on r.
func (h *EventHandler) Routes(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Get("/{id}/stats", h.GetEventStats)
		r.Get("/{id}/settlement/preview", h.PreviewSettlement)
		r.Get("/{id}/participants", h.ListParticipants)
		r.Get("/{id}/participants/{account}", h.GetParticipant)
		r.Get("/{id}/participants/{account}/redistribution", h.PotentialRedistribution)
		r.Get("/{id}/registrations", h.ListRegistrations)

		r.Group(func(r chi.Router) {
			r.Use(RequireCaller(h))
			r.Post("/", h.CreateEvent)
			r.Post("/{id}/tickets", h.PurchaseTicket)
			r.Post("/{id}/registrations", h.Register)
			r.Post("/{id}/attendance", h.MarkAttendance)
			r.Post("/{id}/checkin", h.CheckIn)
			r.Post("/{id}/finalize", h.FinalizeEvent)
			r.Post("/{id}/withdrawals", h.Withdraw)
			r.Post("/{id}/cancel", h.CancelEvent)
		})
	})
	r.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/balance", h.Balance)
		r.Post("/deposits", h.Deposit)
	})
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotOrganizer):
		return http.StatusForbidden
	case errors.Is(err, model.ErrBatchRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrTransferTimeout):
		return http.StatusGatewayTimeout
	}
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindState:
		return http.StatusConflict
	case model.KindRail:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// reason localizes err. When err wraps several coded errors, such as a
// closed event and the state that closed it, each is translated in turn.
func (h *EventHandler) reason(r *http.Request, err error) string {
	lang := r.Header.Get("Accept-Language")
	if model.KindOf(err) == model.KindInternal {
		return h.tr.T(lang, model.CodeOf(err), "internal error")
	}
	causes := model.Causes(err)
	if len(causes) < 2 {
		return h.tr.T(lang, model.CodeOf(err), err.Error())
	}
	parts := make([]string, len(causes))
	for i, c := range causes {
		parts[i] = h.tr.T(lang, c.Code, c.Error())
	}
	return strings.Join(parts, ": ")
}

// writeError renders err as the standard envelope. Internal errors are
// logged and their text withheld from the client.
func (h *EventHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	resp := model.ErrorResponse{
		Error:  model.CodeOf(err),
		Kind:   model.KindOf(err),
		Reason: h.reason(r, err),
	}

	var batch *model.BatchError
	var refunds *model.RefundError
	switch {
	case errors.As(err, &batch):
		for _, e := range batch.Entries {
			resp.Entries = append(resp.Entries, h.entry(r, e.Account, e.Err))
		}
	case errors.As(err, &refunds):
		for _, e := range refunds.Entries {
			resp.Entries = append(resp.Entries, h.entry(r, e.Account, e.Err))
		}
	}
	writeJSON(w, status, resp)
}

func (h *EventHandler) entry(r *http.Request, account string, err error) model.EntryFailure {
	return model.EntryFailure{Account: account, Error: model.CodeOf(err), Reason: h.reason(r, err)}
}

func (h *EventHandler) badBody(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Error:  "invalid_body",
		Kind:   model.KindValidation,
		Reason: h.tr.T(r.Header.Get("Accept-Language"), "invalid_body", "invalid request body") + ": " + err.Error(),
	})
}

func (h *EventHandler) parseAmount(s string) (money.Amount, error) {
	return money.Parse(strings.TrimSpace(s), h.opts.Decimals)
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /events
// The caller becomes the organizer.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	price, err := h.parseAmount(req.TicketPrice)
	if err != nil {
		h.writeError(w, r, model.ErrInvalidPrice)
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), model.EventSpec{
		ID:                       req.ID,
		Name:                     req.Name,
		Description:              req.Description,
		Organizer:                Caller(r.Context()),
		TicketPrice:              price,
		EventEndTime:             req.EventEndTime,
		RedistributionPercentage: req.RedistributionPercentage,
		MaxParticipants:          req.MaxParticipants,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.svc.GetEventInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GetEventStats handles GET /events/{id}/stats
func (h *EventHandler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetEventStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PreviewSettlement handles GET /events/{id}/settlement/preview
func (h *EventHandler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.PreviewSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ─── Participants ─────────────────────────────────────────────────────────────

// ListParticipants handles GET /events/{id}/participants
func (h *EventHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := h.svc.ListParticipants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []model.Participant{}
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetParticipant handles GET /events/{id}/participants/{account}
func (h *EventHandler) GetParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetParticipantInfo(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "account"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type amountResponse struct {
	Account string       `json:"account"`
	Amount  money.Amount `json:"amount"`
	Display string       `json:"display"`
}

// PotentialRedistribution handles
// GET /events/{id}/participants/{account}/redistribution
func (h *EventHandler) PotentialRedistribution(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	amount, err := h.svc.CalculatePotentialRedistribution(r.Context(), chi.URLParam(r, "id"), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{
		Account: account,
		Amount:  amount,
		Display: money.Format(amount, h.opts.Decimals),
	})
}

// ListRegistrations handles GET /events/{id}/registrations
// Returns all free-event registrations.
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if regs == nil {
		regs = []model.Registration{}
	}
	writeJSON(w, http.StatusOK, regs)
}

// ─── Mutations ────────────────────────────────────────────────────────────────

// PurchaseTicket handles POST /events/{id}/tickets
// The caller is the buyer.
func (h *EventHandler) PurchaseTicket(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PurchaseTicket(r.Context(), chi.URLParam(r, "id"), Caller(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Register handles POST /events/{id}/registrations
// Free events only; the caller is the attendee.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RegisterFreeAttendee(r.Context(), chi.URLParam(r, "id"), Caller(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// MarkAttendance handles POST /events/{id}/attendance
// A body with "participants" is a batch; otherwise "participant" is marked.
func (h *EventHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req model.AttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	caller := Caller(r.Context())

	if len(req.Participants) > 0 {
		ps, err := h.svc.MarkAttendanceBatch(r.Context(), id, caller, req.Participants)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ps)
		return
	}

	p, err := h.svc.MarkAttendance(r.Context(), id, caller, req.Participant)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CheckIn handles POST /events/{id}/checkin
func (h *EventHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req model.CheckInRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	res, err := h.svc.CheckIn(r.Context(), chi.URLParam(r, "id"), Caller(r.Context()), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FinalizeEvent handles POST /events/{id}/finalize
func (h *EventHandler) FinalizeEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.FinalizeEvent(r.Context(), chi.URLParam(r, "id"), Caller(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Withdraw handles POST /events/{id}/withdrawals
// The caller is the claimant.
func (h *EventHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.WithdrawRedistribution(r.Context(), chi.URLParam(r, "id"), Caller(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelEvent handles POST /events/{id}/cancel
func (h *EventHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CancelEvent(r.Context(), chi.URLParam(r, "id"), Caller(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Accounts ─────────────────────────────────────────────────────────────────

type balanceResponse struct {
	Account string       `json:"account"`
	Balance money.Amount `json:"balance"`
	Display string       `json:"display"`
}

// Balance handles GET /accounts/{account}/balance
func (h *EventHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	balance, err := h.accounts.Balance(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: account,
		Balance: balance,
		Display: money.Format(balance, h.opts.Decimals),
	})
}

// Deposit handles POST /accounts/{account}/deposits
// Mints test funds; only available when the faucet is enabled.
func (h *EventHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	if !h.opts.Faucet {
		h.writeError(w, r, model.ErrFaucetDisabled)
		return
	}
	var req model.DepositRequest
	if err := decodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	amount, err := h.parseAmount(req.Amount)
	if err != nil || amount <= 0 {
		h.writeError(w, r, model.ErrInvalidAmount)
		return
	}
	account := chi.URLParam(r, "account")
	if strings.HasPrefix(account, "escrow:") {
		h.writeError(w, r, model.ErrInvalidAccount)
		return
	}

	balance, err := h.accounts.Fund(r.Context(), account, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info().Str("account", account).Int64("amount", amount.Int64()).Msg("test deposit")
	writeJSON(w, http.StatusCreated, balanceResponse{
		Account: account,
		Balance: balance,
		Display: money.Format(balance, h.opts.Decimals),
	})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
