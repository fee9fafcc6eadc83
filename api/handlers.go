/*
handlers.go - HTTP API handlers for the fiscal engine

PURPOSE:
  Exposes the fiscal engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the fiscal package.

ENDPOINTS:
  Sales:
    POST   /api/sales                     Append one sale or an array (legacy shapes accepted)
    GET    /api/sales/{id}                Get a sale as stored

  Shifts:
    POST   /api/shifts                    Open a shift with opening balances
    GET    /api/shifts/current            Open shift of a register
    GET    /api/shifts/current/preview    X-report of the open shift
    POST   /api/shifts/current/close      Z-report: build corte, seal sales

  Reports:
    GET    /api/reports/kpis              KPIs over ?from&to
    GET    /api/reports/treasury          Quadrant flows over ?from&to
    GET    /api/reports/payment-methods   Payment breakdown over ?from&to
    GET    /api/reports/range             All of the above in one document

  Cortes:
    GET    /api/cortes                    Most recent cortes first (?limit)
    GET    /api/cortes/{id}               One corte, backfilled when legacy
    POST   /api/cortes/import             Import a corte exported by the old register

  Audit:
    GET    /api/audit                     Startup self-test result
    POST   /api/audit/run                 Re-run the self-test (a failure stays sticky)

  Tools:
    POST   /api/tools/foreign-cash-tax    Surcharge due on a payment set
    POST   /api/tools/customer-balance    Effect of a sale on a customer balance

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: sales log, shifts, cortes
  - Closer: the only writer of cortes and seals
  - Reporter: memoized read-only aggregations
  - Lock: self-test outcome checked by the fiscal-lock guard

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found (no open shift, unknown corte or sale)
  - 409: Conflict (duplicate sale, shift already open, close in progress)
  - 423: Fiscal lock engaged, figures are not audited
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup, middleware, fiscal-lock guard
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fenixpos/fiscal-engine/factory"
	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/logging"
	"github.com/fenixpos/fiscal-engine/money"
)

const maxBodyBytes = 4 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence the API needs: the engine stores plus import of
// legacy cortes.
type Store interface {
	fiscal.Store
	ImportCorte(ctx context.Context, c fiscal.Corte) (fiscal.Corte, error)
}

// Options configures a Handler. Zero values get working defaults.
type Options struct {
	Config          fiscal.Config
	RegisterID      string
	Memo            *fiscal.Memo
	Lock            *fiscal.Lock
	Metrics         *Metrics
	StreamThreshold int
	Logger          *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Closer   *fiscal.Closer
	Reporter *fiscal.Reporter
	Lock     *fiscal.Lock
	Sales    *factory.SaleFactory
	Metrics  *Metrics

	cfg      fiscal.Config
	register string
	log      *zap.Logger
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Store, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Config.TaxRatePercent.IsZero() && opts.Config.ForeignCashTaxRatePercent.IsZero() {
		opts.Config = fiscal.DefaultConfig()
	}
	if opts.RegisterID == "" {
		opts.RegisterID = "caja-1"
	}
	if opts.Lock == nil {
		opts.Lock = fiscal.NewLock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Memo == nil {
		opts.Memo = fiscal.NewMemo(fiscal.NewMemoryCache(), time.Minute, log)
	}

	observer := logging.NewClassificationObserver(log)
	return &Handler{
		Store:    store,
		Closer:   fiscal.NewCloser(store, opts.Config, log.Named("closer")).WithObserver(observer),
		Reporter: fiscal.NewReporter(store, store, opts.Config, opts.Memo).WithCortes(store).WithStreamThreshold(opts.StreamThreshold).WithObserver(observer),
		Lock:     opts.Lock,
		Sales:    factory.NewSaleFactory(opts.RegisterID),
		Metrics:  opts.Metrics,
		cfg:      opts.Config,
		register: opts.RegisterID,
		log:      log,
	}
}

// RunSelfTest runs the fiscal self-test and publishes the outcome.
func (h *Handler) RunSelfTest() fiscal.SelfTestResult {
	res := h.Lock.Run(h.log.Named("audit"))
	h.Metrics.setSelfTest(h.Lock.Err() == nil)
	return res
}

// registerOf returns the register named by ?register=, or the default one.
func (h *Handler) registerOf(r *http.Request) string {
	if id := r.URL.Query().Get("register"); id != "" {
		return id
	}
	return h.register
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// AppendSales appends one sale or an array of sales to the log.
// POST /api/sales
func (h *Handler) AppendSales(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var sales []fiscal.Sale
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		sales, err = h.Sales.ParseSales(trimmed)
	} else {
		var s fiscal.Sale
		s, err = h.Sales.ParseSale(trimmed)
		sales = []fiscal.Sale{s}
	}
	if err != nil {
		writeErrorFor(w, "Invalid sale", err)
		return
	}

	resp := AppendSalesResponse{IDs: make([]fiscal.SaleID, 0, len(sales))}
	for _, s := range sales {
		if err := h.Store.AppendSale(r.Context(), s); err != nil {
			writeJSON(w, statusFor(err), ErrorResponse{
				Error:   fmt.Sprintf("Failed to append sale %s", s.ID),
				Details: map[string]any{"error": err.Error(), "written": resp.IDs},
			})
			return
		}
		h.Metrics.SalesAppended.Inc()
		resp.IDs = append(resp.IDs, s.ID)
	}
	resp.Count = len(resp.IDs)

	writeJSON(w, http.StatusCreated, resp)
}

// GetSale returns a sale as stored.
// GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := fiscal.SaleID(chi.URLParam(r, "id"))
	sale, err := h.Store.GetSale(r.Context(), id)
	if err != nil {
		writeErrorFor(w, "Failed to get sale", err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// =============================================================================
// SHIFT HANDLERS
// =============================================================================

// OpenShift opens a shift and snapshots its opening balances.
// POST /api/shifts
func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	var req OpenShiftRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RegisterID == "" {
		req.RegisterID = h.register
	}

	var opening fiscal.OpeningBalances
	if len(req.Opening) > 0 {
		o, err := factory.DecodeOpening(req.Opening)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid opening balances", err)
			return
		}
		opening = o
	}

	shift, err := h.Closer.OpenShift(r.Context(), req.RegisterID, req.Operator, opening)
	if err != nil {
		writeErrorFor(w, "Failed to open shift", err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

// CurrentShift returns the open shift of a register.
// GET /api/shifts/current?register=
func (h *Handler) CurrentShift(w http.ResponseWriter, r *http.Request) {
	shift, err := h.Store.CurrentShift(r.Context(), h.registerOf(r))
	if err != nil {
		writeErrorFor(w, "Failed to get current shift", err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// PreviewShift returns the corte the open shift would produce now (X-report).
// GET /api/shifts/current/preview?register=
func (h *Handler) PreviewShift(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("preview", time.Now())

	corte, err := h.Reporter.Preview(r.Context(), h.registerOf(r))
	if err != nil {
		writeErrorFor(w, "Failed to preview shift", err)
		return
	}
	writeJSON(w, http.StatusOK, corte)
}

// CloseShift closes the open shift: builds the corte and seals its sales.
// POST /api/shifts/current/close
func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("close", time.Now())

	var req CloseShiftRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RegisterID == "" {
		req.RegisterID = h.registerOf(r)
	}

	res, err := h.Closer.Close(r.Context(), req.RegisterID, req.Operator)
	if err != nil {
		h.Metrics.Closures.WithLabelValues("error").Inc()
		writeErrorFor(w, "Failed to close shift", err)
		return
	}
	h.Metrics.Closures.WithLabelValues("ok").Inc()
	h.Metrics.SealFailures.Add(float64(len(res.Failed)))

	resp := CloseShiftResponse{
		Corte:         res.Corte,
		Sealed:        res.Sealed,
		AlreadySealed: res.AlreadySealed,
		Failed:        make([]SealFailureDTO, 0, len(res.Failed)),
		Resumed:       res.Resumed,
		BulkSeal:      res.BulkSeal,
	}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, SealFailureDTO{SaleID: f.SaleID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// rangeReport parses ?from&to and runs the memoized range aggregation.
func (h *Handler) rangeReport(w http.ResponseWriter, r *http.Request, op string) (fiscal.RangeReport, bool) {
	defer h.Metrics.observe(op, time.Now())

	from, to, err := parseRange(r, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return fiscal.RangeReport{}, false
	}
	rep, err := h.Reporter.Range(r.Context(), from, to)
	if err != nil {
		writeErrorFor(w, "Failed to compute report", err)
		return fiscal.RangeReport{}, false
	}
	return rep, true
}

// GetKPIs returns the fiscal KPIs of a range.
// GET /api/reports/kpis?from&to
func (h *Handler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.rangeReport(w, r, "kpis")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, KPIsDTO{From: rep.From, To: rep.To, SaleCount: rep.SaleCount, KPIs: rep.KPIs})
}

// GetTreasury returns the quadrant flows of a range.
// GET /api/reports/treasury?from&to
func (h *Handler) GetTreasury(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.rangeReport(w, r, "treasury")
	if !ok {
		return
	}
	_, in, out := rep.Treasury.FlowUSD(rep.ReferenceRate)
	writeJSON(w, http.StatusOK, TreasuryDTO{
		From:          rep.From,
		To:            rep.To,
		Treasury:      rep.Treasury,
		ReferenceRate: rep.ReferenceRate,
		InflowUSD:     money.Round2(in),
		OutflowUSD:    money.Round2(out),
		NetUSD:        money.Round2(in.Sub(out)),
	})
}

// GetPaymentMethods returns the payment breakdown of a range.
// GET /api/reports/payment-methods?from&to
func (h *Handler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.rangeReport(w, r, "payment_methods")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PaymentMethodsDTO{
		From:   rep.From,
		To:     rep.To,
		USD:    nonNil(rep.PaymentMethods),
		Native: nonNil(rep.PaymentMethodsNative),
	})
}

// GetRangeReport returns every aggregation of a range.
// GET /api/reports/range?from&to
func (h *Handler) GetRangeReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.rangeReport(w, r, "range")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// =============================================================================
// CORTE HANDLERS
// =============================================================================

// ListCortes returns the most recent cortes first.
// GET /api/cortes?limit=
func (h *Handler) ListCortes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	cortes, err := h.Store.ListCortes(r.Context(), limit)
	if err != nil {
		writeErrorFor(w, "Failed to list cortes", err)
		return
	}
	writeJSON(w, http.StatusOK, CorteListDTO{Cortes: nonNil(cortes), Count: len(cortes)})
}

// GetCorte returns one corte as saved. Legacy cortes without a fiscal
// block are backfilled from their sealed sales on the way out.
// GET /api/cortes/{id}
func (h *Handler) GetCorte(w http.ResponseWriter, r *http.Request) {
	id := fiscal.ClosureID(chi.URLParam(r, "id"))
	corte, err := h.Reporter.Corte(r.Context(), h.Store, id)
	if err != nil {
		writeErrorFor(w, "Failed to get corte", err)
		return
	}
	writeJSON(w, http.StatusOK, corte)
}

// ImportCorte stores a corte exported by the previous register software.
// POST /api/cortes/import
func (h *Handler) ImportCorte(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	corte, err := factory.ParseCorte(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid corte", err)
		return
	}
	saved, err := h.Store.ImportCorte(r.Context(), corte)
	if err != nil {
		writeErrorFor(w, "Failed to import corte", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// GetAudit returns the self-test result.
// GET /api/audit
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if h.Lock.Err() != nil {
		status = http.StatusLocked
	}
	writeJSON(w, status, h.Lock.Result())
}

// RunAudit re-runs the self-test. Once failed, the lock stays engaged.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	res := h.RunSelfTest()
	status := http.StatusOK
	if h.Lock.Err() != nil {
		status = http.StatusLocked
	}
	writeJSON(w, status, res)
}

// pinger is implemented by stores backed by a connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and whether figures are audited.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthDTO{Status: "ok", Audited: h.Lock.Err() == nil}
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.log.Warn("store ping failed", zap.Error(err))
			resp.Status = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// TOOL HANDLERS
// =============================================================================

// ForeignCashTax computes the surcharge due on a payment set.
// POST /api/tools/foreign-cash-tax
func (h *Handler) ForeignCashTax(w http.ResponseWriter, r *http.Request) {
	var req ForeignCashTaxRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tax, base := fiscal.ForeignCashTaxDue(req.Total, req.Payments, req.ExchangeRate, h.cfg)
	writeJSON(w, http.StatusOK, ForeignCashTaxDTO{Tax: tax, Base: base})
}

// CustomerBalance previews a customer balance after a sale.
// POST /api/tools/customer-balance
func (h *Handler) CustomerBalance(w http.ResponseWriter, r *http.Request) {
	var req CustomerUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	writeJSON(w, http.StatusOK, fiscal.ApplyCustomerUpdate(req.Balance, req.NewDebt, req.ChangeToWallet, req.WalletUsed))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// parseRange reads ?from and ?to as RFC3339 or YYYY-MM-DD. A bare date in
// "to" covers the whole day. Missing bounds default to today (UTC).
func parseRange(r *http.Request, now time.Time) (from, to time.Time, err error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from, to = day, now

	if v := r.URL.Query().Get("from"); v != "" {
		if from, _, err = parseBound(v); err != nil {
			return from, to, fmt.Errorf("from: %w", err)
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		var dateOnly bool
		if to, dateOnly, err = parseBound(v); err != nil {
			return from, to, fmt.Errorf("to: %w", err)
		}
		if dateOnly {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
	}
	return from, to, nil
}

func parseBound(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", v)
	}
	return t, true, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fiscal.ErrFiscalLock):
		return http.StatusLocked
	case fiscal.IsConflict(err),
		errors.Is(err, fiscal.ErrDuplicateSale),
		errors.Is(err, fiscal.ErrShiftAlreadyOpen):
		return http.StatusConflict
	case fiscal.IsNotFound(err):
		return http.StatusNotFound
	case fiscal.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorFor(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
