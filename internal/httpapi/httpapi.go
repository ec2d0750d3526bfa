package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/service"
	"pharmaledger/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	validate      *validator.Validate
	log           *logrus.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, log *logrus.Logger, allowedOrigin string) *API {
	if log == nil {
		log = logrus.New()
	}
	return &API{
		service:       svc,
		auth:          auth,
		validate:      validator.New(),
		log:           log,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(a.withHeaders)
	r.Use(a.withRequestLog)

	r.Get("/healthz", a.handleHealth)
	r.Post("/api/v1/auth/login", a.handleLogin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin, domain.RolePharmacist))

			r.Get("/categories", a.handleListCategories)
			r.Get("/suppliers", a.handleListSuppliers)
			r.Get("/medicines", a.handleListMedicines)
			r.Get("/medicines/{id}", a.handleGetMedicine)
			r.Get("/medicines/{id}/batches", a.handleListBatches)
			r.Post("/batches", a.handleReceiveBatch)
			r.Get("/batches/{id}", a.handleGetBatch)

			r.Post("/invoices", a.handleCreateInvoice)
			r.Get("/invoices", a.handleListInvoices)
			r.Get("/invoices/{id}", a.handleGetInvoice)
			r.Get("/invoices/by-number/{number}", a.handleGetInvoiceByNumber)

			r.Post("/stock-adjustments", a.handleCreateStockAdjustment)
			r.Get("/stock-adjustments", a.handleListStockAdjustments)
			r.Get("/purchase-orders", a.handleListPurchaseOrders)
			r.Get("/purchase-orders/{id}", a.handleGetPurchaseOrder)

			r.Get("/reports/low-stock", a.handleLowStockReport)
			r.Get("/reports/expiring", a.handleExpiringReport)
			r.Get("/reports/sales-summary", a.handleSalesSummary)
			r.Get("/customers", a.handleListCustomers)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleAdmin))

			r.Post("/categories", a.handleCreateCategory)
			r.Delete("/categories/{id}", a.handleDeleteCategory)
			r.Post("/suppliers", a.handleCreateSupplier)
			r.Delete("/suppliers/{id}", a.handleDeleteSupplier)
			r.Post("/medicines", a.handleCreateMedicine)
			r.Patch("/medicines/{id}", a.handleUpdateMedicine)

			r.Post("/purchase-orders", a.handleCreatePurchaseOrder)
			r.Post("/purchase-orders/{id}/receive", a.handleReceivePurchaseOrder)

			r.Get("/audit-logs", a.handleListAuditLogs)
			r.Get("/users", a.handleListUsers)
			r.Post("/users", a.handleCreateUser)
		})
	})

	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				a.writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *API) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(startedAt).String(),
		}).Info("http request")
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	a.service.AuditLogin(r.Context(), strings.ToLower(strings.TrimSpace(req.Username)))
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name" validate:"required"`
		Description string `json:"description"`
	}
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	category, err := a.service.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": category})
}

func (a *API) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name" validate:"required"`
		Phone   string `json:"phone"`
		Email   string `json:"email"`
		Address string `json:"address"`
	}
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), domain.Supplier{
		Name:    req.Name,
		Phone:   req.Phone,
		Email:   req.Email,
		Address: req.Address,
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleDeleteSupplier(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSupplier(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (a *API) handleListMedicines(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	medicines, err := a.service.ListMedicines(r.Context(), includeInactive)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicines": medicines})
}

func (a *API) handleCreateMedicine(w http.ResponseWriter, r *http.Request) {
	var req domain.MedicineCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	medicine, err := a.service.CreateMedicine(r.Context(), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"medicine": medicine})
}

func (a *API) handleGetMedicine(w http.ResponseWriter, r *http.Request) {
	medicine, err := a.service.GetMedicine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicine": medicine})
}

func (a *API) handleUpdateMedicine(w http.ResponseWriter, r *http.Request) {
	var req domain.MedicineUpdateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	medicine, err := a.service.UpdateMedicine(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medicine": medicine})
}

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := a.service.ListBatches(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (a *API) handleReceiveBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchReceiveRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := a.service.ReceiveBatch(r.Context(), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
}

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.service.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.service.CreateInvoice(r.Context(), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": invoice})
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseTimeRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	invoices, err := a.service.ListInvoices(r.Context(), from, to, limit)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleGetInvoiceByNumber(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoiceByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleCreateStockAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	adj, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"adjustment": adj})
}

func (a *API) handleListStockAdjustments(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	adjustments, err := a.service.ListStockAdjustments(r.Context(), r.URL.Query().Get("batch_id"), limit)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (a *API) handleCreatePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	po, err := a.service.CreatePurchaseOrder(r.Context(), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase_order": po})
}

func (a *API) handleListPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	orders, err := a.service.ListPurchaseOrders(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_orders": orders})
}

func (a *API) handleGetPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	po, err := a.service.GetPurchaseOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po})
}

func (a *API) handleReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PurchaseOrderReceiveRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	po, batches, err := a.service.ReceivePurchaseOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase_order": po, "batches": batches})
}

func (a *API) handleLowStockReport(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.LowStockReport(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"low_stock": rows})
}

func (a *API) handleExpiringReport(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			a.writeError(w, http.StatusBadRequest, errors.New("days must be a positive integer"))
			return
		}
		days = parsed
	}
	rows, err := a.service.ExpiringBatchesReport(r.Context(), days)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expiring": rows})
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseTimeRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.SalesSummaryReport(r.Context(), from, to)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000)
	customers, err := a.service.ListCustomers(r.Context(), limit)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseTimeRange(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 200, 2000)
	entries, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": entries})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := a.decodeValid(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		if isStoreError(err) {
			a.writeStoreError(w, err)
			return
		}
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

// decodeValid decodes the JSON body into dest and runs struct tag validation.
func (a *API) decodeValid(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return a.validate.Struct(dest)
}

// parseTimeRange reads optional from/to query params as RFC3339 timestamps or
// plain dates. Zero values mean unbounded and the service applies defaults.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error

	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		from, err = parseTimeParam(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid from timestamp")
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		to, err = parseTimeParam(raw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid to timestamp")
		}
	}
	return from, to, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeStoreError maps ledger errors onto HTTP statuses. Insufficient stock
// and concurrency conflicts both map to 409; the concurrency payload carries
// retryable so clients know a resubmit may succeed unchanged.
// isStoreError reports whether err carries one of the store sentinel errors,
// so callers with their own fallback status can defer to writeStoreError.
func isStoreError(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrForeignKey) ||
		errors.Is(err, store.ErrValidation) ||
		errors.Is(err, store.ErrConcurrency)
}

func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":       stockErr.Error(),
			"medicine_id": stockErr.MedicineID,
			"requested":   stockErr.Requested,
			"available":   stockErr.Available,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConcurrency):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     err.Error(),
			"retryable": true,
		})
	case errors.Is(err, store.ErrConflict):
		a.writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrForeignKey):
		a.writeError(w, http.StatusBadRequest, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log; clients get a generic message.
	msg := err.Error()
	if status >= 500 {
		a.log.WithError(err).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
