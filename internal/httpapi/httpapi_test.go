package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/domain"
	"pharmaledger/backend/internal/service"
	"pharmaledger/backend/internal/store/memory"
)

type testEnv struct {
	handler         http.Handler
	repo            *memory.Store
	adminToken      string
	pharmacistToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.New()
	for username, role := range map[string]string{
		"admin": domain.RoleAdmin,
		"priya": domain.RolePharmacist,
	} {
		// Plain-text seed passwords are upgraded to bcrypt by the auth
		// manager on first load.
		err := repo.CreateUser(context.Background(), domain.UserAccount{
			Username: username,
			Password: username + "-secret",
			Role:     role,
		})
		if err != nil {
			t.Fatalf("seed user %s: %v", username, err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := service.New(repo, cache.NoopReportCache{}, logger, time.Second, 30)
	auth := NewAuthManager("test-secret-at-least-32-characters!!", time.Hour, repo)
	api := New(svc, auth, logger, "http://127.0.0.1:3000")

	env := &testEnv{handler: api.Handler(), repo: repo}
	env.adminToken = env.login(t, "admin", "admin-secret")
	env.pharmacistToken = env.login(t, "priya", "priya-secret")
	return env
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": username,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, status, body)
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("login %s: bad response %s", username, body)
	}
	return resp.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func (e *testEnv) seedStock(t *testing.T, name string, qty int, price float64) (medicineID, batchID string) {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/api/v1/medicines", e.adminToken, map[string]any{
		"name":          name,
		"reorder_level": 10,
	})
	if status != http.StatusCreated {
		t.Fatalf("create medicine: status %d body %s", status, body)
	}
	var medResp struct {
		Medicine domain.Medicine `json:"medicine"`
	}
	if err := json.Unmarshal(body, &medResp); err != nil {
		t.Fatalf("decode medicine: %v", err)
	}

	status, body = e.do(t, http.MethodPost, "/api/v1/batches", e.adminToken, map[string]any{
		"medicine_id":   medResp.Medicine.ID,
		"batch_number":  "LOT-" + name,
		"expiry_date":   time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
		"selling_price": price,
		"mrp":           price,
		"gst_percent":   5,
		"quantity":      qty,
	})
	if status != http.StatusCreated {
		t.Fatalf("create batch: status %d body %s", status, body)
	}
	var batchResp struct {
		Batch domain.Batch `json:"batch"`
	}
	if err := json.Unmarshal(body, &batchResp); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	return medResp.Medicine.ID, batchResp.Batch.ID
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"ok":true`) {
		t.Fatalf("health: status %d body %s", status, body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": "admin",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodGet, "/api/v1/medicines", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestAdminRoutesForbiddenForPharmacist(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodPost, "/api/v1/medicines", env.pharmacistToken, map[string]any{
		"name": "Paracetamol 500mg",
	})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
}

func TestInvoiceHappyPath(t *testing.T) {
	env := newTestEnv(t)
	medicineID, _ := env.seedStock(t, "Paracetamol", 50, 12.00)

	status, body := env.do(t, http.MethodPost, "/api/v1/invoices", env.pharmacistToken, map[string]any{
		"customer_name":  "Asha Rao",
		"payment_method": "cash",
		"lines": []map[string]any{
			{"medicine_id": medicineID, "quantity": 4},
		},
	})
	if status != http.StatusCreated {
		t.Fatalf("create invoice: status %d body %s", status, body)
	}

	var resp struct {
		Invoice domain.Invoice `json:"invoice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	wantPrefix := "INV" + time.Now().UTC().Format("20060102")
	if !strings.HasPrefix(resp.Invoice.InvoiceNumber, wantPrefix) {
		t.Fatalf("invoice number = %s, want prefix %s", resp.Invoice.InvoiceNumber, wantPrefix)
	}
	if resp.Invoice.CreatedBy != "priya" {
		t.Fatalf("created_by = %s, want priya", resp.Invoice.CreatedBy)
	}
	if got := resp.Invoice.Subtotal.StringFixed(2); got != "48.00" {
		t.Fatalf("subtotal = %s, want 48.00", got)
	}

	// Lookup by id and by number.
	status, _ = env.do(t, http.MethodGet, "/api/v1/invoices/"+resp.Invoice.ID, env.pharmacistToken, nil)
	if status != http.StatusOK {
		t.Fatalf("get invoice: status %d", status)
	}
	status, _ = env.do(t, http.MethodGet, "/api/v1/invoices/by-number/"+resp.Invoice.InvoiceNumber, env.pharmacistToken, nil)
	if status != http.StatusOK {
		t.Fatalf("get invoice by number: status %d", status)
	}
}

func TestInvoiceInsufficientStockReturnsConflictWithShortfall(t *testing.T) {
	env := newTestEnv(t)
	medicineID, _ := env.seedStock(t, "Insulin", 3, 450.00)

	status, body := env.do(t, http.MethodPost, "/api/v1/invoices", env.pharmacistToken, map[string]any{
		"payment_method": "cash",
		"lines": []map[string]any{
			{"medicine_id": medicineID, "quantity": 5},
		},
	})
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", status, body)
	}

	var payload struct {
		Error     string `json:"error"`
		Requested int    `json:"requested"`
		Available int    `json:"available"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode conflict payload: %v", err)
	}
	if payload.Requested != 5 || payload.Available != 3 {
		t.Fatalf("shortfall = %d/%d, want 5/3", payload.Requested, payload.Available)
	}
}

func TestInvoiceValidationReturnsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/invoices", env.pharmacistToken, map[string]any{
		"payment_method": "cash",
		"lines":          []map[string]any{},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}

	// Unknown fields are rejected.
	status, _ = env.do(t, http.MethodPost, "/api/v1/invoices", env.pharmacistToken, map[string]any{
		"payment_method": "cash",
		"cart":           []map[string]any{{"medicine_id": "x", "quantity": 1}},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown field", status)
	}
}

func TestStockAdjustmentEndpointReportsClamp(t *testing.T) {
	env := newTestEnv(t)
	_, batchID := env.seedStock(t, "Gauze", 4, 2.00)

	status, body := env.do(t, http.MethodPost, "/api/v1/stock-adjustments", env.adminToken, map[string]any{
		"batch_id": batchID,
		"type":     "damage",
		"quantity": 9,
		"reason":   "crushed carton",
	})
	if status != http.StatusCreated {
		t.Fatalf("adjust: status %d body %s", status, body)
	}

	var resp struct {
		Adjustment domain.StockAdjustment `json:"adjustment"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode adjustment: %v", err)
	}
	if !resp.Adjustment.Clamped || resp.Adjustment.AppliedQuantity != 4 {
		t.Fatalf("adjustment = %+v, want clamped with applied 4", resp.Adjustment)
	}
}

// Adjusting stock is day-to-day pharmacist work, not an admin-only action.
func TestStockAdjustmentAllowedForPharmacist(t *testing.T) {
	env := newTestEnv(t)
	_, batchID := env.seedStock(t, "Bandage", 10, 3.00)

	status, body := env.do(t, http.MethodPost, "/api/v1/stock-adjustments", env.pharmacistToken, map[string]any{
		"batch_id": batchID,
		"type":     "damage",
		"quantity": 2,
		"reason":   "torn packaging",
	})
	if status != http.StatusCreated {
		t.Fatalf("adjust as pharmacist: status %d body %s", status, body)
	}

	var resp struct {
		Adjustment domain.StockAdjustment `json:"adjustment"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode adjustment: %v", err)
	}
	if resp.Adjustment.AdjustedBy != "priya" {
		t.Fatalf("adjusted_by = %s, want priya", resp.Adjustment.AdjustedBy)
	}
}

func TestReportsAccessibleToPharmacist(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "Dolo", 5, 9.00)

	for _, path := range []string{
		"/api/v1/reports/low-stock",
		"/api/v1/reports/expiring?days=30",
		fmt.Sprintf("/api/v1/reports/sales-summary?from=%s", time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)),
	} {
		status, body := env.do(t, http.MethodGet, path, env.pharmacistToken, nil)
		if status != http.StatusOK {
			t.Fatalf("%s: status %d body %s", path, status, body)
		}
	}
}

func TestUserManagementAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/v1/users", env.pharmacistToken, map[string]any{
		"username": "newuser",
		"password": "longenoughpassword",
		"role":     "pharmacist",
	})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}

	status, body := env.do(t, http.MethodPost, "/api/v1/users", env.adminToken, map[string]any{
		"username": "newuser",
		"password": "longenoughpassword",
		"role":     "pharmacist",
	})
	if status != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", status, body)
	}

	// New account can log in.
	env.login(t, "newuser", "longenoughpassword")
}

func TestCreateUserDuplicateUsernameConflicts(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]any{
		"username": "ravi",
		"password": "longenoughpassword",
		"role":     "pharmacist",
	}
	status, body := env.do(t, http.MethodPost, "/api/v1/users", env.adminToken, payload)
	if status != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", status, body)
	}

	status, body = env.do(t, http.MethodPost, "/api/v1/users", env.adminToken, payload)
	if status != http.StatusConflict {
		t.Fatalf("duplicate user: status %d, want 409; body %s", status, body)
	}

	// A username seeded directly in the store conflicts too, even before the
	// auth cache has seen it.
	status, body = env.do(t, http.MethodPost, "/api/v1/users", env.adminToken, map[string]any{
		"username": "priya",
		"password": "longenoughpassword",
		"role":     "pharmacist",
	})
	if status != http.StatusConflict {
		t.Fatalf("seeded duplicate: status %d, want 409; body %s", status, body)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedStock(t, "Aspirin", 10, 2.00)

	status, _ := env.do(t, http.MethodGet, "/api/v1/audit-logs", env.pharmacistToken, nil)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}

	status, body := env.do(t, http.MethodGet, "/api/v1/audit-logs", env.adminToken, nil)
	if status != http.StatusOK {
		t.Fatalf("audit logs: status %d", status)
	}
	if !strings.Contains(string(body), "medicine_create") {
		t.Fatalf("expected medicine_create entry in %s", body)
	}
}
