package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drivingschool/server/internal/config"
	"drivingschool/server/internal/models"
	"drivingschool/server/internal/render"
	"drivingschool/server/internal/services"
	"drivingschool/server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stubNotifier struct {
	err      error
	requests []services.NotificationRequest
}

func (n *stubNotifier) NotifyInvoice(_ context.Context, req services.NotificationRequest) error {
	n.requests = append(n.requests, req)
	return n.err
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type apiEnv struct {
	router   *gin.Engine
	store    *store.MemoryStore
	notifier *stubNotifier
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ms := store.NewMemoryStore()
	notifier := &stubNotifier{}
	clock := func() time.Time { return testNow }
	svc := services.NewInvoiceService(services.InvoiceServiceDeps{
		Store:     ms,
		Sequencer: services.NewStoreSequencer(ms, "RE"),
		Notifier:  notifier,
		Renderer:  render.NewDocumentRenderer(config.CompanyConfig{Name: "Fahrschule Sonnenschein"}),
		Clock:     clock,
	}, config.InvoiceConfig{
		NumberPrefix:    "RE",
		SequenceBackend: config.SequenceBackendPostgres,
		PaymentTermDays: 14,
		DefaultVatRate:  decimal.NewFromInt(19),
	})

	ic := NewInvoiceController(svc, config.DatevConfig{
		RevenueAccount19: "8400",
		RevenueAccount7:  "8300",
		RevenueAccount0:  "8125",
		DebitorAccount:   "10000",
	})
	ic.now = clock

	return &apiEnv{
		router:   NewRouter(RouterDeps{Invoices: ic, Health: ms}),
		store:    ms,
		notifier: notifier,
	}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", "buero@fahrschule.de")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type invoiceJSON struct {
	ID              string          `json:"id"`
	InvoiceNumber   string          `json:"invoice_number"`
	Status          string          `json:"status"`
	EffectiveStatus string          `json:"effective_status"`
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	OpenAmount      decimal.Decimal `json:"open_amount"`
	Version         int             `json:"version"`
	IsLocked        bool            `json:"is_locked"`
	CreatedBy       string          `json:"created_by"`
	LineItems       []struct {
		Position    int             `json:"position"`
		GrossAmount decimal.Decimal `json:"gross_amount"`
	} `json:"line_items"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func lessonBody() gin.H {
	return gin.H{
		"recipient":      gin.H{"name": "Jana Schulz", "email": "jana@example.org"},
		"participant_id": "0b6f2a52-8c1e-4d7e-9a55-7c0f3f1e2a10",
		"invoice_date":   "2026-03-10",
		"line_items": []gin.H{
			{"description": "Fahrstunde", "quantity": 2, "unit": "Std.", "unit_price": "50.00", "vat_rate": 19},
		},
	}
}

func (e *apiEnv) create(t *testing.T) invoiceJSON {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/invoices", lessonBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[invoiceJSON](t, w)
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.create(t)

	assert.Equal(t, "RE-2026-00001", inv.InvoiceNumber)
	assert.Equal(t, "draft", inv.Status)
	assert.Equal(t, "draft", inv.EffectiveStatus)
	assert.True(t, decimal.RequireFromString("119").Equal(inv.GrossAmount))
	assert.True(t, decimal.RequireFromString("119").Equal(inv.OpenAmount))
	assert.Equal(t, "buero@fahrschule.de", inv.CreatedBy)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, 1, inv.LineItems[0].Position)
}

func TestCreateInvoiceRejectsBadInput(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/invoices", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode[errorJSON](t, w).Error)

	body := lessonBody()
	body["line_items"] = []gin.H{{"description": "Fahrstunde", "quantity": 0, "unit_price": "50", "vat_rate": 19}}
	w = env.do(t, http.MethodPost, "/api/v1/invoices", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_line_item", decode[errorJSON](t, w).Error)

	body = lessonBody()
	body["due_date"] = "10.03.2026"
	w = env.do(t, http.MethodPost, "/api/v1/invoices", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorJSON](t, w).Message, "due_date")
}

func TestInvoiceLifecycleEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.create(t)
	base := "/api/v1/invoices/" + inv.ID

	w := env.do(t, http.MethodPost, base+"/send", gin.H{"message": "Ihre Rechnung"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sent := decode[struct {
		Invoice          invoiceJSON `json:"invoice"`
		NotificationSent bool        `json:"notification_sent"`
	}](t, w)
	assert.Equal(t, "sent", sent.Invoice.Status)
	assert.True(t, sent.Invoice.IsLocked)
	assert.True(t, sent.NotificationSent)
	require.Len(t, env.notifier.requests, 1)
	assert.Equal(t, "jana@example.org", env.notifier.requests[0].RecipientEmail)

	w = env.do(t, http.MethodPost, base+"/payments", gin.H{"amount": "50.00", "method": "bank_transfer"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	partial := decode[invoiceJSON](t, w)
	assert.Equal(t, "partial", partial.Status)
	assert.True(t, decimal.RequireFromString("69").Equal(partial.OpenAmount))

	w = env.do(t, http.MethodPost, base+"/payments", gin.H{"amount": "69.00", "method": "cash"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "paid", decode[invoiceJSON](t, w).Status)

	w = env.do(t, http.MethodPost, base+"/cancel", gin.H{"reason": "Doppelt"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid_transition", decode[errorJSON](t, w).Error)

	w = env.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		History []models.InvoiceHistory `json:"history"`
		Count   int                     `json:"count"`
	}](t, w)
	require.Equal(t, 4, history.Count)
	assert.Equal(t, models.HistoryActionCreated, history.History[0].Action)
	assert.Equal(t, "buero@fahrschule.de", history.History[3].PerformedBy)
}

func TestSendReportsNotificationFailure(t *testing.T) {
	env := newAPIEnv(t)
	env.notifier.err = errors.New("broker down")
	inv := env.create(t)

	w := env.do(t, http.MethodPost, "/api/v1/invoices/"+inv.ID+"/send", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Invoice           invoiceJSON `json:"invoice"`
		NotificationSent  bool        `json:"notification_sent"`
		NotificationError string      `json:"notification_error"`
	}](t, w)
	assert.Equal(t, "sent", resp.Invoice.Status)
	assert.False(t, resp.NotificationSent)
	assert.NotEmpty(t, resp.NotificationError)
	assert.NotContains(t, resp.NotificationError, "broker down")
}

func TestCancelRequiresReason(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.create(t)
	base := "/api/v1/invoices/" + inv.ID

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/mark-sent", nil).Code)

	w := env.do(t, http.MethodPost, base+"/cancel", gin.H{"reason": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_cancellation_reason", decode[errorJSON](t, w).Error)

	w = env.do(t, http.MethodPost, base+"/cancel", gin.H{"reason": "Falscher Empfänger"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode[invoiceJSON](t, w).Status)
}

func TestUpdateDraftEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.create(t)
	path := "/api/v1/invoices/" + inv.ID

	w := env.do(t, http.MethodPut, path, gin.H{"notes": "Bitte überweisen", "version": inv.Version + 3})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "concurrent_modification", decode[errorJSON](t, w).Error)

	w = env.do(t, http.MethodPut, path, gin.H{
		"version": inv.Version,
		"line_items": []gin.H{
			{"description": "Fahrstunde", "quantity": 3, "unit_price": "50.00", "vat_rate": 19},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[invoiceJSON](t, w)
	assert.Equal(t, inv.Version+1, updated.Version)
	assert.True(t, decimal.RequireFromString("178.5").Equal(updated.GrossAmount))

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path+"/mark-sent", nil).Code)
	w = env.do(t, http.MethodPut, path, gin.H{"notes": "zu spät"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invoice_locked", decode[errorJSON](t, w).Error)
}

func TestGetUnknownInvoice(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/invoices/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invoice_not_found", decode[errorJSON](t, w).Error)
}

func TestStoreFailureIsOpaque(t *testing.T) {
	env := newAPIEnv(t)
	env.store.FailNext("InsertInvoice", errors.New("pq: relation \"invoices\" does not exist"))

	w := env.do(t, http.MethodPost, "/api/v1/invoices", lessonBody())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[errorJSON](t, w)
	assert.Equal(t, "internal_error", resp.Error)
	assert.NotContains(t, resp.Message, "pq:")
}

func TestListAndOverdueFilter(t *testing.T) {
	env := newAPIEnv(t)
	first := env.create(t)
	env.create(t)

	body := lessonBody()
	body["invoice_date"] = "2026-01-05"
	w := env.do(t, http.MethodPost, "/api/v1/invoices", body)
	require.Equal(t, http.StatusCreated, w.Code)
	old := decode[invoiceJSON](t, w)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/invoices/"+old.ID+"/mark-sent", nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/api/v1/invoices/"+first.ID, nil).Code)

	w = env.do(t, http.MethodGet, "/api/v1/invoices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = env.do(t, http.MethodGet, "/api/v1/invoices?include_deleted=true", nil)
	assert.Equal(t, 3, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = env.do(t, http.MethodGet, "/api/v1/invoices?status=overdue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Invoices []invoiceJSON `json:"invoices"`
	}](t, w)
	require.Len(t, list.Invoices, 1)
	assert.Equal(t, old.ID, list.Invoices[0].ID)
	assert.Equal(t, "sent", list.Invoices[0].Status)
	assert.Equal(t, "overdue", list.Invoices[0].EffectiveStatus)

	w = env.do(t, http.MethodGet, "/api/v1/invoices?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/participants/0b6f2a52-8c1e-4d7e-9a55-7c0f3f1e2a10/invoice-summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[services.InvoiceSummary](t, w)
	assert.Equal(t, 1, summary.OverdueCount)
	assert.True(t, decimal.RequireFromString("238").Equal(summary.OpenAmount))
}

func TestExportAndDocumentEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.create(t)

	w := env.do(t, http.MethodGet, "/api/v1/invoices/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "rechnungen-csv-20260310.csv")
	assert.Contains(t, w.Body.String(), "RE-2026-00001")

	w = env.do(t, http.MethodGet, "/api/v1/invoices/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/invoices/"+inv.ID+"/document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "RE-2026-00001.html")
	assert.Contains(t, w.Body.String(), "Jana Schulz")

	w = env.do(t, http.MethodGet, "/api/v1/invoices/next-number", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RE-2026-00002", decode[map[string]string](t, w)["next_invoice_number"])
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	r := NewRouter(RouterDeps{Invoices: &InvoiceController{}, Health: failingPinger{}})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newAPIEnv(t)
	w := env.do(t, http.MethodOptions, "/api/v1/invoices", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
