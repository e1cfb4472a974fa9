package http

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skarbnik/internal/services"
	"skarbnik/internal/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	n := 0
	ledger, err := services.Open(context.Background(), memory.New(), "ledger",
		services.WithClock(func() time.Time { return time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC) }),
		services.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	require.NoError(t, err)

	srv, err := NewServer("127.0.0.1:0", ledger, nil, Config{RequestsPerMinute: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func seed(t *testing.T, srv *Server) {
	t.Helper()
	for _, body := range []string{
		`{"firstName":"Anna","lastName":"Nowak"}`,
		`{"firstName":"Jan","lastName":"Kowalski"}`,
	} {
		rr := do(t, srv, http.MethodPost, "/api/students", body)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready","revision":0}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestStudentEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodPost, "/api/students", `{"firstName":" Anna\u0007 ","lastName":"Nowak"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "/api/students/id-1", rr.Header().Get("Location"))
	assert.JSONEq(t, `{"id":"id-1","firstName":"Anna","lastName":"Nowak"}`, rr.Body.String())

	rr = do(t, srv, http.MethodPut, "/api/students/id-1", `{"firstName":"Anna","lastName":"Nowakowska"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/students", "")
	assert.JSONEq(t, `[{"id":"id-1","firstName":"Anna","lastName":"Nowakowska"}]`, rr.Body.String())

	rr = do(t, srv, http.MethodPost, "/api/students", `{"firstName":"","lastName":"X"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "firstName", decode[errorBody](t, rr).Field)

	rr = do(t, srv, http.MethodPost, "/api/students", `{"first":"Anna"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodDelete, "/api/students/id-1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, srv, http.MethodDelete, "/api/students/id-1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, srv, http.MethodPatch, "/api/students/id-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCollectionPaymentAndRefundFlow(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv)

	rr := do(t, srv, http.MethodPost, "/api/collections", `{"title":"Trip","mode":"total","amount":"60"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[map[string]any](t, rr)
	assert.Equal(t, "id-3", created["id"])
	assert.Equal(t, 30.0, created["perStudentAmount"])
	assert.Equal(t, "2025-09-01", created["startDate"])
	assert.Equal(t, []any{"id-1", "id-2"}, created["participantIds"])

	rr = do(t, srv, http.MethodPost, "/api/collections/id-3/payments/id-1/full", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodPut, "/api/collections/id-3/payments/id-2", `{"amount":45}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, srv, http.MethodPut, "/api/collections/id-3/payments/id-2", `{"amount":-1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodPut, "/api/collections/id-3/payments/id-2", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(t, srv, http.MethodGet, "/api/collections", "")
	summaries := decode[[]collectionSummaryView](t, rr)
	require.Len(t, summaries, 1)
	assert.Equal(t, "75.00", summaries[0].Collected.String())
	assert.Equal(t, 100.0, summaries[0].Progress)
	assert.Equal(t, "no deadline", summaries[0].DeadlineLabel)
	require.Len(t, summaries[0].Lines, 2)
	assert.True(t, summaries[0].Lines[0].Full)

	rr = do(t, srv, http.MethodGet, "/api/stats", "")
	stats := decode[statsView](t, rr)
	require.Len(t, stats.Students, 2)
	assert.Equal(t, "id-2", stats.Students[0].StudentID)
	assert.Equal(t, "15.00", stats.Students[0].TotalToRefund.String())
	assert.Equal(t, "75.00", stats.Aggregate.TotalCollected.String())
	assert.Equal(t, "15.00", stats.Aggregate.TotalRefundable.String())

	rr = do(t, srv, http.MethodDelete, "/api/collections/id-3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[map[string][]any](t, rr)["refunds"], 2)

	rr = do(t, srv, http.MethodGet, "/api/refunds", "")
	refunds := decode[refundsView](t, rr)
	require.Len(t, refunds.History, 2)
	assert.Equal(t, "Deleted collection: Trip", refunds.History[0].Reason)
	assert.Equal(t, "Nowak Anna", refunds.History[0].StudentName)
	require.Len(t, refunds.Due, 2)
	assert.Equal(t, "45.00", refunds.Due[0].TotalToRefund.String())

	rr = do(t, srv, http.MethodPost, "/api/students/id-2/settle", "")
	assert.JSONEq(t, `{"settled":1}`, rr.Body.String())

	rr = do(t, srv, http.MethodDelete, "/api/refunds/id-4", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, srv, http.MethodDelete, "/api/refunds/id-4", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCollectionValidation(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"zero amount", `{"title":"Trip","amount":0}`, http.StatusUnprocessableEntity},
		{"bad mode", `{"title":"Trip","amount":5,"mode":"each"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"title":"Trip","amount":5,"endDate":"tomorrow"}`, http.StatusUnprocessableEntity},
		{"bad amount", `{"title":"Trip","amount":"five"}`, http.StatusUnprocessableEntity},
		{"duplicate participant", `{"title":"Trip","amount":5,"participantIds":["id-1","id-1"]}`, http.StatusUnprocessableEntity},
		{"empty body", ``, http.StatusBadRequest},
		{"two objects", `{"title":"Trip","amount":5}{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/collections", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}

	rr := do(t, srv, http.MethodGet, "/api/collections", "")
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestEditCollectionEndpoint(t *testing.T) {
	srv := newTestServer(t)
	seed(t, srv)
	do(t, srv, http.MethodPost, "/api/collections", `{"title":"Cinema","amount":12.5}`)
	do(t, srv, http.MethodPut, "/api/collections/id-3/payments/id-1", `{"amount":"12.50"}`)

	rr := do(t, srv, http.MethodPut, "/api/collections/id-3",
		`{"title":"Theatre","amount":20,"participantIds":["id-1"],"startDate":"2025-10-01","endDate":"2025-10-31"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	edited := decode[map[string]any](t, rr)
	assert.Equal(t, 20.0, edited["totalAmount"])
	assert.Equal(t, map[string]any{"id-1": 12.5}, edited["payments"])

	rr = do(t, srv, http.MethodPut, "/api/collections/missing", `{"title":"X","amount":1}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestThemeEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := do(t, srv, http.MethodGet, "/api/themes", "")
	assert.Len(t, decode[[]themeView](t, rr), 4)

	rr = do(t, srv, http.MethodGet, "/api/theme", "")
	assert.Equal(t, "emerald", decode[themeView](t, rr).Key)

	rr = do(t, srv, http.MethodPut, "/api/theme", `{"themeKey":"sunset"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sunset", decode[themeView](t, rr).Key)

	rr = do(t, srv, http.MethodPut, "/api/theme", `{"themeKey":"neon"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestExportImportEndpoints(t *testing.T) {
	src := newTestServer(t)
	seed(t, src)

	rr := do(t, src, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "skarbnik.json")
	exported := rr.Body.String()

	dst := newTestServer(t)
	rr = do(t, dst, http.MethodPost, "/api/import", exported)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[map[string]any](t, rr)
	assert.Equal(t, 2.0, result["students"])
	assert.Equal(t, 1.0, result["revision"])

	rr = do(t, dst, http.MethodGet, "/api/export?format=yaml", "")
	assert.Equal(t, "application/yaml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "firstName: Anna")

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewBufferString("themeKey: minimal\n"))
	req.Header.Set("Content-Type", "application/yaml")
	rec := httptest.NewRecorder()
	dst.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "minimal", decode[map[string]any](t, rec)["themeKey"])

	rr = do(t, dst, http.MethodPost, "/api/import", `["not","an","object"]`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, dst, http.MethodGet, "/api/export?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMutationsAreRateLimited(t *testing.T) {
	ledger, err := services.Open(context.Background(), memory.New(), "ledger")
	require.NoError(t, err)
	srv, err := NewServer("127.0.0.1:0", ledger, nil, Config{RequestsPerMinute: 2})
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())

	for i := 0; i < 2; i++ {
		rr := do(t, srv, http.MethodPut, "/api/theme", `{"themeKey":"sunset"}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(t, srv, http.MethodPut, "/api/theme", `{"themeKey":"sunset"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = do(t, srv, http.MethodGet, "/api/theme", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(4), srv.Requests())
}

func TestNewServerRejectsBadProxy(t *testing.T) {
	ledger, err := services.Open(context.Background(), memory.New(), "ledger")
	require.NoError(t, err)
	_, err = NewServer(":0", ledger, nil, Config{TrustedProxies: []string{"nope"}})
	assert.Error(t, err)
}
