package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/flexfolio/backend/src/ibkr"
	"github.com/username/flexfolio/backend/src/logger"
	"github.com/username/flexfolio/backend/src/services"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// mockReportService lets handler tests script the service layer.
type mockReportService struct {
	syncResult    *services.ReportResult
	syncErr       error
	latestResult  *services.ReportResult
	latestErr     error
	configView    *services.FlexConfigView
	configErr     error
	updateErr     error
	updatedToken  string
	updatedQuery  string
	invalidatedID int64
}

func (m *mockReportService) SyncReport(ctx context.Context, userID int64) (*services.ReportResult, error) {
	return m.syncResult, m.syncErr
}

func (m *mockReportService) GetLatestReport(ctx context.Context, userID int64) (*services.ReportResult, error) {
	return m.latestResult, m.latestErr
}

func (m *mockReportService) GetFlexConfig(userID int64) (*services.FlexConfigView, error) {
	return m.configView, m.configErr
}

func (m *mockReportService) UpdateFlexConfig(userID int64, token, queryID string) error {
	m.updatedToken = token
	m.updatedQuery = queryID
	return m.updateErr
}

func (m *mockReportService) InvalidateUserCache(userID int64) {
	m.invalidatedID = userID
}

func authenticatedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), userIDContextKey, int64(1))
	return req.WithContext(ctx)
}

func TestGetFlexConfig(t *testing.T) {
	mock := &mockReportService{
		configView: &services.FlexConfigView{QueryID: "854321", TokenMasked: "0123********cdef"},
	}
	handler := NewFlexHandler(mock)

	rec := httptest.NewRecorder()
	handler.GetFlexConfig(rec, authenticatedRequest(http.MethodGet, "/api/flex/config", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var view services.FlexConfigView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "854321", view.QueryID)
	assert.Equal(t, "0123********cdef", view.TokenMasked)
}

func TestFlexHandlersRequireAuthContext(t *testing.T) {
	handler := NewFlexHandler(&mockReportService{})

	for name, call := range map[string]func(http.ResponseWriter, *http.Request){
		"config get": handler.GetFlexConfig,
		"config put": handler.UpdateFlexConfig,
		"sync":       handler.HandleSync,
		"latest":     handler.HandleLatest,
	} {
		rec := httptest.NewRecorder()
		call(rec, httptest.NewRequest(http.MethodGet, "/api/flex/any", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestUpdateFlexConfig(t *testing.T) {
	mock := &mockReportService{}
	handler := NewFlexHandler(mock)

	rec := httptest.NewRecorder()
	handler.UpdateFlexConfig(rec, authenticatedRequest(http.MethodPut, "/api/flex/config",
		`{"token":"  0123456789abcdef  ","query_id":" 854321 "}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789abcdef", mock.updatedToken)
	assert.Equal(t, "854321", mock.updatedQuery)
}

func TestUpdateFlexConfigRejectsMissingFields(t *testing.T) {
	handler := NewFlexHandler(&mockReportService{})

	for name, body := range map[string]string{
		"empty token":    `{"token":"","query_id":"854321"}`,
		"empty query id": `{"token":"0123456789abcdef","query_id":""}`,
		"token too long": `{"token":"` + strings.Repeat("x", 600) + `","query_id":"854321"}`,
		"bad json":       `{`,
	} {
		rec := httptest.NewRecorder()
		handler.UpdateFlexConfig(rec, authenticatedRequest(http.MethodPut, "/api/flex/config", body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestHandleSyncErrorStatuses(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"credentials not set", services.ErrCredentialsNotSet, http.StatusBadRequest},
		{"service error", &ibkr.ServiceError{Code: "1012", Message: "Token has expired."}, http.StatusBadGateway},
		{"timeout", &ibkr.TimeoutError{Attempts: 5}, http.StatusGatewayTimeout},
		{"transport error", &ibkr.TransportError{StatusCode: 503, Body: "unavailable"}, http.StatusBadGateway},
		{"protocol error", &ibkr.ProtocolError{Body: "not xml"}, http.StatusBadGateway},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewFlexHandler(&mockReportService{syncErr: tc.err})

			rec := httptest.NewRecorder()
			handler.HandleSync(rec, authenticatedRequest(http.MethodPost, "/api/flex/sync", ""))

			assert.Equal(t, tc.wantStatus, rec.Code)
			var payload map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestHandleSyncSuccess(t *testing.T) {
	mock := &mockReportService{
		syncResult: &services.ReportResult{Status: "success", LastReportGenerated: "20260830"},
	}
	handler := NewFlexHandler(mock)

	rec := httptest.NewRecorder()
	handler.HandleSync(rec, authenticatedRequest(http.MethodPost, "/api/flex/sync", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var result services.ReportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "20260830", result.LastReportGenerated)
}

func TestHandleLatestNoData(t *testing.T) {
	handler := NewFlexHandler(&mockReportService{latestErr: services.ErrNoReport})

	rec := httptest.NewRecorder()
	handler.HandleLatest(rec, authenticatedRequest(http.MethodGet, "/api/flex/latest", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "no_data", payload["status"])
}

func TestHandleLatestETagNotModified(t *testing.T) {
	mock := &mockReportService{
		latestResult: &services.ReportResult{Status: "success", LastSync: "2026-08-31T10:00:00Z"},
	}
	handler := NewFlexHandler(mock)

	first := httptest.NewRecorder()
	handler.HandleLatest(first, authenticatedRequest(http.MethodGet, "/api/flex/latest", ""))
	require.Equal(t, http.StatusOK, first.Code)

	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := authenticatedRequest(http.MethodGet, "/api/flex/latest", "")
	req.Header.Set("If-None-Match", etag)
	second := httptest.NewRecorder()
	handler.HandleLatest(second, req)

	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.Bytes())
}
