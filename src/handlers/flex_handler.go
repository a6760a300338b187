package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/username/flexfolio/backend/src/ibkr"
	"github.com/username/flexfolio/backend/src/logger"
	"github.com/username/flexfolio/backend/src/security/validation"
	"github.com/username/flexfolio/backend/src/services"
	"github.com/username/flexfolio/backend/src/utils"
)

type FlexHandler struct {
	reportService services.ReportService
}

func NewFlexHandler(reportService services.ReportService) *FlexHandler {
	return &FlexHandler{reportService: reportService}
}

// GetFlexConfig returns the stored query id and a masked token.
func (h *FlexHandler) GetFlexConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	view, err := h.reportService.GetFlexConfig(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load flex config", "error", err)
		sendJSONError(w, "Failed to load configuration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// UpdateFlexConfig stores new IBKR credentials for the user.
func (h *FlexHandler) UpdateFlexConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Token   string `json:"token"`
		QueryID string `json:"query_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	payload.Token = validation.StripUnprintable(strings.TrimSpace(payload.Token))
	payload.QueryID = validation.StripUnprintable(strings.TrimSpace(payload.QueryID))

	if err := validation.ValidateStringNotEmpty(payload.Token, "Token"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(payload.Token, validation.MaxFlexTokenLength, "Token"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringNotEmpty(payload.QueryID, "Query ID"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(payload.QueryID, validation.MaxFlexQueryIDLength, "Query ID"); err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.reportService.UpdateFlexConfig(userID, payload.Token, payload.QueryID); err != nil {
		logger.FromContext(r.Context()).Error("Failed to store flex config", "error", err)
		sendJSONError(w, "Failed to store configuration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Configuration saved",
	})
}

// HandleSync triggers a fresh report fetch from IBKR and returns the
// extracted sections plus the portfolio summary.
func (h *FlexHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	ctxLogger := logger.FromContext(r.Context())
	ctxLogger.Info("Flex sync requested")

	result, err := h.reportService.SyncReport(r.Context(), userID)
	if err != nil {
		h.writeSyncError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// writeSyncError translates the pipeline's typed errors into HTTP statuses.
func (h *FlexHandler) writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	ctxLogger := logger.FromContext(r.Context())

	var serviceErr *ibkr.ServiceError
	var transportErr *ibkr.TransportError
	var protocolErr *ibkr.ProtocolError
	var timeoutErr *ibkr.TimeoutError

	switch {
	case errors.Is(err, services.ErrCredentialsNotSet):
		sendJSONError(w, "IBKR credentials not configured", http.StatusBadRequest)
	case errors.As(err, &serviceErr):
		ctxLogger.Warn("IBKR rejected the report request", "code", serviceErr.Code, "message", serviceErr.Message)
		sendJSONError(w, serviceErr.Error(), http.StatusBadGateway)
	case errors.As(err, &timeoutErr):
		ctxLogger.Warn("Report was not ready in time", "attempts", timeoutErr.Attempts)
		sendJSONError(w, "Report generation timed out, try again later", http.StatusGatewayTimeout)
	case errors.As(err, &transportErr):
		ctxLogger.Error("IBKR request failed", "error", transportErr)
		sendJSONError(w, "Failed to reach IBKR", http.StatusBadGateway)
	case errors.As(err, &protocolErr):
		ctxLogger.Error("Unexpected IBKR response", "error", protocolErr)
		sendJSONError(w, "Unexpected response from IBKR", http.StatusBadGateway)
	default:
		ctxLogger.Error("Flex sync failed", "error", err)
		sendJSONError(w, "Failed to sync report", http.StatusInternalServerError)
	}
}

// HandleLatest serves the most recently fetched report without contacting
// IBKR. A user with no stored report gets a no-data status, not an error.
func (h *FlexHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "User not authenticated", http.StatusUnauthorized)
		return
	}

	result, err := h.reportService.GetLatestReport(r.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNoReport) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{
				"status":  "no_data",
				"message": "No report has been synced yet",
			})
			return
		}
		logger.FromContext(r.Context()).Error("Failed to load latest report", "error", err)
		sendJSONError(w, "Failed to load report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, private")

	currentETag, etagErr := utils.GenerateETag(result)
	if etagErr != nil {
		logger.FromContext(r.Context()).Error("Failed to generate ETag for report data", "error", etagErr)
	} else if currentETag != "" {
		quotedETag := fmt.Sprintf("%q", currentETag)
		w.Header().Set("ETag", quotedETag)
		for _, cETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
