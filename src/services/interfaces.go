package services

import (
	"context"
	"errors"

	"github.com/username/flexfolio/backend/src/processors"

	flexparser "github.com/username/flexfolio/backend/src/parsers/flex"
)

// Common service errors, translated to HTTP statuses by the handlers.
var (
	ErrCredentialsNotSet = errors.New("flex credentials not configured")
	ErrNoReport          = errors.New("no report found")
)

// FlexConfigView is what the frontend gets to see of stored credentials:
// the query id and a masked token, never the token itself.
type FlexConfigView struct {
	QueryID     string `json:"query_id"`
	TokenMasked string `json:"token_masked"`
}

// ReportResult is the full payload of a sync or latest-report call. Data and
// Summary have already been passed through the JSON safety normalization.
type ReportResult struct {
	Status              string                         `json:"status"`
	Data                map[string][]flexparser.Record `json:"data"`
	Summary             *processors.PortfolioSummary   `json:"summary"`
	LastReportGenerated string                         `json:"last_report_generated"`
	LastSync            string                         `json:"last_sync"`
}

// ReportService defines the core report pipeline: credentials management,
// trigger/poll fetching, extraction and aggregation.
type ReportService interface {
	SyncReport(ctx context.Context, userID int64) (*ReportResult, error)
	GetLatestReport(ctx context.Context, userID int64) (*ReportResult, error)
	GetFlexConfig(userID int64) (*FlexConfigView, error)
	UpdateFlexConfig(userID int64, token, queryID string) error
	InvalidateUserCache(userID int64)
}
