package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/flexfolio/backend/src/config"
	"github.com/username/flexfolio/backend/src/database"
	"github.com/username/flexfolio/backend/src/ibkr"
	"github.com/username/flexfolio/backend/src/logger"
	"github.com/username/flexfolio/backend/src/model"
	"github.com/username/flexfolio/backend/src/processors"
	"github.com/username/flexfolio/backend/src/utils"

	flexparser "github.com/username/flexfolio/backend/src/parsers/flex"
)

const (
	ckFlexReport           = "flex_report_user_%d"
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

type reportServiceImpl struct {
	parser           *flexparser.Parser
	summaryProcessor *processors.SummaryProcessor
	reportCache      *cache.Cache
	httpClient       *http.Client
}

func NewReportService(
	parser *flexparser.Parser,
	summaryProcessor *processors.SummaryProcessor,
	reportCache *cache.Cache,
) ReportService {
	return &reportServiceImpl{
		parser:           parser,
		summaryProcessor: summaryProcessor,
		reportCache:      reportCache,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
	}
}

// SyncReport runs the full pipeline for one user: trigger the report, poll
// until it is ready, persist the raw XML, then extract and aggregate. The
// cached result is replaced wholesale on success.
func (s *reportServiceImpl) SyncReport(ctx context.Context, userID int64) (*ReportResult, error) {
	cred, err := model.GetFlexCredential(database.DB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialsNotSet
		}
		return nil, fmt.Errorf("loading flex credentials: %w", err)
	}

	client := ibkr.NewClient(cred.Token, cred.QueryID, ibkr.ClientOptions{
		SendRequestURL:  config.Cfg.FlexSendRequestURL,
		GetStatementURL: config.Cfg.FlexGetStatementURL,
		HTTPClient:      s.httpClient,
		PollAttempts:    config.Cfg.FlexPollAttempts,
		PollInterval:    config.Cfg.FlexPollInterval,
	})

	referenceCode, err := client.TriggerReport(ctx)
	if err != nil {
		return nil, err
	}

	rawXML, err := client.FetchReport(ctx, referenceCode)
	if err != nil {
		return nil, err
	}

	report := &model.FlexReport{UserID: userID, RawXML: rawXML}
	if err := model.UpsertFlexReport(database.DB, report); err != nil {
		// The report is still usable in-memory; losing the copy only affects
		// the /latest endpoint until the next sync.
		logger.L.Error("Failed to persist flex report", "userID", userID, "error", err)
	}

	result := s.buildResult(rawXML, time.Now())
	s.reportCache.Set(fmt.Sprintf(ckFlexReport, userID), result, cache.DefaultExpiration)
	return result, nil
}

// GetLatestReport re-runs extraction and aggregation over the stored raw
// report without contacting IBKR.
func (s *reportServiceImpl) GetLatestReport(ctx context.Context, userID int64) (*ReportResult, error) {
	cacheKey := fmt.Sprintf(ckFlexReport, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		return cached.(*ReportResult), nil
	}

	report, err := model.GetFlexReport(database.DB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoReport
		}
		return nil, fmt.Errorf("loading stored flex report: %w", err)
	}

	result := s.buildResult(report.RawXML, report.FetchedAt)
	s.reportCache.Set(cacheKey, result, cache.DefaultExpiration)
	return result, nil
}

// buildResult turns a raw report into the serializable response payload:
// extraction, aggregation, then the JSON safety pass over both halves.
func (s *reportServiceImpl) buildResult(rawXML string, lastSync time.Time) *ReportResult {
	sections, reportDate := s.parser.Parse(rawXML)
	summary := s.summaryProcessor.Summarize(sections)

	for _, records := range sections {
		for _, rec := range records {
			utils.ScrubRecord(rec)
		}
	}

	return &ReportResult{
		Status:              "success",
		Data:                sections,
		Summary:             summary,
		LastReportGenerated: reportDate,
		LastSync:            lastSync.Format(time.RFC3339),
	}
}

func (s *reportServiceImpl) GetFlexConfig(userID int64) (*FlexConfigView, error) {
	cred, err := model.GetFlexCredential(database.DB, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &FlexConfigView{}, nil
		}
		return nil, fmt.Errorf("loading flex credentials: %w", err)
	}
	return &FlexConfigView{
		QueryID:     cred.QueryID,
		TokenMasked: ibkr.MaskToken(cred.Token),
	}, nil
}

func (s *reportServiceImpl) UpdateFlexConfig(userID int64, token, queryID string) error {
	cred := &model.FlexCredential{UserID: userID, Token: token, QueryID: queryID}
	if err := model.UpsertFlexCredential(database.DB, cred); err != nil {
		return fmt.Errorf("storing flex credentials: %w", err)
	}
	s.InvalidateUserCache(userID)
	logger.L.Info("Flex credentials updated", "userID", userID, "queryID", queryID)
	return nil
}

func (s *reportServiceImpl) InvalidateUserCache(userID int64) {
	s.reportCache.Delete(fmt.Sprintf(ckFlexReport, userID))
}
