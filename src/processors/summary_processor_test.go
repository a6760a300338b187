package processors

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/flexfolio/backend/src/logger"

	flexparser "github.com/username/flexfolio/backend/src/parsers/flex"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

func emptySections() map[string][]flexparser.Record {
	sections := make(map[string][]flexparser.Record)
	for _, name := range flexparser.SectionNames {
		sections[name] = []flexparser.Record{}
	}
	return sections
}

func TestSummarizeFullReport(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000", "fifoPnlUnrealized": "50", "percentOfNAV": "40"},
	}
	sections["CashReport"] = []flexparser.Record{
		{"currency": "BASE_SUMMARY", "endingCash": "1500"},
		{"currency": "USD", "endingCash": "1500"},
	}
	sections["FIFOPerformanceSummaryInBase"] = []flexparser.Record{
		{"symbol": "AAPL", "totalRealizedPnl": "30"},
		{"description": "Total (All Assets)", "totalRealizedPnl": "30"},
	}

	summary := NewSummaryProcessor().Summarize(sections)

	assert.Equal(t, 1000.0, summary.TotalPositionValue)
	assert.Equal(t, 1500.0, summary.EstimatedCash)
	assert.Equal(t, 50.0, summary.TotalUnrealizedPnl)
	assert.Equal(t, 30.0, summary.TotalRealizedPnl)
	assert.Equal(t, 2500.0, summary.TotalEquity)

	// The realized PnL join mutates the open positions in place.
	assert.Equal(t, 30.0, sections["OpenPositions"][0]["realized_pnl"])
	// Numeric cells are rewritten as floats.
	assert.Equal(t, 1000.0, sections["OpenPositions"][0]["positionValue"])

	require.Len(t, summary.TopPositions, 1)
	top := summary.TopPositions[0]
	assert.Equal(t, "AAPL", top.Symbol)
	assert.Equal(t, 1000.0, top.Value)
	assert.Equal(t, 50.0, top.Pnl)
	assert.Equal(t, 30.0, top.RealizedPnl)
	assert.Equal(t, 40.0, top.Allocation)
}

func TestSummarizeEmptyPositions(t *testing.T) {
	summary := NewSummaryProcessor().Summarize(emptySections())

	assert.Equal(t, 0.0, summary.TotalEquity)
	assert.Equal(t, 0.0, summary.EstimatedCash)
	assert.Equal(t, 0.0, summary.TotalPositionValue)
	assert.NotNil(t, summary.TopPositions)
	assert.Empty(t, summary.TopPositions)
}

func TestSummarizeCashPrefersBaseSummary(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}
	sections["CashReport"] = []flexparser.Record{
		{"currency": "BASE_SUMMARY", "endingCash": "200"},
		{"currency": "USD", "endingCash": "150"},
		{"currency": "EUR", "endingCash": "50"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 200.0, summary.EstimatedCash)
}

func TestSummarizeCashSumsAllWithoutBaseSummary(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}
	sections["CashReport"] = []flexparser.Record{
		{"currency": "USD", "endingCash": "150"},
		{"currency": "EUR", "endingCash": "50"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 200.0, summary.EstimatedCash)
}

func TestSummarizeCashEstimatedFromNAV(t *testing.T) {
	sections := emptySections()
	// 1000 of position value covering 80% of NAV implies 1250 total equity,
	// so 250 of cash.
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000", "percentOfNAV": "80"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 250.0, summary.EstimatedCash)
	assert.Equal(t, 1250.0, summary.TotalEquity)
}

func TestSummarizeCashZeroNavPercent(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 0.0, summary.EstimatedCash)
	assert.Equal(t, 1000.0, summary.TotalEquity)
}

func TestSummarizeDividendAccrualsLatestPerAccount(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}
	sections["EquitySummaryInBase"] = []flexparser.Record{
		{"accountId": "U1", "reportDate": "20260828", "dividendAccruals": "5.0"},
		{"accountId": "U1", "reportDate": "20260830", "dividendAccruals": "7.0"},
		{"accountId": "U1", "reportDate": "20260827", "dividendAccruals": "12.0"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	// Only the newest row per account counts.
	assert.Equal(t, 7.0, summary.DividendAccruals)
}

func TestSummarizeDividendAccrualsMultipleAccounts(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}
	sections["EquitySummaryInBase"] = []flexparser.Record{
		{"accountId": "U1", "reportDate": "20260830", "dividendAccruals": "7.0"},
		{"accountId": "U2", "reportDate": "20260830", "dividendAccruals": "3.0"},
		{"accountId": "U2", "reportDate": "20260829", "dividendAccruals": "9.0"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 10.0, summary.DividendAccruals)
}

func TestSummarizeDividendAccrualsMissingFields(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}
	// Without accountId/reportDate there is no safe notion of "latest".
	sections["EquitySummaryInBase"] = []flexparser.Record{
		{"dividendAccruals": "7.0"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 0.0, summary.DividendAccruals)
}

func TestSummarizeRealizedPnlJoinNormalizesSymbols(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": " aapl ", "positionValue": "1000"},
		{"symbol": "MSFT", "positionValue": "500"},
	}
	sections["FIFOPerformanceSummaryInBase"] = []flexparser.Record{
		{"symbol": "AAPL", "totalRealizedPnl": "30"},
	}

	summary := NewSummaryProcessor().Summarize(sections)

	assert.Equal(t, 30.0, sections["OpenPositions"][0]["realized_pnl"])
	// Positions with no realized trades get an explicit zero.
	assert.Equal(t, 0.0, sections["OpenPositions"][1]["realized_pnl"])
	// No all-assets aggregate row, so the overall total stays zero.
	assert.Equal(t, 0.0, summary.TotalRealizedPnl)
}

func TestSummarizeRealizedPnlAccumulatesDuplicateSymbols(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "1000"},
	}
	sections["FIFOPerformanceSummaryInBase"] = []flexparser.Record{
		{"symbol": "AAPL", "totalRealizedPnl": "30"},
		{"symbol": "AAPL", "totalRealizedPnl": "12"},
	}

	NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 42.0, sections["OpenPositions"][0]["realized_pnl"])
}

func TestSummarizeTopPositionsCappedAtFive(t *testing.T) {
	sections := emptySections()
	for _, rec := range []flexparser.Record{
		{"symbol": "A", "positionValue": "100"},
		{"symbol": "B", "positionValue": "700"},
		{"symbol": "C", "positionValue": "300"},
		{"symbol": "D", "positionValue": "900"},
		{"symbol": "E", "positionValue": "500"},
		{"symbol": "F", "positionValue": "200"},
		{"symbol": "G", "positionValue": "800"},
	} {
		sections["OpenPositions"] = append(sections["OpenPositions"], rec)
	}

	summary := NewSummaryProcessor().Summarize(sections)

	require.Len(t, summary.TopPositions, 5)
	assert.Equal(t, "D", summary.TopPositions[0].Symbol)
	assert.Equal(t, "G", summary.TopPositions[1].Symbol)
	assert.Equal(t, "B", summary.TopPositions[2].Symbol)
	assert.Equal(t, "E", summary.TopPositions[3].Symbol)
	assert.Equal(t, "C", summary.TopPositions[4].Symbol)
}

func TestSummarizeTopPositionMissingSymbol(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"positionValue": "1000"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	require.Len(t, summary.TopPositions, 1)
	assert.Equal(t, "Unknown", summary.TopPositions[0].Symbol)
}

func TestSummarizeNonFiniteTotalsCollapseToZero(t *testing.T) {
	sections := emptySections()
	// strconv parses "Inf" to +Inf; the safety pass keeps it out of the summary.
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "Inf", "fifoPnlUnrealized": "50"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 0.0, summary.TotalPositionValue)
	assert.Equal(t, 0.0, summary.TotalEquity)
	assert.Equal(t, 50.0, summary.TotalUnrealizedPnl)
}

func TestSummarizeUnparseableNumbersCountAsZero(t *testing.T) {
	sections := emptySections()
	sections["OpenPositions"] = []flexparser.Record{
		{"symbol": "AAPL", "positionValue": "not-a-number", "fifoPnlUnrealized": ""},
		{"symbol": "MSFT", "positionValue": "500", "fifoPnlUnrealized": "25"},
	}

	summary := NewSummaryProcessor().Summarize(sections)
	assert.Equal(t, 500.0, summary.TotalPositionValue)
	assert.Equal(t, 25.0, summary.TotalUnrealizedPnl)
}
