package processors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/username/flexfolio/backend/src/logger"
	flexparser "github.com/username/flexfolio/backend/src/parsers/flex"
	"github.com/username/flexfolio/backend/src/utils"
)

// TopPosition is the projection of one open position for the dashboard,
// including its joined realized PnL.
type TopPosition struct {
	Symbol      string  `json:"symbol"`
	Value       float64 `json:"value"`
	Pnl         float64 `json:"pnl"`
	RealizedPnl float64 `json:"realized_pnl"`
	Allocation  float64 `json:"allocation"`
}

// PortfolioSummary is recomputed from scratch on every report extraction.
// ChangeVsLast is reserved; no historical comparison is implemented.
type PortfolioSummary struct {
	TotalEquity        float64       `json:"total_equity"`
	EstimatedCash      float64       `json:"estimated_cash"`
	TotalUnrealizedPnl float64       `json:"total_unrealized_pnl"`
	TotalRealizedPnl   float64       `json:"total_realized_pnl"`
	TotalPositionValue float64       `json:"total_position_value"`
	DividendAccruals   float64       `json:"dividend_accruals"`
	TopPositions       []TopPosition `json:"top_positions"`
	ChangeVsLast       float64       `json:"change_vs_last"`
}

// Currency marker for the base-currency aggregate row of a cash report.
const baseSummaryCurrency = "BASE_SUMMARY"

// Description of the all-assets aggregate row of a FIFO performance summary.
const totalAllAssetsDescription = "Total (All Assets)"

var openPositionNumericFields = []string{"positionValue", "percentOfNAV", "fifoPnlUnrealized", "costBasisMoney"}

type SummaryProcessor struct{}

func NewSummaryProcessor() *SummaryProcessor {
	return &SummaryProcessor{}
}

// Summarize derives the portfolio summary from the extracted sections. It
// also attaches a realized_pnl cell to every OpenPositions record, visible to
// the caller through the sections map.
func (p *SummaryProcessor) Summarize(sections map[string][]flexparser.Record) *PortfolioSummary {
	summary := &PortfolioSummary{TopPositions: []TopPosition{}}

	open := sections["OpenPositions"]
	if len(open) == 0 {
		return summary
	}

	// Rewrite the numeric open-position cells up front so the serialized
	// section carries numbers, not strings.
	for _, rec := range open {
		for _, field := range openPositionNumericFields {
			if _, ok := rec[field]; ok {
				rec[field] = utils.CoerceFloat(rec[field])
			}
		}
	}

	var totalPositionValue, totalUnrealizedPnl float64
	for _, rec := range open {
		totalPositionValue += utils.CoerceFloat(rec["positionValue"])
		totalUnrealizedPnl += utils.CoerceFloat(rec["fifoPnlUnrealized"])
	}

	cash := p.computeCash(sections["CashReport"], open, totalPositionValue)
	dividendAccruals := p.computeDividendAccruals(sections["EquitySummaryInBase"])
	totalRealizedPnl, realizedBySymbol := p.computeRealizedPnl(sections["FIFOPerformanceSummaryInBase"])

	// Join realized PnL into the open positions by normalized symbol.
	for _, rec := range open {
		rec["realized_pnl"] = realizedBySymbol[normalizeSymbol(stringCell(rec, "symbol"))]
	}

	totalEquity := totalPositionValue + cash + dividendAccruals

	summary.TotalEquity = round2(totalEquity)
	summary.EstimatedCash = round2(cash)
	summary.TotalUnrealizedPnl = round2(totalUnrealizedPnl)
	summary.TotalRealizedPnl = round2(totalRealizedPnl)
	summary.TotalPositionValue = round2(totalPositionValue)
	summary.DividendAccruals = round2(dividendAccruals)
	summary.TopPositions = p.topPositions(open)

	return summary
}

// computeCash prefers the BASE_SUMMARY row of the cash report, then the sum
// over all rows, then an estimate derived from the NAV percentages.
func (p *SummaryProcessor) computeCash(cashReport, open []flexparser.Record, totalPositionValue float64) float64 {
	if len(cashReport) > 0 {
		var baseCash, allCash float64
		baseFound := false
		for _, rec := range cashReport {
			ending := utils.CoerceFloat(rec["endingCash"])
			allCash += ending
			if stringCell(rec, "currency") == baseSummaryCurrency {
				baseCash += ending
				baseFound = true
			}
		}
		if baseFound {
			return baseCash
		}
		return allCash
	}

	// No cash report at all: estimate total equity from the share of NAV the
	// open positions represent.
	var totalNavPct float64
	for _, rec := range open {
		totalNavPct += utils.CoerceFloat(rec["percentOfNAV"])
	}
	if totalNavPct > 0 {
		estimatedEquity := totalPositionValue / (totalNavPct / 100.0)
		return estimatedEquity - totalPositionValue
	}
	return 0
}

// computeDividendAccruals sums accruals over the latest record per account.
// Without account-id and report-date fields no safe "latest" exists, so the
// accruals stay 0.
func (p *SummaryProcessor) computeDividendAccruals(equitySummary []flexparser.Record) float64 {
	if len(equitySummary) == 0 {
		return 0
	}
	if !hasField(equitySummary, "dividendAccruals") ||
		!hasField(equitySummary, "accountId") || !hasField(equitySummary, "reportDate") {
		logger.L.Debug("EquitySummaryInBase missing accountId/reportDate fields, skipping dividend accruals")
		return 0
	}

	sorted := make([]flexparser.Record, len(equitySummary))
	copy(sorted, equitySummary)
	sort.SliceStable(sorted, func(i, j int) bool {
		return stringCell(sorted[i], "reportDate") > stringCell(sorted[j], "reportDate")
	})

	var total float64
	seen := make(map[string]bool)
	for _, rec := range sorted {
		accountID := stringCell(rec, "accountId")
		if seen[accountID] {
			continue
		}
		seen[accountID] = true
		total += utils.CoerceFloat(rec["dividendAccruals"])
	}
	return total
}

// computeRealizedPnl returns the overall realized PnL (from the all-assets
// aggregate row) and a per-normalized-symbol map for the join. Duplicate
// symbols accumulate.
func (p *SummaryProcessor) computeRealizedPnl(fifoSummary []flexparser.Record) (float64, map[string]float64) {
	realizedBySymbol := make(map[string]float64)
	var total float64

	for _, rec := range fifoSummary {
		if symbol := normalizeSymbol(stringCell(rec, "symbol")); symbol != "" {
			realizedBySymbol[symbol] += utils.CoerceFloat(rec["totalRealizedPnl"])
		}
		if stringCell(rec, "description") == totalAllAssetsDescription {
			total += utils.CoerceFloat(rec["totalRealizedPnl"])
		}
	}
	return total, realizedBySymbol
}

// topPositions returns the five largest open positions by value.
func (p *SummaryProcessor) topPositions(open []flexparser.Record) []TopPosition {
	sorted := make([]flexparser.Record, len(open))
	copy(sorted, open)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utils.CoerceFloat(sorted[i]["positionValue"]) > utils.CoerceFloat(sorted[j]["positionValue"])
	})
	if len(sorted) > 5 {
		sorted = sorted[:5]
	}

	top := make([]TopPosition, 0, len(sorted))
	for _, rec := range sorted {
		symbol := "Unknown"
		if _, ok := rec["symbol"]; ok {
			symbol = stringCell(rec, "symbol")
		}
		top = append(top, TopPosition{
			Symbol:      symbol,
			Value:       round2(utils.CoerceFloat(rec["positionValue"])),
			Pnl:         round2(utils.CoerceFloat(rec["fifoPnlUnrealized"])),
			RealizedPnl: round2(utils.CoerceFloat(rec["realized_pnl"])),
			Allocation:  round2(utils.CoerceFloat(rec["percentOfNAV"])),
		})
	}
	return top
}

// round2 rounds to two decimals after the JSON safety pass, so a non-finite
// intermediate becomes 0.0 in the summary rather than breaking encoding.
func round2(v float64) float64 {
	safe, _ := utils.JSONSafeValue(v).(float64)
	return utils.RoundFloat(safe, 2)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func hasField(records []flexparser.Record, field string) bool {
	for _, rec := range records {
		if _, ok := rec[field]; ok {
			return true
		}
	}
	return false
}

func stringCell(rec flexparser.Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
