package flex

import (
	"encoding/xml"
	"strings"

	"github.com/username/flexfolio/backend/src/logger"
)

// Record is one row of a report section. Cells are untyped strings in the
// source format; the parser fills string values and downstream aggregation
// may attach numeric fields (e.g. realized_pnl).
type Record map[string]any

// SectionNames lists the report sections the extractor knows about, in the
// order they are emitted. Every name is always present in the result map,
// even when empty.
var SectionNames = []string{
	"Trades",
	"CashTransactions",
	"OpenPositions",
	"ChangeInDividendAccruals",
	"CashReport",
	"EquitySummaryInBase",
	"FIFOPerformanceSummaryInBase",
}

// sectionRecordTags maps each section to the tag of its inner records. The
// vocabulary is fixed by the Flex report format; the plural/singular shapes
// are irregular, hence the table.
var sectionRecordTags = map[string]string{
	"Trades":                       "Trade",
	"CashTransactions":             "CashTransaction",
	"OpenPositions":                "OpenPosition",
	"ChangeInDividendAccruals":     "ChangeInDividendAccrual",
	"CashReport":                   "CashReportCurrency",
	"EquitySummaryInBase":          "EquitySummaryByReportDateInBase",
	"FIFOPerformanceSummaryInBase": "FIFOPerformanceSummaryUnderlying",
}

// xmlNode is a generic element tree: the report sections have open-ended,
// attribute-carried schemas, so rows are decoded into maps instead of
// structs with fixed fields.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) children(name string) []xmlNode {
	var out []xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			out = append(out, n.Nodes[i])
		}
	}
	return out
}

// Parser extracts the known report sections from a raw Flex Query document.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes the raw report into the fixed set of sections plus the report
// date. It degrades gracefully: a malformed document or a missing statements
// envelope yields all sections empty and no date, never an error. Records
// from successive statements are appended in statement order.
func (p *Parser) Parse(rawXML string) (map[string][]Record, string) {
	sections := make(map[string][]Record, len(SectionNames))
	for _, name := range SectionNames {
		sections[name] = []Record{}
	}

	var root xmlNode
	if err := xml.Unmarshal([]byte(rawXML), &root); err != nil {
		logger.L.Debug("Flex report decode failed, returning empty sections", "error", err)
		return sections, ""
	}
	if root.XMLName.Local != "FlexQueryResponse" {
		return sections, ""
	}

	var statements []xmlNode
	for _, container := range root.children("FlexStatements") {
		statements = append(statements, container.children("FlexStatement")...)
	}
	if len(statements) == 0 {
		return sections, ""
	}

	logger.L.Debug("Parsing Flex statements", "count", len(statements))

	for _, stmt := range statements {
		for _, name := range SectionNames {
			tag := sectionRecordTags[name]
			for _, sectionNode := range stmt.children(name) {
				for _, recordNode := range sectionNode.children(tag) {
					sections[name] = append(sections[name], recordFromNode(&recordNode))
				}
			}
		}
	}

	// Report date: prefer toDate (the date the data corresponds to) over
	// reportDate, scanning statements first and the envelope root last.
	reportDate := ""
	for _, stmt := range statements {
		if v := firstNonEmpty(stmt.attr("toDate"), stmt.attr("reportDate")); v != "" {
			reportDate = v
			break
		}
	}
	if reportDate == "" {
		reportDate = firstNonEmpty(root.attr("toDate"), root.attr("reportDate"))
	}

	return sections, reportDate
}

func recordFromNode(n *xmlNode) Record {
	rec := make(Record, len(n.Attrs))
	for _, a := range n.Attrs {
		rec[a.Name.Local] = a.Value
	}
	return rec
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
