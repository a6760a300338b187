package ibkr

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/username/flexfolio/backend/src/logger"
)

const (
	// Flex Web Service protocol version, fixed by IBKR.
	protocolVersion = "3"

	defaultSendRequestURL  = "https://www.interactivebrokers.com/Universal/servlet/FlexStatementService.SendRequest"
	defaultGetStatementURL = "https://www.interactivebrokers.com/Universal/servlet/FlexStatementService.GetStatement"

	defaultPollAttempts = 5
	defaultPollInterval = 5 * time.Second
)

// flexStatementResponse is the status envelope both protocol steps may return.
// The actual report document has a different root element (FlexQueryResponse),
// so a failed decode into this struct is how the report body is recognized.
type flexStatementResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Status        string   `xml:"Status"`
	ReferenceCode string   `xml:"ReferenceCode"`
	ErrorCode     string   `xml:"ErrorCode"`
	ErrorMessage  string   `xml:"ErrorMessage"`
}

// ClientOptions overrides the client defaults; zero values fall back to them.
type ClientOptions struct {
	SendRequestURL  string
	GetStatementURL string
	HTTPClient      *http.Client
	PollAttempts    int
	PollInterval    time.Duration
}

// Client implements the two-phase trigger/poll protocol of the IBKR Flex Web
// Service for one set of credentials. It holds no mutable state; independent
// clients may run concurrently.
type Client struct {
	token        string
	queryID      string
	sendURL      string
	fetchURL     string
	httpClient   *http.Client
	pollAttempts int
	pollInterval time.Duration
}

func NewClient(token, queryID string, opts ClientOptions) *Client {
	c := &Client{
		token:        token,
		queryID:      queryID,
		sendURL:      defaultSendRequestURL,
		fetchURL:     defaultGetStatementURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollAttempts: defaultPollAttempts,
		pollInterval: defaultPollInterval,
	}
	if opts.SendRequestURL != "" {
		c.sendURL = opts.SendRequestURL
	}
	if opts.GetStatementURL != "" {
		c.fetchURL = opts.GetStatementURL
	}
	if opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
	}
	if opts.PollAttempts > 0 {
		c.pollAttempts = opts.PollAttempts
	}
	if opts.PollInterval > 0 {
		c.pollInterval = opts.PollInterval
	}
	return c
}

// MaskToken hides most of a Flex token for logging and config display,
// keeping the first and last four characters.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func (c *Client) get(ctx context.Context, baseURL, query string) (int, string, error) {
	params := url.Values{}
	params.Set("t", c.token)
	params.Set("q", query)
	params.Set("v", protocolVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

// TriggerReport performs step 1 of the protocol: it asks the service to start
// generating the report and returns the reference code to poll with.
func (c *Client) TriggerReport(ctx context.Context) (string, error) {
	if c.token == "" || c.queryID == "" {
		return "", errors.New("flex token and query id are required")
	}

	logger.L.Info("Triggering Flex report", "queryID", c.queryID, "token", MaskToken(c.token))

	status, body, err := c.get(ctx, c.sendURL, c.queryID)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	if status != http.StatusOK {
		return "", &TransportError{StatusCode: status, Body: body}
	}

	var envelope flexStatementResponse
	if err := xml.Unmarshal([]byte(body), &envelope); err != nil {
		return "", &ProtocolError{Body: body}
	}

	if envelope.Status == "Success" {
		return envelope.ReferenceCode, nil
	}

	logger.L.Warn("Flex trigger rejected by IBKR", "errorCode", envelope.ErrorCode, "errorMessage", envelope.ErrorMessage)
	if !isNumeric(c.queryID) {
		// Advisory only: real Flex query ids are numeric (e.g. 854321).
		logger.L.Info("Query ID does not look like a Flex query id, check the Flex Query configuration in IBKR Account Management", "queryID", c.queryID)
	}
	return "", &ServiceError{Code: envelope.ErrorCode, Message: envelope.ErrorMessage}
}

// FetchReport performs step 2 of the protocol: it polls for the generated
// report with a fixed interval between attempts. A non-200 response or a
// Status=Warn envelope means the report is not ready yet; any other readable
// body is taken as the final report. The envelope is only inspected for the
// not-ready signal.
func (c *Client) FetchReport(ctx context.Context, referenceCode string) (string, error) {
	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		logger.L.Info("Fetching Flex report", "attempt", fmt.Sprintf("%d/%d", attempt, c.pollAttempts))

		status, body, err := c.get(ctx, c.fetchURL, referenceCode)
		if err != nil || status != http.StatusOK {
			logger.L.Debug("Waiting for report generation", "status", status, "error", err)
			if err := c.wait(ctx); err != nil {
				return "", err
			}
			continue
		}

		var envelope flexStatementResponse
		if err := xml.Unmarshal([]byte(body), &envelope); err == nil && envelope.Status == "Warn" {
			logger.L.Info("Report not ready yet", "message", envelope.ErrorMessage)
			if err := c.wait(ctx); err != nil {
				return "", err
			}
			continue
		}

		// Either the report document itself or an envelope that is not the
		// not-ready signal: return the body as-is.
		return body, nil
	}

	return "", &TimeoutError{Attempts: c.pollAttempts}
}

// wait suspends for the poll interval, honoring context cancellation.
func (c *Client) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.pollInterval):
		return nil
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
