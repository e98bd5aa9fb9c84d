// Package dmarket is the REST and WebSocket client for the skin marketplace
// API. It signs requests with ed25519, retries transient failures with
// exponential backoff, and converts between wire money strings and float
// prices.
package dmarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/targetlab/dmbot/internal/crypto"
	"github.com/targetlab/dmbot/internal/domain"
)

const (
	// listPageSize is the page size used when walking the cursor over the
	// caller's own targets.
	listPageSize = 100

	// maxListPages bounds cursor walks so a misbehaving cursor can never
	// loop forever.
	maxListPages = 50
)

// ClientConfig holds the REST client's connection parameters.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "https://api.dmarket.com".
	BaseURL string

	// RequestTimeout bounds a single HTTP attempt (not the whole retry
	// sequence). Zero means 15s.
	RequestTimeout time.Duration

	// MaxRetries is the number of attempts per request including the
	// first. Zero means 4.
	MaxRetries int
}

// Client is the authenticated marketplace REST client. It implements
// domain.Exchange.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	maxTries   uint
	logger     *slog.Logger
}

// NewClient creates a marketplace client that signs every request with the
// given signer.
func NewClient(cfg ClientConfig, signer *crypto.Signer, logger *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	tries := cfg.MaxRetries
	if tries <= 0 {
		tries = 4
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		maxTries:   uint(tries),
		logger:     logger.With(slog.String("component", "dmarket_client")),
	}
}

// CreateOrders places one request spanning several order specs and reports
// the per-item outcome with the marketplace-assigned target ids.
func (c *Client) CreateOrders(ctx context.Context, game domain.Game, specs []domain.OrderSpec) ([]domain.OrderCreateResult, error) {
	gameID, err := GameID(game)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, nil
	}

	req := createTargetsRequest{GameID: gameID, Targets: make([]apiTargetSpec, 0, len(specs))}
	for _, spec := range specs {
		req.Targets = append(req.Targets, apiTargetSpec{
			Title:  spec.Title,
			Amount: spec.Amount,
			Price:  moneyFromPrice(spec.Price),
			Attrs:  attrsToWire(spec.Attrs),
		})
	}

	body, err := c.do(ctx, http.MethodPost, "/marketplace-api/v1/user-targets/create", nil, req)
	if err != nil {
		return nil, fmt.Errorf("dmarket: create targets: %w", err)
	}

	var resp createTargetsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dmarket: decode create response: %w", err)
	}

	results := make([]domain.OrderCreateResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, r.toDomain())
	}
	return results, nil
}

// CancelOrders cancels the given target ids. A target the marketplace
// reports as not-cancellable fails the whole call; ids are never silently
// dropped.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) error {
	if len(orderIDs) == 0 {
		return nil
	}

	req := deleteTargetsRequest{Targets: make([]deleteTargetRef, 0, len(orderIDs))}
	for _, id := range orderIDs {
		req.Targets = append(req.Targets, deleteTargetRef{TargetID: id})
	}

	body, err := c.do(ctx, http.MethodPost, "/marketplace-api/v1/user-targets/delete", nil, req)
	if err != nil {
		return fmt.Errorf("dmarket: delete targets: %w", err)
	}

	var resp deleteTargetsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("dmarket: decode delete response: %w", err)
	}
	for _, r := range resp.Result {
		if !r.Successful {
			msg := "unknown error"
			if r.Error != nil && r.Error.Message != "" {
				msg = r.Error.Message
			}
			return fmt.Errorf("dmarket: delete target %s: %s", r.TargetID, msg)
		}
	}
	return nil
}

// ListOrdersByTitle returns all competing buy-orders on the public book for
// one item title.
func (c *Client) ListOrdersByTitle(ctx context.Context, game domain.Game, title string) ([]domain.MarketOrder, error) {
	gameID, err := GameID(game)
	if err != nil {
		return nil, err
	}

	path := "/marketplace-api/v1/targets-by-title/" + gameID + "/" + url.PathEscape(title)
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("dmarket: targets by title: %w", err)
	}

	var resp targetsByTitleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dmarket: decode targets-by-title response: %w", err)
	}

	orders := make([]domain.MarketOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		mo, err := o.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, mo)
	}
	return orders, nil
}

// ListOwnOrders returns the caller's targets, walking the cursor until the
// marketplace reports no more pages. An empty title means all titles.
func (c *Client) ListOwnOrders(ctx context.Context, game domain.Game, status domain.OrderStatus, title string) ([]domain.Order, error) {
	gameID, err := GameID(game)
	if err != nil {
		return nil, err
	}
	wireStatus, ok := statusToWire[status]
	if !ok {
		return nil, fmt.Errorf("dmarket: unknown order status %q", status)
	}

	var orders []domain.Order
	cursor := ""
	for page := 0; page < maxListPages; page++ {
		query := url.Values{}
		query.Set("GameID", gameID)
		query.Set("Status", wireStatus)
		query.Set("Limit", fmt.Sprintf("%d", listPageSize))
		if title != "" {
			query.Set("Title", title)
		}
		if cursor != "" {
			query.Set("Cursor", cursor)
		}

		body, err := c.do(ctx, http.MethodGet, "/marketplace-api/v1/user-targets", query, nil)
		if err != nil {
			return nil, fmt.Errorf("dmarket: list targets: %w", err)
		}

		var resp userTargetsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("dmarket: decode user-targets response: %w", err)
		}

		for _, item := range resp.Items {
			order, err := item.toDomain()
			if err != nil {
				return nil, err
			}
			orders = append(orders, order)
		}

		if resp.Cursor == "" || len(resp.Items) == 0 {
			return orders, nil
		}
		cursor = resp.Cursor
	}
	return orders, fmt.Errorf("dmarket: list targets: cursor did not terminate after %d pages", maxListPages)
}

// GetAggregatedPrice returns the best-bid/best-ask pair for a title. A title
// missing from the aggregator comes back as an empty book, not an error.
func (c *Client) GetAggregatedPrice(ctx context.Context, game domain.Game, title string) (domain.AggregatedPrice, error) {
	gameID, err := GameID(game)
	if err != nil {
		return domain.AggregatedPrice{}, err
	}

	query := url.Values{}
	query.Set("GameID", gameID)
	query.Set("Titles", title)
	query.Set("Limit", "1")

	body, err := c.do(ctx, http.MethodGet, "/price-aggregator/v1/aggregated-prices", query, nil)
	if err != nil {
		return domain.AggregatedPrice{}, fmt.Errorf("dmarket: aggregated prices: %w", err)
	}

	var resp aggregatedPricesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AggregatedPrice{}, fmt.Errorf("dmarket: decode aggregated-prices response: %w", err)
	}
	if len(resp.AggregatedTitles) == 0 {
		return domain.AggregatedPrice{Game: game, Title: title, UpdatedAt: time.Now().UTC()}, nil
	}
	return resp.AggregatedTitles[0].toDomain(game)
}

// httpStatusError marks a response the server answered but with a failure
// status. 429 and 5xx are retryable; other 4xx are permanent.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

// do performs one signed request with retries. The signed route includes the
// raw query string, matching what actually goes on the wire.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	route := path
	if len(query) > 0 {
		route += "?" + query.Encode()
	}

	operation := func() ([]byte, error) {
		respBody, err := c.doOnce(ctx, method, route, bodyBytes)
		if err == nil {
			return respBody, nil
		}

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			if statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500 {
				c.logger.WarnContext(ctx, "retrying request",
					slog.String("route", route),
					slog.Int("status", statusErr.status),
				)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		// Network-level failure: retryable unless the context is done.
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		c.logger.WarnContext(ctx, "retrying request",
			slog.String("route", route),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

func (c *Client) doOnce(ctx context.Context, method, route string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.signer.Headers(method, route, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{status: resp.StatusCode, body: truncate(string(respBody), 256)}
	}
	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Compile-time interface check.
var _ domain.Exchange = (*Client)(nil)
