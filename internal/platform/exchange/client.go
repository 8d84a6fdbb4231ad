// Package exchange talks to the exchange: a reconnecting push Session for
// market and private channels and a signed REST Client for account data.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/domsync/internal/crypto"
	"github.com/alanyoungcy/domsync/internal/domain"
)

// Client is the REST client for market metadata and account state.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://ftx.com". auth may be nil, in which
// case every private endpoint fails with domain.ErrNotLoggedIn without a
// request being made.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: auth,
	}
}

// Authenticated reports whether credentials are configured.
func (c *Client) Authenticated() bool { return c.auth != nil }

// Market fetches the metadata of one market.
func (c *Client) Market(ctx context.Context, name string) (domain.MarketInfo, error) {
	var m APIMarket
	if err := c.get(ctx, "/api/markets/"+url.PathEscape(name), false, &m); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("exchange/rest: market %s: %w", name, err)
	}
	return m.ToDomain(), nil
}

// AllBalances returns the balances of the main account, or of the
// configured subaccount.
func (c *Client) AllBalances(ctx context.Context) ([]domain.Balance, error) {
	var accounts map[string][]APIBalance
	if err := c.get(ctx, "/api/wallet/all_balances", true, &accounts); err != nil {
		return nil, fmt.Errorf("exchange/rest: all balances: %w", err)
	}
	name := "main"
	if c.auth.Subaccount != "" {
		name = c.auth.Subaccount
	}
	return balancesToDomain(accounts[name]), nil
}

// Balances returns the balances of the account the credentials act as.
func (c *Client) Balances(ctx context.Context) ([]domain.Balance, error) {
	var out []APIBalance
	if err := c.get(ctx, "/api/wallet/balances", true, &out); err != nil {
		return nil, fmt.Errorf("exchange/rest: balances: %w", err)
	}
	return balancesToDomain(out), nil
}

// Positions returns derivative positions with average open prices.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	var out []APIPosition
	if err := c.get(ctx, "/api/positions?showAvgPrice=true", true, &out); err != nil {
		return nil, fmt.Errorf("exchange/rest: positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(out))
	for _, p := range out {
		positions = append(positions, p.ToDomain())
	}
	return positions, nil
}

// OpenOrders returns all working orders.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	var out []OrderData
	if err := c.get(ctx, "/api/orders", true, &out); err != nil {
		return nil, fmt.Errorf("exchange/rest: open orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(out))
	for _, o := range out {
		orders = append(orders, o.ToDomain())
	}
	return orders, nil
}

// TriggerOrders returns all open conditional orders.
func (c *Client) TriggerOrders(ctx context.Context) ([]domain.Order, error) {
	var out []APITriggerOrder
	if err := c.get(ctx, "/api/conditional_orders", true, &out); err != nil {
		return nil, fmt.Errorf("exchange/rest: trigger orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(out))
	for _, o := range out {
		orders = append(orders, o.ToDomain())
	}
	return orders, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, private bool, out any) error {
	if private && c.auth == nil {
		return domain.ErrNotLoggedIn
	}
	raw, err := c.doRequest(ctx, http.MethodGet, path, nil, private)
	if err != nil {
		return err
	}
	return decodeEnvelope(raw, out)
}

// doRequest performs the HTTP call, signing it when private is set.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, private bool) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if private {
		for k, v := range c.auth.RequestHeaders(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// decodeEnvelope unwraps {success, result, error}.
func decodeEnvelope(raw []byte, out any) error {
	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success {
		if strings.Contains(strings.ToLower(env.Error), "not logged in") {
			return fmt.Errorf("%w: %s", domain.ErrNotLoggedIn, env.Error)
		}
		return fmt.Errorf("request rejected: %s", env.Error)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		if strings.Contains(strings.ToLower(bodyStr), "not logged in") {
			return fmt.Errorf("%w: %s", domain.ErrNotLoggedIn, bodyStr)
		}
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func balancesToDomain(in []APIBalance) []domain.Balance {
	out := make([]domain.Balance, 0, len(in))
	for _, b := range in {
		out = append(out, b.ToDomain())
	}
	return out
}
