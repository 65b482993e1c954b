// Package polymarket holds the REST clients for the Polymarket CLOB and Gamma
// APIs: market data, order placement, and market discovery.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mathidot/polymarket-bot/internal/crypto"
	"github.com/mathidot/polymarket-bot/internal/domain"
)

// usdcDecimals converts between USDC base units and dollars.
const usdcDecimals = 1e6

// ClobClient is the REST client for the Polymarket CLOB (Central Limit Order
// Book) API. Market-data endpoints are public; order placement and balance
// queries require the EIP-712 signer and an HMAC key from DeriveAPIKey.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
}

// NewClobClient creates a CLOB client. signer and hmac may be nil for
// market-data-only use (sim and monitor modes).
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
	}
}

// FetchOrderBook returns the full order book for one asset.
func (c *ClobClient) FetchOrderBook(ctx context.Context, assetID string) (domain.OrderBookSnapshot, error) {
	params := url.Values{}
	params.Set("token_id", assetID)

	body, err := c.doGet(ctx, "/book?"+params.Encode())
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("polymarket/clob: fetch book %s: %w", assetID, err)
	}

	var apiBook APIBook
	if err := json.Unmarshal(body, &apiBook); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	snap := apiBook.ToSnapshot()
	if snap.AssetID == "" {
		snap.AssetID = assetID
	}
	return snap, nil
}

// FetchOrderBooks batch-fetches order books via POST /books. A failed request
// is an error; assets missing from the response are simply absent from the
// result map.
func (c *ClobClient) FetchOrderBooks(ctx context.Context, assetIDs []string) (map[string]domain.OrderBookSnapshot, error) {
	reqBody := make([]bookParams, 0, len(assetIDs))
	for _, id := range assetIDs {
		reqBody = append(reqBody, bookParams{TokenID: id})
	}

	body, err := c.doPost(ctx, "/books", reqBody)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: fetch books: %w", err)
	}

	var apiBooks []APIBook
	if err := json.Unmarshal(body, &apiBooks); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode books: %w", err)
	}

	out := make(map[string]domain.OrderBookSnapshot, len(apiBooks))
	for i := range apiBooks {
		snap := apiBooks[i].ToSnapshot()
		if snap.AssetID != "" {
			out[snap.AssetID] = snap
		}
	}
	return out, nil
}

// FetchQuote returns the current best bid/ask via GET /price.
func (c *ClobClient) FetchQuote(ctx context.Context, assetID string) (domain.Quote, error) {
	bid, err := c.fetchPrice(ctx, assetID, "buy")
	if err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: fetch bid %s: %w", assetID, err)
	}
	ask, err := c.fetchPrice(ctx, assetID, "sell")
	if err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: fetch ask %s: %w", assetID, err)
	}

	q := domain.Quote{
		AssetID:   assetID,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now(),
	}
	if bid > 0 && ask > 0 {
		q.Mid = (bid + ask) / 2
	}
	return q, nil
}

func (c *ClobClient) fetchPrice(ctx context.Context, assetID, side string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", assetID)
	params.Set("side", side)

	body, err := c.doGet(ctx, "/price?"+params.Encode())
	if err != nil {
		return 0, err
	}
	var apiPrice APIPrice
	if err := json.Unmarshal(body, &apiPrice); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	price, err := strconv.ParseFloat(apiPrice.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", apiPrice.Price, err)
	}
	return price, nil
}

// PostOrder submits a signed order. orderType is the CLOB time-in-force, e.g.
// "FOK" for a marketable order that fills entirely or not at all. A venue
// decline maps to domain.ErrOrderRejected.
func (c *ClobClient) PostOrder(ctx context.Context, order SignedOrder, orderType string) (APIOrderResult, error) {
	if c.signer == nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w: no signer configured", domain.ErrUnauthorized)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          order.Salt,
			"tokenID":       order.TokenID,
			"makerAmount":   order.MakerAmount,
			"takerAmount":   order.TakerAmount,
			"side":          order.Side,
			"feeRateBps":    "0",
			"nonce":         order.Nonce,
			"expiration":    order.Expiration,
			"signatureType": order.SignatureType,
			"signature":     order.Signature,
			"maker":         order.Maker,
			"signer":        c.signer.Address().Hex(),
			"taker":         "0x0000000000000000000000000000000000000000",
		},
		"owner":     order.Maker,
		"orderType": orderType,
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return APIOrderResult{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("polymarket/clob: %w: %s", domain.ErrOrderRejected, result.ErrorMsg)
	}
	return result, nil
}

// CollateralBalance returns the available USDC balance in dollars.
func (c *ClobClient) CollateralBalance(ctx context.Context) (float64, error) {
	params := url.Values{}
	params.Set("asset_type", "COLLATERAL")

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodGet, "/balance-allowance?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: balance: %w", err)
	}

	var ba APIBalanceAllowance
	if err := json.Unmarshal(respBody, &ba); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	raw, err := strconv.ParseFloat(ba.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", ba.Balance, err)
	}
	return raw / usdcDecimals, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. On success it populates the client's hmacAuth.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("polymarket/clob: derive api key: %w: no signer configured", domain.ErrUnauthorized)
	}

	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", fmt.Sprintf("%d", timestamp))
	req.Header.Set("POLY_NONCE", fmt.Sprintf("%d", nonce))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET against a market-data endpoint.
func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.send(req)
}

// doPost sends an unauthenticated JSON POST against a market-data endpoint.
func (c *ClobClient) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads a request
// against a private CLOB endpoint.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
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

	if c.hmacAuth == nil {
		return nil, fmt.Errorf("%w: API key not derived", domain.ErrUnauthorized)
	}
	address := c.signer.Address().Hex()
	for k, v := range c.hmacAuth.L2Headers(address, method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	return c.send(req)
}

func (c *ClobClient) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, statusCode, bodyStr)
	}
}
