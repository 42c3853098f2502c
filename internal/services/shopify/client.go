package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "catalogsync/pkg/errors"
)

const (
	serviceName       = "shopify"
	defaultAPIVersion = "2023-10"
)

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

type ClientOption func(*Client)

// WithBaseURL points the client at another admin API root, e.g. a test server.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(shopDomain, accessToken, apiVersion string, logger *zap.Logger, opts ...ClientOption) *Client {
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	shop := strings.TrimSuffix(strings.TrimPrefix(shopDomain, "https://"), ".myshopify.com")
	c := &Client{
		baseURL:     fmt.Sprintf("https://%s.myshopify.com/admin/api/%s", shop, apiVersion),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateProduct creates a product and returns it with the ids Shopify assigned.
func (c *Client) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	var resp productEnvelope
	if _, err := c.do(ctx, http.MethodPost, "/products.json", nil, productEnvelope{Product: product}, &resp); err != nil {
		return nil, err
	}
	return resp.Product, nil
}

// UpdateProduct updates a product in Shopify
func (c *Client) UpdateProduct(ctx context.Context, productID string, product *Product) (*Product, error) {
	var resp productEnvelope
	path := "/products/" + url.PathEscape(productID) + ".json"
	if _, err := c.do(ctx, http.MethodPut, path, nil, productEnvelope{Product: product}, &resp); err != nil {
		return nil, err
	}
	return resp.Product, nil
}

// GetProduct fetches a single product by ID
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var resp productEnvelope
	path := "/products/" + url.PathEscape(productID) + ".json"
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Product, nil
}

// ListProducts fetches one page of products. pageInfo is the cursor returned
// as NextPageInfo by the previous page.
func (c *Client) ListProducts(ctx context.Context, limit int, pageInfo string) (*ProductsResponse, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if pageInfo != "" {
		q.Set("page_info", pageInfo)
	}

	var resp ProductsResponse
	header, err := c.do(ctx, http.MethodGet, "/products.json", q, nil, &resp)
	if err != nil {
		return nil, err
	}
	resp.NextPageInfo = nextPageInfo(header.Get("Link"))
	return &resp, nil
}

func (c *Client) DeleteProduct(ctx context.Context, productID string) error {
	path := "/products/" + url.PathEscape(productID) + ".json"
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	return err
}

// GetShopInfo fetches shop information
func (c *Client) GetShopInfo(ctx context.Context) (*Shop, error) {
	var resp struct {
		Shop Shop `json:"shop"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/shop.json", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Shop, nil
}

type productEnvelope struct {
	Product *Product `json:"product"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.ErrExternalService{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("shopify request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &apperrors.ErrExternalService{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, &apperrors.ErrExternalService{Service: serviceName, StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
		}
	}
	return resp.Header, nil
}

// errorMessage extracts the "errors" member Shopify puts in failed responses,
// falling back to the raw body.
func errorMessage(raw []byte) string {
	var payload struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Errors) > 0 {
		var s string
		if json.Unmarshal(payload.Errors, &s) == nil {
			return s
		}
		return string(payload.Errors)
	}
	return strings.TrimSpace(string(raw))
}

var nextLinkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func nextPageInfo(link string) string {
	m := nextLinkPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page_info")
}
