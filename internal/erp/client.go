package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

// Options configures a Client.
type Options struct {
	BooksBaseURL     string
	InventoryBaseURL string
	OrganizationID   string
	Tokens           TokenSource
	HTTPClient       *http.Client
	// RequestsPerSec of 0 disables client-side rate limiting.
	RequestsPerSec float64
	Burst          int
	Logger         *zap.Logger
}

// Client is a rate limited ERP REST client. Every call waits on a shared
// token bucket so concurrent syncs cannot exceed the upstream quota.
type Client struct {
	booksURL     string
	inventoryURL string
	orgID        string
	tokens       TokenSource
	httpClient   *http.Client
	limiter      *rate.Limiter
	items        singleflight.Group
	logger       *zap.Logger
}

// NewClient builds a client from opts.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSec > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSec), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inventoryURL := strings.TrimRight(opts.InventoryBaseURL, "/")
	booksURL := strings.TrimRight(opts.BooksBaseURL, "/")
	if inventoryURL == "" {
		inventoryURL = booksURL
	}
	if booksURL == "" {
		booksURL = inventoryURL
	}

	return &Client{
		booksURL:     booksURL,
		inventoryURL: inventoryURL,
		orgID:        opts.OrganizationID,
		tokens:       opts.Tokens,
		httpClient:   httpClient,
		limiter:      limiter,
		logger:       logger.Named("erp"),
	}
}

// NewClientFromConfig wires the token source from cfg: a refresh token wins
// over a static access token.
func NewClientFromConfig(cfg config.ERPConfig, logger *zap.Logger) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var tokens TokenSource = StaticToken(cfg.AccessToken)
	if cfg.RefreshToken != "" {
		tokens = &RefreshTokenSource{
			AccountsURL:  cfg.AccountsURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RefreshToken: cfg.RefreshToken,
			HTTPClient:   httpClient,
		}
	}

	return NewClient(Options{
		BooksBaseURL:     cfg.BooksBaseURL,
		InventoryBaseURL: cfg.InventoryBaseURL,
		OrganizationID:   cfg.OrganizationID,
		Tokens:           tokens,
		HTTPClient:       httpClient,
		RequestsPerSec:   cfg.RequestsPerSec,
		Burst:            cfg.Burst,
		Logger:           logger,
	})
}

func (c *Client) baseURL(source model.Source) string {
	if source == model.SourceBooks {
		return c.booksURL
	}
	return c.inventoryURL
}

// envelope is the common wrapper of every JSON response.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do performs one rate limited request and returns the body of a 2xx
// response. Anything else becomes an *APIError.
func (c *Client) do(ctx context.Context, base, path string, query url.Values) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("erp: rate limiter: %w", err)
	}

	if query == nil {
		query = url.Values{}
	}
	if c.orgID != "" {
		query.Set("organization_id", c.orgID)
	}
	endpoint := base + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("erp: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("erp: GET %s: read body: %w", path, err)
	}
	c.logger.Debug("erp request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, resp.Header, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var env envelope
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Code
		if env.Message != "" {
			apiErr.Message = env.Message
		}
	}
	return nil, nil, apiErr
}

// getJSON decodes a JSON response and rejects a non-zero application code.
func (c *Client) getJSON(ctx context.Context, base, path string, query url.Values, out any) error {
	body, _, err := c.do(ctx, base, path, query)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("erp: GET %s: invalid body: %w", path, err)
	}
	if env.Code != 0 {
		return &APIError{StatusCode: http.StatusOK, Code: env.Code, Message: env.Message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("erp: GET %s: invalid body: %w", path, err)
	}
	return nil
}

// ListItems returns one page of the active item catalog.
func (c *Client) ListItems(ctx context.Context, source model.Source, page, perPage int) (*ItemPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("filter_by", "Status.Active")

	var out ItemPage
	if err := c.getJSON(ctx, c.baseURL(source), "/items", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetItem fetches a single item. Concurrent calls for the same item and
// source share one upstream request. The shared request is bounded by the
// HTTP client timeout, not by any one caller's context; a caller whose
// context ends returns early without failing the others.
func (c *Client) GetItem(ctx context.Context, source model.Source, itemID string) (*Item, error) {
	key := string(source) + ":" + itemID
	shared := context.WithoutCancel(ctx)
	ch := c.items.DoChan(key, func() (any, error) {
		var out struct {
			Item Item `json:"item"`
		}
		if err := c.getJSON(shared, c.baseURL(source), "/items/"+url.PathEscape(itemID), nil, &out); err != nil {
			return nil, err
		}
		return &out.Item, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		item := *res.Val.(*Item)
		return &item, nil
	}
}

// GetInvoice fetches a full invoice including its line items.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var out struct {
		Invoice Invoice `json:"invoice"`
	}
	if err := c.getJSON(ctx, c.booksURL, "/invoices/"+url.PathEscape(invoiceID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Invoice, nil
}

// GetItemImage downloads the current image of an item. A missing image is
// reported as ErrNotFound.
func (c *Client) GetItemImage(ctx context.Context, itemID string) (*Image, error) {
	body, header, err := c.do(ctx, c.inventoryURL, "/items/"+url.PathEscape(itemID)+"/image", nil)
	if err != nil {
		return nil, err
	}

	contentType := header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		// The image endpoint answers 200 with a JSON error when the item has none.
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Code != 0 {
			return nil, &APIError{StatusCode: http.StatusOK, Code: env.Code, Message: env.Message}
		}
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "no image"}
	}
	if len(body) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "empty image"}
	}
	return &Image{Data: body, ContentType: contentType}, nil
}
