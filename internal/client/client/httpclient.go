package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/api"
	"github.com/dmitrijs2005/finkeeper/internal/client/models"
	"github.com/dmitrijs2005/finkeeper/internal/common"
)

const defaultRequestTimeout = 30 * time.Second

// HTTPClient talks to the FinKeeper HTTP API.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	timeout time.Duration

	mu          sync.RWMutex
	accessToken string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL. timeout bounds every request;
// zero selects a 30s default.
func NewHTTPClient(baseURL, accessToken string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		hc:          &http.Client{},
		timeout:     timeout,
		accessToken: accessToken,
	}
}

// SetAccessToken replaces the bearer token used by subsequent requests.
func (c *HTTPClient) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *HTTPClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	var resp api.PingResponse
	if err := c.do(ctx, http.MethodGet, "/ping", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (c *HTTPClient) BulkSync(ctx context.Context, t models.RecordType, records []*models.OfflineRecord) (*api.BulkResponse, error) {
	req := api.BulkRequest{Records: make([]json.RawMessage, 0, len(records))}
	for _, r := range records {
		raw, err := api.Encode(r.ID, r.Version, r.LastModified.UnixMilli(), r.Data)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", t, r.ID, err)
		}
		req.Records = append(req.Records, raw)
	}

	var resp api.BulkResponse
	if err := c.do(ctx, http.MethodPost, "/sync/"+t.Plural()+"/bulk", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) List(ctx context.Context, t models.RecordType) ([]*models.OfflineRecord, error) {
	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, "/"+t.Plural(), nil, &resp); err != nil {
		return nil, err
	}

	out := make([]*models.OfflineRecord, 0, len(resp.Records))
	for _, raw := range resp.Records {
		rec, err := api.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		out = append(out, &models.OfflineRecord{
			ID:           rec.ID,
			Type:         t,
			Data:         rec.Data,
			Version:      rec.Version,
			LastModified: time.UnixMilli(rec.LastModified),
		})
	}
	return out, nil
}

func (c *HTTPClient) Delete(ctx context.Context, t models.RecordType, id string) error {
	return c.do(ctx, http.MethodDelete, "/"+t.Plural()+"/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ReceiptUploadURL(ctx context.Context, transactionID string) (string, error) {
	var resp api.ReceiptResponse
	if err := c.do(ctx, http.MethodPost, receiptPath(transactionID), nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *HTTPClient) ReceiptDownloadURL(ctx context.Context, transactionID string) (string, error) {
	var resp api.ReceiptResponse
	if err := c.do(ctx, http.MethodGet, receiptPath(transactionID), nil, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func receiptPath(id string) string {
	return "/" + models.RecordTypeTransaction.Plural() + "/" + url.PathEscape(id) + "/receipt"
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := mapStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var e api.ErrorResponse
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(b, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(b))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, e.Error)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s", ErrUnavailable, resp.Status, e.Error)
	default:
		return fmt.Errorf("http error: %s: %s", resp.Status, e.Error)
	}
}
