package qbo

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

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"github.com/kzoteam/qbo-bridge/internal/logger"
)

const (
	defaultBaseURL      = "https://quickbooks.api.intuit.com"
	defaultMinorVersion = "75"

	queryPageSize = 1000
	batchMaxOps   = 30
)

// Config carries the per-company connection parameters. Each ledger company
// gets its own Client because realm and grant differ per client.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RealmID      string
	BaseURL      string
	TokenURL     string
	MinorVersion string

	// OnTokenRefresh receives the replacement grant whenever the token
	// endpoint rotates it. The caller must persist it or the next run
	// fails auth.
	OnTokenRefresh func(refreshToken string)

	// HTTPClient bypasses the OAuth transport when set. Tests use it.
	HTTPClient *http.Client
}

// Client is a minimal QuickBooks Online API client covering the entities
// this service posts and reconciles.
type Client struct {
	http  *http.Client
	base  string
	realm string
	minor string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RealmID == "" {
		return nil, fmt.Errorf("qbo: realm ID is required")
	}
	c := &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		realm: cfg.RealmID,
		minor: cfg.MinorVersion,
	}
	if c.base == "" {
		c.base = defaultBaseURL
	}
	if c.minor == "" {
		c.minor = defaultMinorVersion
	}
	if cfg.HTTPClient != nil {
		c.http = cfg.HTTPClient
		return c, nil
	}
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("qbo: refresh token is required")
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	src := &notifyingSource{
		src:      oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}),
		last:     cfg.RefreshToken,
		onRotate: cfg.OnTokenRefresh,
	}
	c.http = oauth2.NewClient(ctx, src)
	c.http.Timeout = 60 * time.Second
	return c, nil
}

// notifyingSource watches refreshed tokens for a rotated grant and reports
// it once per rotation.
type notifyingSource struct {
	src      oauth2.TokenSource
	onRotate func(string)

	mu   sync.Mutex
	last string
}

func (s *notifyingSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.onRotate != nil && t.RefreshToken != "" {
		s.mu.Lock()
		rotated := t.RefreshToken != s.last
		if rotated {
			s.last = t.RefreshToken
		}
		s.mu.Unlock()
		if rotated {
			s.onRotate(t.RefreshToken)
		}
	}
	return t, nil
}

// do runs one API call with retries. 429 and 5xx responses retry with
// exponential backoff; auth failures and validation faults do not.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("minorversion", c.minor)
	u := fmt.Sprintf("%s/v3/company/%s/%s?%s", c.base, url.PathEscape(c.realm), path, query.Encode())

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	op := func() error {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) {
				return backoff.Permanent(fmt.Errorf("%w: %v", ErrAuthExpired, rerr))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil {
				if err := json.Unmarshal(data, out); err != nil {
					return backoff.Permanent(fmt.Errorf("decode response: %w", err))
				}
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s %s", ErrRateLimited, method, path)
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: status 401", ErrAuthExpired))
		case resp.StatusCode >= 500:
			return fmt.Errorf("qbo: server error %d on %s %s", resp.StatusCode, method, path)
		default:
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var env struct {
				Fault Fault `json:"Fault"`
			}
			if json.Unmarshal(data, &env) == nil {
				apiErr.Fault = env.Fault
			}
			return backoff.Permanent(apiErr)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	notify := func(err error, wait time.Duration) {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Dur("backoff", wait).Str("path", path).Msg("Retrying ledger request")
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

type queryResponse struct {
	JournalEntry  []JournalEntry  `json:"JournalEntry"`
	Purchase      []Purchase      `json:"Purchase"`
	Transfer      []Transfer      `json:"Transfer"`
	Account       []Account       `json:"Account"`
	Department    []Department    `json:"Department"`
	Class         []Class         `json:"Class"`
	Vendor        []Vendor        `json:"Vendor"`
	PaymentMethod []PaymentMethod `json:"PaymentMethod"`
	StartPosition int             `json:"startPosition"`
	MaxResults    int             `json:"maxResults"`
}

func (c *Client) runQuery(ctx context.Context, stmt string) (*queryResponse, error) {
	q := url.Values{}
	q.Set("query", stmt)
	var env struct {
		QueryResponse queryResponse `json:"QueryResponse"`
	}
	if err := c.do(ctx, http.MethodGet, "query", q, nil, &env); err != nil {
		return nil, err
	}
	return &env.QueryResponse, nil
}

// paginate walks a query in STARTPOSITION pages until a short page arrives.
// where is either empty or a full "WHERE ..." clause.
func (c *Client) paginate(ctx context.Context, entity, where string, page func(*queryResponse) int) error {
	start := 1
	for {
		stmt := fmt.Sprintf("SELECT * FROM %s", entity)
		if where != "" {
			stmt += " " + where
		}
		stmt += fmt.Sprintf(" STARTPOSITION %d MAXRESULTS %d", start, queryPageSize)
		qr, err := c.runQuery(ctx, stmt)
		if err != nil {
			return err
		}
		n := page(qr)
		if n < queryPageSize {
			return nil
		}
		start += n
	}
}

func (c *Client) QueryJournalEntries(ctx context.Context, where string) ([]JournalEntry, error) {
	var out []JournalEntry
	err := c.paginate(ctx, EntityJournalEntry, where, func(qr *queryResponse) int {
		out = append(out, qr.JournalEntry...)
		return len(qr.JournalEntry)
	})
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	return out, nil
}

func (c *Client) QueryPurchases(ctx context.Context, where string) ([]Purchase, error) {
	var out []Purchase
	err := c.paginate(ctx, EntityPurchase, where, func(qr *queryResponse) int {
		out = append(out, qr.Purchase...)
		return len(qr.Purchase)
	})
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	return out, nil
}

func (c *Client) QueryTransfers(ctx context.Context, where string) ([]Transfer, error) {
	var out []Transfer
	err := c.paginate(ctx, EntityTransfer, where, func(qr *queryResponse) int {
		out = append(out, qr.Transfer...)
		return len(qr.Transfer)
	})
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	return out, nil
}

func (c *Client) CreateJournalEntry(ctx context.Context, je *JournalEntry) (*JournalEntry, error) {
	var env struct {
		JournalEntry *JournalEntry `json:"JournalEntry"`
	}
	if err := c.do(ctx, http.MethodPost, "journalentry", nil, je, &env); err != nil {
		return nil, fmt.Errorf("create journal entry: %w", err)
	}
	if env.JournalEntry == nil {
		return nil, fmt.Errorf("create journal entry: empty response")
	}
	return env.JournalEntry, nil
}

func (c *Client) CreatePurchase(ctx context.Context, p *Purchase) (*Purchase, error) {
	var env struct {
		Purchase *Purchase `json:"Purchase"`
	}
	if err := c.do(ctx, http.MethodPost, "purchase", nil, p, &env); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	if env.Purchase == nil {
		return nil, fmt.Errorf("create purchase: empty response")
	}
	return env.Purchase, nil
}

func (c *Client) CreateTransfer(ctx context.Context, t *Transfer) (*Transfer, error) {
	var env struct {
		Transfer *Transfer `json:"Transfer"`
	}
	if err := c.do(ctx, http.MethodPost, "transfer", nil, t, &env); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	if env.Transfer == nil {
		return nil, fmt.Errorf("create transfer: empty response")
	}
	return env.Transfer, nil
}

// DeleteItem identifies one transaction to remove.
type DeleteItem struct {
	ID        string
	SyncToken string
}

// BatchResult reports the outcome for one deleted ID. Err is nil on success.
type BatchResult struct {
	ID  string
	Err error
}

// BatchDelete removes transactions through the batch endpoint in chunks of
// batchMaxOps. A fault on one item does not stop the rest.
func (c *Client) BatchDelete(ctx context.Context, entity string, items []DeleteItem) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(items))
	for len(items) > 0 {
		n := batchMaxOps
		if len(items) < n {
			n = len(items)
		}
		chunk := items[:n]
		items = items[n:]

		reqs := make([]map[string]interface{}, 0, len(chunk))
		byBID := make(map[string]string, len(chunk))
		for i, it := range chunk {
			bid := fmt.Sprintf("d%d", i+1)
			byBID[bid] = it.ID
			reqs = append(reqs, map[string]interface{}{
				"bId":       bid,
				"operation": "delete",
				entity:      map[string]string{"Id": it.ID, "SyncToken": it.SyncToken},
			})
		}

		var env struct {
			BatchItemResponse []struct {
				BID   string `json:"bId"`
				Fault *Fault `json:"Fault"`
			} `json:"BatchItemResponse"`
		}
		body := map[string]interface{}{"BatchItemRequest": reqs}
		if err := c.do(ctx, http.MethodPost, "batch", nil, body, &env); err != nil {
			return results, fmt.Errorf("batch delete %s: %w", entity, err)
		}
		for _, item := range env.BatchItemResponse {
			res := BatchResult{ID: byBID[item.BID]}
			if item.Fault != nil {
				res.Err = &APIError{StatusCode: http.StatusBadRequest, Fault: *item.Fault}
			}
			results = append(results, res)
		}
	}
	return results, nil
}

// TxnDateRange builds a WHERE clause covering [start, end] inclusive.
func TxnDateRange(start, end time.Time) string {
	return fmt.Sprintf("WHERE TxnDate >= '%s' AND TxnDate <= '%s'",
		start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// escapeQuery escapes single quotes in a query string literal.
func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
