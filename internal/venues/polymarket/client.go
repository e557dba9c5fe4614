package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
)

const (
	defaultGammaURL = "https://gamma-api.polymarket.com/markets"
	defaultBookURL  = "https://clob.polymarket.com/book"

	maxListingPages = 3
	pageSize        = 200
)

// Client talks to the Polymarket Gamma API for listings and the CLOB for
// order books. Markets are identified by condition id; the CLOB wants the
// per-outcome token ids, so the client keeps a condition-to-token map filled
// in from listings (and refreshed on demand for unknown conditions).
type Client struct {
	gammaURL   string
	bookURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu     sync.Mutex
	tokens map[string][2]string // condition id -> [yes token, no token]
}

// Config provides optional overrides.
type Config struct {
	GammaURL   string
	BookURL    string
	Timeout    time.Duration
	RatePerSec float64
}

func NewClient(cfg Config) *Client {
	gamma := strings.TrimRight(cfg.GammaURL, "/")
	if gamma == "" {
		gamma = defaultGammaURL
	}
	book := cfg.BookURL
	if book == "" {
		book = defaultBookURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 10
	}
	return &Client{
		gammaURL:   gamma,
		bookURL:    book,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), 5),
		tokens:     map[string][2]string{},
	}
}

// Listings pages through active binary markets.
func (c *Client) Listings(ctx context.Context) ([]market.ContractRef, error) {
	var refs []market.ContractRef
	for page := 0; page < maxListingPages; page++ {
		markets, err := c.listMarkets(ctx, page*pageSize)
		if err != nil {
			return nil, fmt.Errorf("list polymarket markets: %w", err)
		}
		if len(markets) == 0 {
			break
		}
		for _, m := range markets {
			ids := parseClobTokenIDs(m.ClobTokenIds)
			if m.ConditionID == "" || len(ids) != 2 {
				continue // not a plain binary market
			}
			c.rememberTokens(m.ConditionID, ids)
			refs = append(refs, market.ContractRef{
				Venue:      market.VenuePolymarket,
				ContractID: m.ConditionID,
				Label:      m.Question,
				Expiry:     parseEndDate(m.EndDate),
			})
		}
		if len(markets) < pageSize {
			break
		}
	}
	logging.Debugf("[polymarket] listed %d binary markets", len(refs))
	return refs, nil
}

// Book fetches both outcome books from the CLOB. YES asks come from the yes
// token's asks directly; the same for NO.
func (c *Client) Book(ctx context.Context, ref market.ContractRef) (*market.Book, error) {
	if ref.Venue != market.VenuePolymarket {
		return nil, fmt.Errorf("polymarket: wrong venue %q", ref.Venue)
	}
	yesToken, noToken, err := c.tokensFor(ctx, ref.ContractID)
	if err != nil {
		return nil, err
	}

	yes, err := c.fetchBook(ctx, yesToken)
	if err != nil {
		return nil, fmt.Errorf("polymarket yes book %s: %w", ref.ContractID, err)
	}
	no, err := c.fetchBook(ctx, noToken)
	if err != nil {
		return nil, fmt.Errorf("polymarket no book %s: %w", ref.ContractID, err)
	}

	return &market.Book{
		Ref:        ref,
		Yes:        yes,
		No:         no,
		CapturedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) rememberTokens(conditionID string, ids []string) {
	c.mu.Lock()
	c.tokens[conditionID] = [2]string{ids[0], ids[1]}
	c.mu.Unlock()
}

func (c *Client) tokensFor(ctx context.Context, conditionID string) (string, string, error) {
	c.mu.Lock()
	pair, ok := c.tokens[conditionID]
	c.mu.Unlock()
	if ok {
		return pair[0], pair[1], nil
	}

	// Unknown condition: ask gamma directly.
	u, _ := url.Parse(c.gammaURL)
	q := u.Query()
	q.Set("condition_ids", conditionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", "", err
	}
	var markets []marketInfo
	if err := c.do(req, &markets); err != nil {
		return "", "", fmt.Errorf("resolve tokens for %s: %w", conditionID, err)
	}
	for _, m := range markets {
		if m.ConditionID != conditionID {
			continue
		}
		ids := parseClobTokenIDs(m.ClobTokenIds)
		if len(ids) == 2 {
			c.rememberTokens(conditionID, ids)
			return ids[0], ids[1], nil
		}
	}
	return "", "", fmt.Errorf("no clob tokens for condition %s", conditionID)
}

func (c *Client) listMarkets(ctx context.Context, offset int) ([]marketInfo, error) {
	u, _ := url.Parse(c.gammaURL)
	q := u.Query()
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var out []marketInfo
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) fetchBook(ctx context.Context, tokenID string) (market.Orderbook, error) {
	u, _ := url.Parse(c.bookURL)
	q := u.Query()
	q.Set("token_id", tokenID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return market.Orderbook{}, err
	}
	var book clobBook
	if err := c.do(req, &book); err != nil {
		return market.Orderbook{}, err
	}
	return convertClobBook(book), nil
}

func (c *Client) do(req *http.Request, dst any) error {
	var attempt int
	for {
		attempt++
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if shouldRetry(attempt, 0) {
				sleep(attempt)
				continue
			}
			return err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			defer resp.Body.Close()
			return json.NewDecoder(resp.Body).Decode(dst)
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()

		if shouldRetry(attempt, resp.StatusCode) {
			sleep(attempt)
			continue
		}
		return fmt.Errorf("polymarket API %s: %s", resp.Status, string(body))
	}
}

func parseClobTokenIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func convertClobBook(b clobBook) market.Orderbook {
	out := market.Orderbook{}
	for _, lvl := range b.Bids {
		out.Bids = append(out.Bids, market.Level{
			Price: parseDecimal(lvl.Price),
			Size:  parseDecimal(lvl.Size),
		})
	}
	for _, lvl := range b.Asks {
		out.Asks = append(out.Asks, market.Level{
			Price: parseDecimal(lvl.Price),
			Size:  parseDecimal(lvl.Size),
		})
	}
	return out
}

func parseDecimal(val string) float64 {
	f, _ := strconv.ParseFloat(val, 64)
	return f
}

func parseEndDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func shouldRetry(attempt int, status int) bool {
	if attempt >= 5 {
		return false
	}
	if status == 0 {
		return true
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return true
	}
	return false
}

func sleep(attempt int) {
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	time.Sleep(backoff)
}

type marketInfo struct {
	ConditionID  string `json:"conditionId"`
	Question     string `json:"question"`
	EndDate      string `json:"endDate"`
	ClobTokenIds string `json:"clobTokenIds"`
}

type clobBook struct {
	Bids []clobLevel `json:"bids"`
	Asks []clobLevel `json:"asks"`
}

type clobLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
