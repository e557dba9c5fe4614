package kalshi

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

	"golang.org/x/time/rate"

	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
)

const (
	defaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2/markets"

	maxListingPages = 3
	pageSize        = 200 // API limit
	bookDepth       = 10
)

// Client talks to the Kalshi Trade API for listings and order books.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config provides optional overrides.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Requests per second against the API; Kalshi's public tier allows 10.
	RatePerSec float64
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
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
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSec), 5),
	}
}

// Listings walks the open-market pages and returns one ContractRef per
// active market. Paging is capped; the suggester only needs a working set.
func (c *Client) Listings(ctx context.Context) ([]market.ContractRef, error) {
	var (
		refs   []market.ContractRef
		cursor string
	)
	for page := 0; page < maxListingPages; page++ {
		resp, err := c.listMarkets(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("list kalshi markets: %w", err)
		}
		for _, m := range resp.Markets {
			if m.Status != "active" {
				continue
			}
			refs = append(refs, market.ContractRef{
				Venue:      market.VenueKalshi,
				ContractID: m.Ticker,
				Label:      marketLabel(m),
				Expiry:     parseCloseTime(m.CloseTime),
			})
		}
		cursor = resp.Cursor
		if cursor == "" {
			break
		}
	}
	logging.Debugf("[kalshi] listed %d active markets", len(refs))
	return refs, nil
}

// Book fetches the order book for one market. Kalshi publishes resting bids
// per side in cents; asks are derived from the opposite side at 1-p, which is
// what a taker actually pays.
func (c *Client) Book(ctx context.Context, ref market.ContractRef) (*market.Book, error) {
	if ref.Venue != market.VenueKalshi {
		return nil, fmt.Errorf("kalshi: wrong venue %q", ref.Venue)
	}
	u := fmt.Sprintf("%s/%s/orderbook?depth=%d", c.baseURL, url.PathEscape(ref.ContractID), bookDepth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var out orderbookResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("kalshi orderbook %s: %w", ref.ContractID, err)
	}

	yesBids := convertLevels(out.Orderbook.Yes)
	noBids := convertLevels(out.Orderbook.No)

	return &market.Book{
		Ref: ref,
		Yes: market.Orderbook{
			Bids: yesBids,
			Asks: deriveAsksFromOpposite(noBids),
		},
		No: market.Orderbook{
			Bids: noBids,
			Asks: deriveAsksFromOpposite(yesBids),
		},
		CapturedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) listMarkets(ctx context.Context, cursor string) (*marketsResponse, error) {
	u, _ := url.Parse(c.baseURL)
	q := u.Query()
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("status", "open")
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var out marketsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
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
		return fmt.Errorf("kalshi API %s: %s", resp.Status, string(body))
	}
}

func marketLabel(m marketInfo) string {
	if m.SubTitle != "" && !strings.Contains(strings.ToLower(m.Title), strings.ToLower(m.SubTitle)) {
		return fmt.Sprintf("%s (%s)", m.Title, m.SubTitle)
	}
	return m.Title
}

func parseCloseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func centsToFloat(v int64) float64 {
	return float64(v) / 100.0
}

func convertLevels(levels [][]int64) market.Ladder {
	out := make(market.Ladder, 0, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, market.Level{
			Price: centsToFloat(lvl[0]),
			Size:  float64(lvl[1]),
		})
	}
	return out
}

func deriveAsksFromOpposite(oppositeBids market.Ladder) market.Ladder {
	if len(oppositeBids) == 0 {
		return nil
	}
	asks := make(market.Ladder, 0, len(oppositeBids))
	for _, lvl := range oppositeBids {
		price := 1 - lvl.Price
		if price < 0 {
			price = 0
		}
		if price > 1 {
			price = 1
		}
		asks = append(asks, market.Level{Price: price, Size: lvl.Size})
	}
	return asks
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

type marketsResponse struct {
	Markets []marketInfo `json:"markets"`
	Cursor  string       `json:"cursor"`
}

type marketInfo struct {
	Ticker    string `json:"ticker"`
	Title     string `json:"title"`
	SubTitle  string `json:"subtitle"`
	Status    string `json:"status"`
	CloseTime string `json:"close_time"`
}

type orderbookResponse struct {
	Orderbook struct {
		Yes [][]int64 `json:"yes"`
		No  [][]int64 `json:"no"`
	} `json:"orderbook"`
}
