package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultTokensTTL = 10 * time.Minute
	defaultQuotesTTL = 15 * time.Second
)

const tokensCacheKey = "catalogue"

// HTTPProvider talks to a REST market API and caches responses so chat
// turns do not hammer the upstream for the same symbol.
type HTTPProvider struct {
	baseURL string
	client  *http.Client

	tokens *ttlcache.Cache[string, []Token]
	quotes *ttlcache.Cache[string, Quote]
}

func NewHTTPProvider(baseURL string, tokensTTL, quotesTTL time.Duration) *HTTPProvider {
	if tokensTTL <= 0 {
		tokensTTL = defaultTokensTTL
	}
	if quotesTTL <= 0 {
		quotesTTL = defaultQuotesTTL
	}

	p := &HTTPProvider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens: ttlcache.New[string, []Token](
			ttlcache.WithTTL[string, []Token](tokensTTL),
			ttlcache.WithDisableTouchOnHit[string, []Token](),
		),
		quotes: ttlcache.New[string, Quote](
			ttlcache.WithTTL[string, Quote](quotesTTL),
			ttlcache.WithDisableTouchOnHit[string, Quote](),
		),
	}
	go p.tokens.Start()
	go p.quotes.Start()
	return p
}

// Close stops the cache janitors.
func (p *HTTPProvider) Close() {
	p.tokens.Stop()
	p.quotes.Stop()
}

func (p *HTTPProvider) Tokens(ctx context.Context) ([]Token, error) {
	if item := p.tokens.Get(tokensCacheKey); item != nil {
		return item.Value(), nil
	}

	var payload struct {
		Tokens []Token `json:"tokens"`
	}
	if err := p.getJSON(ctx, "/v1/tokens", &payload); err != nil {
		return nil, err
	}

	p.tokens.Set(tokensCacheKey, payload.Tokens, ttlcache.DefaultTTL)
	return payload.Tokens, nil
}

func (p *HTTPProvider) SpotPrice(ctx context.Context, symbol string) (Quote, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return Quote{}, fmt.Errorf("%w: empty symbol", ErrUnknownSymbol)
	}
	if item := p.quotes.Get(key); item != nil {
		return item.Value(), nil
	}

	var quote Quote
	if err := p.getJSON(ctx, "/v1/prices/"+url.PathEscape(key), &quote); err != nil {
		return Quote{}, err
	}
	if quote.AsOf.IsZero() {
		quote.AsOf = time.Now().UTC()
	}
	if quote.Symbol == "" {
		quote.Symbol = key
	}

	p.quotes.Set(key, quote, ttlcache.DefaultTTL)
	return quote, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build market request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("call market api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, path)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market api returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode market response: %w", err)
	}
	return nil
}
