// Package market supplies token catalogue and spot-price data to the task
// flows, either from a REST provider or a static in-memory table.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownSymbol = errors.New("unknown token symbol")

// Token is one canonical catalogue record.
type Token struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	Network string `json:"network"`
	Address string `json:"address"`
}

// Quote is a spot price observation.
type Quote struct {
	Symbol    string    `json:"symbol"`
	PriceUSD  float64   `json:"price_usd"`
	Change24h float64   `json:"change_24h"`
	AsOf      time.Time `json:"as_of"`
}

// Provider serves catalogue and price lookups.
type Provider interface {
	Tokens(ctx context.Context) ([]Token, error)
	SpotPrice(ctx context.Context, symbol string) (Quote, error)
}

// Candidate projects a token onto the field map the entity resolver consumes.
func (t Token) Candidate() map[string]string {
	return map[string]string{
		"symbol":  t.Symbol,
		"name":    t.Name,
		"network": t.Network,
		"address": t.Address,
	}
}

// Config controls provider construction.
type Config struct {
	Mode      string
	HTTPURL   string
	TokensTTL time.Duration
	QuotesTTL time.Duration
}

// NewProvider builds a provider for the configured mode. Mode auto prefers
// the HTTP provider when a URL is configured and falls back to the static
// table otherwise.
func NewProvider(cfg Config) (Provider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPProvider(cfg.HTTPURL, cfg.TokensTTL, cfg.QuotesTTL), nil
		}
		return NewStaticProvider(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("market HTTP url is required for http mode")
		}
		return NewHTTPProvider(cfg.HTTPURL, cfg.TokensTTL, cfg.QuotesTTL), nil
	case "static":
		return NewStaticProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported market provider mode %q", cfg.Mode)
	}
}
