package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"bitstable/currency"
)

func doGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// CoinbaseSource fetches BTC-to-fiat cross rates from Coinbase's public
// exchange-rates endpoint, per §6.B: {data:{rates:{USD:"...", EUR:"...", ...}}}.
type CoinbaseSource struct {
	URL    string
	client *http.Client
}

// NewCoinbaseSource builds a CoinbaseSource against url, defaulting to
// Coinbase's public exchange-rates endpoint when url is empty.
func NewCoinbaseSource(url string) *CoinbaseSource {
	if url == "" {
		url = "https://api.coinbase.com/v2/exchange-rates?currency=BTC"
	}
	return &CoinbaseSource{URL: url, client: &http.Client{Timeout: sourceFetchTimeout}}
}

func (s *CoinbaseSource) Name() string { return "coinbase" }

func (s *CoinbaseSource) Fetch(ctx context.Context) (map[currency.Code]float64, error) {
	body, err := doGet(ctx, s.client, s.URL)
	if err != nil {
		return nil, fmt.Errorf("coinbase: %w", err)
	}
	var payload struct {
		Data struct {
			Rates map[string]string `json:"rates"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("coinbase: decode: %w", err)
	}
	out := map[currency.Code]float64{}
	for code, raw := range payload.Data.Rates {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		out[currency.Code(code)] = price
	}
	return out, nil
}

// BinanceSource fetches a single BTCUSDT ticker price, per §6.B:
// {price:"..."}. Binance's public ticker only carries one pair per request,
// so this source reports BTC price in USD only.
type BinanceSource struct {
	URL    string
	client *http.Client
}

// NewBinanceSource builds a BinanceSource against url, defaulting to
// Binance's public ticker endpoint for BTCUSDT when url is empty.
func NewBinanceSource(url string) *BinanceSource {
	if url == "" {
		url = "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT"
	}
	return &BinanceSource{URL: url, client: &http.Client{Timeout: sourceFetchTimeout}}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Fetch(ctx context.Context) (map[currency.Code]float64, error) {
	body, err := doGet(ctx, s.client, s.URL)
	if err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("binance: decode: %w", err)
	}
	price, err := strconv.ParseFloat(payload.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: parse price %q: %w", payload.Price, err)
	}
	return map[currency.Code]float64{currency.USD: price}, nil
}

// KrakenSource fetches the last trade price for the XXBTZUSD pair, per
// §6.B: {result:{XXBTZxxx:{c:["last",...]}}}.
type KrakenSource struct {
	URL    string
	client *http.Client
}

// NewKrakenSource builds a KrakenSource against url, defaulting to Kraken's
// public ticker endpoint for XBTUSD when url is empty.
func NewKrakenSource(url string) *KrakenSource {
	if url == "" {
		url = "https://api.kraken.com/0/public/Ticker?pair=XBTUSD"
	}
	return &KrakenSource{URL: url, client: &http.Client{Timeout: sourceFetchTimeout}}
}

func (s *KrakenSource) Name() string { return "kraken" }

func (s *KrakenSource) Fetch(ctx context.Context) (map[currency.Code]float64, error) {
	body, err := doGet(ctx, s.client, s.URL)
	if err != nil {
		return nil, fmt.Errorf("kraken: %w", err)
	}
	var payload struct {
		Result map[string]struct {
			Close []string `json:"c"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("kraken: decode: %w", err)
	}
	for _, pair := range payload.Result {
		if len(pair.Close) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(pair.Close[0], 64)
		if err != nil {
			continue
		}
		return map[currency.Code]float64{currency.USD: price}, nil
	}
	return nil, fmt.Errorf("kraken: no ticker pair in response")
}

// CoinGeckoSource fetches BTC-to-fiat simple prices, per §6.B:
// {bitcoin:{usd:N, eur:N, ...}}.
type CoinGeckoSource struct {
	URL    string
	client *http.Client
}

// NewCoinGeckoSource builds a CoinGeckoSource against url, defaulting to
// CoinGecko's public simple-price endpoint across every registered currency
// when url is empty.
func NewCoinGeckoSource(url string) *CoinGeckoSource {
	if url == "" {
		url = "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd,eur,gbp,jpy,chf,cad,aud,cny,inr,mxn,ngn,brl"
	}
	return &CoinGeckoSource{URL: url, client: &http.Client{Timeout: sourceFetchTimeout}}
}

func (s *CoinGeckoSource) Name() string { return "coingecko" }

func (s *CoinGeckoSource) Fetch(ctx context.Context) (map[currency.Code]float64, error) {
	body, err := doGet(ctx, s.client, s.URL)
	if err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}
	var payload struct {
		Bitcoin map[string]float64 `json:"bitcoin"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("coingecko: decode: %w", err)
	}
	out := make(map[currency.Code]float64, len(payload.Bitcoin))
	for code, price := range payload.Bitcoin {
		out[currency.Code(strings.ToUpper(code))] = price
	}
	return out, nil
}
