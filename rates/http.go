package rates

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
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
)

// =============================================================================
// HTTP SOURCE - Price and FX providers
// =============================================================================

// PayloadKind selects how the request URL is built. Both kinds go through
// Normalize, which detects the body shape on its own.
type PayloadKind string

const (
	// KindCrypto: GET <url>?ids=bitcoin,ethereum&vs_currencies=usd
	// -> {"bitcoin": {"usd": 65000}, "ethereum": {"usd": 3200}}
	KindCrypto PayloadKind = "crypto"

	// KindFX: GET <url>?base=USD -> {"base": "USD", "rates": {"EUR": 0.92}}
	KindFX PayloadKind = "fx"
)

const maxPayloadBytes = 1 << 20

var errEmptyPayload = errors.New("payload contains no usable prices")

type HTTPSource struct {
	Name    string
	URL     string
	Kind    PayloadKind
	Assets  []generic.Asset // crypto only; defaults to generic.CryptoAssets()
	Client  *http.Client
	Clock   generic.Clock
	Metrics *metrics.Metrics
}

// NewCryptoSource builds a source for a {"<id>": {"usd": n}} provider.
func NewCryptoSource(endpoint string, client *http.Client) *HTTPSource {
	return &HTTPSource{Name: "crypto", URL: endpoint, Kind: KindCrypto, Client: client}
}

// NewFXSource builds a source for a {"rates": {...}} provider.
func NewFXSource(endpoint string, client *http.Client) *HTTPSource {
	return &HTTPSource{Name: "fx", URL: endpoint, Kind: KindFX, Client: client}
}

func (s *HTTPSource) FetchRates(ctx context.Context, base string) (table Table, err error) {
	start := time.Now()
	defer func() { s.Metrics.ObserveRateFetch(s.Name, start, err) }()

	fail := func(cause error) (Table, error) {
		return Table{}, &RateError{Provider: s.Name, Base: base, Cause: cause}
	}

	reqURL, err := s.requestURL(base)
	if err != nil {
		return fail(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return fail(err)
	}

	prices, err := Normalize(body, base)
	if err != nil {
		return fail(err)
	}

	clock := s.Clock
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return NewTable(base, prices, clock.Now()), nil
}

func (s *HTTPSource) requestURL(base string) (string, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("bad provider url: %w", err)
	}
	q := u.Query()
	switch s.Kind {
	case KindCrypto:
		assets := s.Assets
		if len(assets) == 0 {
			assets = generic.CryptoAssets()
		}
		ids := make([]string, 0, len(assets))
		for _, a := range assets {
			if id, ok := a.ProviderID(); ok {
				ids = append(ids, id)
			}
		}
		q.Set("ids", strings.Join(ids, ","))
		q.Set("vs_currencies", strings.ToLower(base))
	case KindFX:
		q.Set("base", strings.ToUpper(base))
	default:
		return "", fmt.Errorf("unknown payload kind %q", s.Kind)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// =============================================================================
// NORMALIZATION - Both provider shapes into symbol -> price
// =============================================================================

// Normalize decodes an FX payload ({"rates": {"EUR": 0.92}}) or a crypto
// payload ({"bitcoin": {"usd": 65000}}) into symbol -> price in base.
//
// FX rates are quoted as units of the symbol per one unit of base; they are
// inverted so every price reads "base per one unit of symbol", the same
// direction as crypto prices. The base itself is priced at 1.
func Normalize(body []byte, base string) (map[string]decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}

	var (
		prices map[string]decimal.Decimal
		err    error
	)
	if rawRates, ok := raw["rates"]; ok {
		prices, err = normalizeFX(rawRates)
	} else {
		prices, err = normalizeCrypto(raw, base)
	}
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, errEmptyPayload
	}

	prices[normalizeSymbol(base)] = decimal.NewFromInt(1)
	return prices, nil
}

func normalizeFX(rawRates json.RawMessage) (map[string]decimal.Decimal, error) {
	var quoted map[string]json.Number
	if err := decodeNumbers(rawRates, &quoted); err != nil {
		return nil, fmt.Errorf("malformed rates object: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(quoted))
	for sym, n := range quoted {
		rate, err := decimal.NewFromString(n.String())
		if err != nil || !rate.IsPositive() {
			continue
		}
		prices[normalizeSymbol(sym)] = decimal.NewFromInt(1).DivRound(rate, 12)
	}
	return prices, nil
}

func normalizeCrypto(raw map[string]json.RawMessage, base string) (map[string]decimal.Decimal, error) {
	vs := strings.ToLower(strings.TrimSpace(base))
	prices := make(map[string]decimal.Decimal, len(raw))
	for id, body := range raw {
		var quotes map[string]json.Number
		if err := decodeNumbers(body, &quotes); err != nil {
			return nil, fmt.Errorf("malformed entry %q: %w", id, err)
		}
		n, ok := quotes[vs]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(n.String())
		if err != nil || !price.IsPositive() {
			continue
		}

		symbol := normalizeSymbol(id)
		if asset, ok := generic.AssetForProviderID(id); ok {
			symbol = asset.String()
		}
		prices[symbol] = price
	}
	return prices, nil
}

func decodeNumbers(body json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}
