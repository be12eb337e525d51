package lending

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/AshutoshXYadav/DecentralizedBank/pkg/logger"
)

// PriceOracle quotes the value of an amount of Bitcoin collateral in the
// ledger's smallest unit. Quotes are read fresh for every ratio check; the
// lending engine never caches them.
type PriceOracle interface {
	QuoteValue(ctx context.Context, satoshis int64) (int64, error)
}

// OracleFunc adapts a function to the PriceOracle interface.
type OracleFunc func(ctx context.Context, satoshis int64) (int64, error)

func (f OracleFunc) QuoteValue(ctx context.Context, satoshis int64) (int64, error) {
	if f == nil {
		return 0, nil
	}
	return f(ctx, satoshis)
}

const satoshisPerBTC = 100_000_000

// StaticOracle quotes from a fixed price per whole Bitcoin. Useful for tests
// and self-contained deployments.
type StaticOracle struct {
	pricePerBTC int64
}

// NewStaticOracle constructs an oracle quoting at the given price per BTC in
// smallest ledger units.
func NewStaticOracle(pricePerBTC int64) *StaticOracle {
	return &StaticOracle{pricePerBTC: pricePerBTC}
}

func (o *StaticOracle) QuoteValue(_ context.Context, satoshis int64) (int64, error) {
	if satoshis < 0 {
		return 0, fmt.Errorf("negative collateral amount %d", satoshis)
	}
	value := new(big.Int).Mul(big.NewInt(satoshis), big.NewInt(o.pricePerBTC))
	value.Quo(value, big.NewInt(satoshisPerBTC))
	if !value.IsInt64() {
		return 0, fmt.Errorf("quote for %d satoshis overflows", satoshis)
	}
	return value.Int64(), nil
}

// HTTPOracle fetches the Bitcoin price from a JSON endpoint and scales the
// quote locally. The endpoint must answer `{"price": <smallest units per BTC>}`.
type HTTPOracle struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      *logger.Logger
}

// NewHTTPOracle constructs an HTTP-backed oracle. The API key, when set, is
// sent as a bearer token.
func NewHTTPOracle(endpoint, apiKey string, log *logger.Logger) *HTTPOracle {
	if log == nil {
		log = logger.NewDefault("price-oracle")
	}
	return &HTTPOracle{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (o *HTTPOracle) QuoteValue(ctx context.Context, satoshis int64) (int64, error) {
	if satoshis < 0 {
		return 0, fmt.Errorf("negative collateral amount %d", satoshis)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Price int64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode price response: %w", err)
	}
	if payload.Price <= 0 {
		return 0, fmt.Errorf("price endpoint returned non-positive price %d", payload.Price)
	}

	value := new(big.Int).Mul(big.NewInt(satoshis), big.NewInt(payload.Price))
	value.Quo(value, big.NewInt(satoshisPerBTC))
	if !value.IsInt64() {
		return 0, fmt.Errorf("quote for %d satoshis overflows", satoshis)
	}
	return value.Int64(), nil
}
