package pricing

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/metrics"
	"github.com/medflow/medflow-pharmacy/pkg/config"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/tenant"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// minRequestsToTrip keeps a single early failure from opening the breaker.
const minRequestsToTrip = 3

// errNoContractPrice marks a policy without a negotiated price for the product.
var errNoContractPrice = stderrors.New("no contract price")

// Client asks the insurance pricing service for contract prices. Patients
// without a policy, and products the policy has no price for, fall back to
// the catalog. Calls go through a circuit breaker; while it is open every
// insured price lookup fails instead of silently billing the catalog price.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	fallback   Pricer
	logger     *logger.Logger
}

type priceResponse struct {
	Success bool `json:"success"`
	Data    struct {
		UnitPrice decimal.Decimal `json:"unit_price"`
	} `json:"data"`
}

// NewClient creates a pricing client
func NewClient(cfg config.PricingConfig, m *metrics.Metrics, log *logger.Logger) *Client {
	log = log.WithComponent("pricing_client")

	settings := gobreaker.Settings{
		Name:        "pricing",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequestsToTrip {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, errNoContractPrice)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
			m.BreakerState(float64(to))
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		fallback:   CatalogPricer{},
		logger:     log,
	}
}

// PriceFor returns the contract price for insured patients and the catalog price otherwise
func (c *Client) PriceFor(ctx context.Context, product *domain.Product, insurancePolicyID *string) (decimal.Decimal, error) {
	if insurancePolicyID == nil || *insurancePolicyID == "" {
		return c.fallback.PriceFor(ctx, product, nil)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, product.ID, *insurancePolicyID)
	})
	switch {
	case err == nil:
		return result.(decimal.Decimal), nil
	case stderrors.Is(err, errNoContractPrice):
		return c.fallback.PriceFor(ctx, product, insurancePolicyID)
	case stderrors.Is(err, gobreaker.ErrOpenState), stderrors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Warn().Str("product_id", product.ID).Msg("pricing service unavailable, breaker open")
		return decimal.Zero, unavailable(err)
	default:
		c.logger.Error().Err(err).Str("product_id", product.ID).Msg("pricing lookup failed")
		return decimal.Zero, unavailable(err)
	}
}

func (c *Client) fetch(ctx context.Context, productID, policyID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("product_id", productID)
	q.Set("policy_id", policyID)
	endpoint := c.baseURL + "/api/v1/prices?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	if tenantID, err := tenant.TenantID(ctx); err == nil {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, errNoContractPrice
	case resp.StatusCode != http.StatusOK:
		return decimal.Zero, fmt.Errorf("pricing service returned %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price: %w", err)
	}
	if body.Data.UnitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("pricing service returned negative price %s", body.Data.UnitPrice)
	}
	return body.Data.UnitPrice, nil
}

func unavailable(err error) *errors.AppError {
	return errors.Wrap(err, "PRICING_UNAVAILABLE", "pricing service unavailable", http.StatusServiceUnavailable)
}
