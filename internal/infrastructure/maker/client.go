// Package maker implements ports.MakerClient over the HTTP API of the maker.
package maker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/circuitbreaker"
)

const (
	DefaultRetryCount = 2
	DefaultTimeout    = 15 * time.Second
)

// Config defines the parameters for NewClient.
type Config struct {
	URL        string
	RetryCount int
	Timeout    time.Duration
	Logger     logrus.FieldLogger
}

type orderLeg struct {
	Asset         string          `json:"asset"`
	NominalAmount decimal.Decimal `json:"nominalAmount"`
}

type order struct {
	ID          string   `json:"id"`
	TradingPair string   `json:"tradingPair"`
	Ask         orderLeg `json:"ask"`
	Bid         orderLeg `json:"bid"`
}

type takeRequest struct {
	SecretHash          string `json:"secretHash"`
	AlphaRefundIdentity string `json:"alphaRefundIdentity"`
	BetaRedeemIdentity  string `json:"betaRedeemIdentity"`
	AlphaExpiry         int64  `json:"alphaExpiry"`
	BetaExpiry          int64  `json:"betaExpiry"`
}

type takeResponse struct {
	AlphaRedeemIdentity string `json:"alphaRedeemIdentity"`
	BetaRefundIdentity  string `json:"betaRefundIdentity"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Client talks to the maker through a resty client guarded by a circuit
// breaker. Only transport failures and server errors count against the
// breaker.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
}

// NewClient returns a Client for the maker served at cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid maker url %q", cfg.URL)
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("service", "maker")

	httpClient := resty.New().
		SetHostURL(u.String()).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Accept", "application/json")

	breaker := circuitbreaker.NewCircuitBreaker(
		"maker",
		circuitbreaker.WithStateChangeHook(
			func(name string, from, to gobreaker.State) {
				log.Warnf("%s circuit breaker moved from %s to %s", name, from, to)
			},
		),
	)

	return &Client{httpClient, breaker, log}, nil
}

func (c *Client) GetOrder(
	ctx context.Context, pairID string,
) (*domain.Order, error) {
	resp, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&order{}).
			SetError(&errorResponse{}).
			Get("/orders/" + url.PathEscape(pairID))
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}

	o, ok := resp.Result().(*order)
	if !ok || o == nil {
		return nil, domain.ErrMalformedOrder
	}
	return &domain.Order{
		ID:     o.ID,
		PairID: o.TradingPair,
		Ask:    domain.OrderLeg{Asset: o.Ask.Asset, NominalAmount: o.Ask.NominalAmount},
		Bid:    domain.OrderLeg{Asset: o.Bid.Asset, NominalAmount: o.Bid.NominalAmount},
	}, nil
}

func (c *Client) TakeOrder(
	ctx context.Context, req ports.TakeRequest,
) (*ports.TakeResponse, error) {
	body := takeRequest{
		SecretHash:          req.SecretHash.String(),
		AlphaRefundIdentity: req.AlphaRefundIdentity,
		BetaRedeemIdentity:  req.BetaRedeemIdentity,
		AlphaExpiry:         req.AlphaExpiry,
		BetaExpiry:          req.BetaExpiry,
	}

	resp, err := c.do(func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&takeResponse{}).
			SetError(&errorResponse{}).
			Post("/orders/" + url.PathEscape(req.OrderID) + "/take")
	})
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case http.StatusConflict, http.StatusGone, http.StatusNotFound:
		return nil, &domain.OrderUnavailableError{OrderID: req.OrderID}
	}
	if resp.IsError() {
		return nil, responseError(resp)
	}

	res, ok := resp.Result().(*takeResponse)
	if !ok || res == nil {
		return nil, fmt.Errorf("maker returned an empty response")
	}
	c.log.WithField("order_id", req.OrderID).Debug("order taken")

	return &ports.TakeResponse{
		AlphaRedeemIdentity: res.AlphaRedeemIdentity,
		BetaRefundIdentity:  res.BetaRefundIdentity,
	}, nil
}

// do runs the request through the breaker. Client errors are returned as
// successful responses so they don't trip it.
func (c *Client) do(
	request func() (*resty.Response, error),
) (*resty.Response, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := request()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransient, err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, responseError(resp)
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: maker: %s", domain.ErrTransient, err)
		}
		return nil, err
	}
	return res.(*resty.Response), nil
}

func responseError(resp *resty.Response) error {
	msg := http.StatusText(resp.StatusCode())
	if e, ok := resp.Error().(*errorResponse); ok && e != nil && e.Message != "" {
		msg = e.Message
	}
	err := fmt.Errorf("maker replied with status %d: %s", resp.StatusCode(), msg)
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s", domain.ErrTransient, err)
	}
	return err
}
