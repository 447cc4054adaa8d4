// Package ethereum implements the Ethereum leg of the swap on top of an HTTP
// agent that owns the account keys and executes the HTLC contract calls.
package ethereum

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
)

const DefaultTimeout = 30 * time.Second

var _ ports.Leg = (*Agent)(nil)

type htlc struct {
	Asset          string `json:"asset"`
	Quantity       string `json:"quantity"`
	SecretHash     string `json:"secretHash"`
	Expiry         int64  `json:"expiry"`
	RedeemIdentity string `json:"redeemIdentity"`
	RefundIdentity string `json:"refundIdentity"`
}

type redeemRequest struct {
	HTLC   htlc   `json:"htlc"`
	Secret string `json:"secret"`
}

type accountResponse struct {
	Address string `json:"address"`
	// Balance is expressed in wei.
	Balance decimal.Decimal `json:"balance"`
}

type txResponse struct {
	TxHash string `json:"txHash"`
}

type statusResponse struct {
	TxHash string `json:"txHash"`
	Funded bool   `json:"funded"`
}

type confirmationResponse struct {
	Confirmed bool `json:"confirmed"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Agent is the ports.Leg of the ethereum ledger.
type Agent struct {
	http *resty.Client
	log  logrus.FieldLogger
}

// NewAgent returns an Agent talking to the ethereum agent at agentURL.
func NewAgent(
	agentURL string, timeout time.Duration, log logrus.FieldLogger,
) (*Agent, error) {
	u, err := url.Parse(agentURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ethereum agent url %q", agentURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	client := resty.New().
		SetHostURL(u.String()).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Agent{client, log.WithField("leg", domain.LedgerEthereum)}, nil
}

func (a *Agent) Ledger() string {
	return domain.LedgerEthereum
}

func (a *Agent) Identity(ctx context.Context) (string, error) {
	account, err := a.account(ctx)
	if err != nil {
		return "", err
	}
	return account.Address, nil
}

// Balance returns the ether balance of the agent account, in wei.
func (a *Agent) Balance(ctx context.Context) (decimal.Decimal, error) {
	account, err := a.account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func (a *Agent) account(ctx context.Context) (*accountResponse, error) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&accountResponse{}).
		SetError(&errorResponse{}).
		Get("/account")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	account := resp.Result().(*accountResponse)
	if !ethcommon.IsHexAddress(account.Address) {
		return nil, fmt.Errorf("agent returned invalid account %q", account.Address)
	}
	account.Address = ethcommon.HexToAddress(account.Address).Hex()
	return account, nil
}

// Watch only validates the contract, the agent looks it up on every status
// request.
func (a *Agent) Watch(ctx context.Context, params domain.HTLCParams) error {
	_, err := htlcFromParams(params)
	return err
}

func (a *Agent) Fund(
	ctx context.Context, params domain.HTLCParams,
) (string, error) {
	body, err := htlcFromParams(params)
	if err != nil {
		return "", err
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&txResponse{}).
		SetError(&errorResponse{}).
		Post("/htlcs/fund")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}

	txHash, err := parseTxHash(resp.Result().(*txResponse).TxHash)
	if err != nil {
		return "", err
	}
	a.log.WithField("tx_hash", txHash).Debug("htlc funded")
	return txHash, nil
}

func (a *Agent) IsFunded(
	ctx context.Context, params domain.HTLCParams,
) (string, bool, error) {
	body, err := htlcFromParams(params)
	if err != nil {
		return "", false, err
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&statusResponse{}).
		SetError(&errorResponse{}).
		Post("/htlcs/status")
	if err := checkResponse(resp, err); err != nil {
		return "", false, err
	}

	status := resp.Result().(*statusResponse)
	if !status.Funded {
		return "", false, nil
	}
	txHash, err := parseTxHash(status.TxHash)
	if err != nil {
		return "", false, err
	}
	return txHash, true, nil
}

func (a *Agent) Redeem(
	ctx context.Context, params domain.HTLCParams, secret domain.Secret,
) (string, error) {
	if secret.Hash() != params.SecretHash {
		return "", fmt.Errorf("secret does not match the htlc secret hash")
	}
	contract, err := htlcFromParams(params)
	if err != nil {
		return "", err
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(redeemRequest{contract, secret.String()}).
		SetResult(&txResponse{}).
		SetError(&errorResponse{}).
		Post("/htlcs/redeem")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}
	return parseTxHash(resp.Result().(*txResponse).TxHash)
}

func (a *Agent) IsConfirmed(ctx context.Context, txid string) (bool, error) {
	txHash, err := parseTxHash(txid)
	if err != nil {
		return false, err
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetResult(&confirmationResponse{}).
		SetError(&errorResponse{}).
		Get("/transactions/" + txHash)
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if err := checkResponse(resp, err); err != nil {
		return false, err
	}
	return resp.Result().(*confirmationResponse).Confirmed, nil
}

func (a *Agent) Refund(
	ctx context.Context, params domain.HTLCParams,
) (string, error) {
	body, err := htlcFromParams(params)
	if err != nil {
		return "", err
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&txResponse{}).
		SetError(&errorResponse{}).
		Post("/htlcs/refund")
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}
	return parseTxHash(resp.Result().(*txResponse).TxHash)
}

func htlcFromParams(params domain.HTLCParams) (htlc, error) {
	if params.Ledger != domain.LedgerEthereum {
		return htlc{}, fmt.Errorf("unexpected ledger %q", params.Ledger)
	}
	if err := params.Validate(); err != nil {
		return htlc{}, err
	}
	for _, id := range []string{params.RedeemIdentity, params.RefundIdentity} {
		if !ethcommon.IsHexAddress(id) {
			return htlc{}, fmt.Errorf("invalid ethereum identity %q", id)
		}
	}
	return htlc{
		Asset:          params.Asset,
		Quantity:       params.Quantity.String(),
		SecretHash:     params.SecretHash.String(),
		Expiry:         params.Expiry,
		RedeemIdentity: ethcommon.HexToAddress(params.RedeemIdentity).Hex(),
		RefundIdentity: ethcommon.HexToAddress(params.RefundIdentity).Hex(),
	}, nil
}

func parseTxHash(str string) (string, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(str), "0x")
	if buf, err := hex.DecodeString(trimmed); err != nil ||
		len(buf) != ethcommon.HashLength {
		return "", fmt.Errorf("invalid transaction hash %q", str)
	}
	return ethcommon.HexToHash(trimmed).Hex(), nil
}

// checkResponse maps transport failures and server errors to transient
// errors.
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: ethereum agent: %s", domain.ErrTransient, err)
	}
	if !resp.IsError() {
		return nil
	}

	msg := http.StatusText(resp.StatusCode())
	if e, ok := resp.Error().(*errorResponse); ok && e != nil && e.Message != "" {
		msg = e.Message
	}
	err = fmt.Errorf(
		"ethereum agent replied with status %d: %s", resp.StatusCode(), msg,
	)
	if resp.StatusCode() >= http.StatusInternalServerError ||
		resp.StatusCode() == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", domain.ErrTransient, err)
	}
	return err
}
