package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/application"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

func TestActionableMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "network mismatch",
			err:      &domain.NetworkMismatchError{Expected: "testnet", Got: "mainnet"},
			contains: "TAKER_NETWORK",
		},
		{
			name:     "insufficient funds",
			err:      fmt.Errorf("fund: %w", &domain.InsufficientFundsError{Required: 10, Available: 1}),
			contains: "taker address",
		},
		{
			name:     "negotiation",
			err:      &domain.NegotiationError{PairID: "ETH-BTC", Err: errors.New("connection refused")},
			contains: "TAKER_MAKER_URL",
		},
		{
			name:     "order unavailable",
			err:      &domain.OrderUnavailableError{OrderID: "order-1"},
			contains: "try again later",
		},
		{
			name:     "order rejected",
			err:      application.ErrOrderRejected,
			contains: "TAKER_MIN_RATE",
		},
		{
			name: "counterparty timeout",
			err: &domain.CounterpartyTimeoutError{
				SwapID: "swap-1", Action: "fund the bitcoin HTLC", Waited: time.Minute,
			},
			contains: "reclaimed only after the HTLC expiry",
		},
		{
			name:     "canceled",
			err:      context.Canceled,
			contains: "interrupted",
		},
		{
			name:     "other",
			err:      errors.New("boom"),
			contains: "boom",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, actionableMessage(tt.err), tt.contains)
		})
	}
}
