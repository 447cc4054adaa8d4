package application_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/application"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/trypolicy"
)

type executorFixture struct {
	executor   application.SwapExecutor
	alpha      *mockLeg
	beta       *mockLeg
	repo       domain.SwapRepository
	clock      *clock.TestClock
	tickSignal chan time.Duration
	states     []domain.SwapState
}

func newExecutorFixture(t *testing.T) *executorFixture {
	f := &executorFixture{
		alpha:      &mockLeg{ledger: domain.LedgerEthereum},
		beta:       &mockLeg{ledger: domain.LedgerBitcoin},
		repo:       newTestRepoManager(t).SwapRepository(),
		tickSignal: make(chan time.Duration),
	}
	f.clock = clock.NewTestClockWithTickSignal(startTime, f.tickSignal)

	executor, err := application.NewSwapExecutor(application.SwapExecutorConfig{
		Repository: f.repo,
		Legs:       []ports.Leg{f.alpha, f.beta},
		TryPolicy:  trypolicy.Default(),
		Clock:      f.clock,
		Logger:     testLog,
		Observer: func(swap domain.SwapSession) {
			f.states = append(f.states, swap.State)
		},
	})
	require.NoError(t, err)
	f.executor = executor
	return f
}

func (f *executorFixture) execute(t *testing.T, swap *domain.SwapSession) error {
	return runWithClock(t, f.clock, f.tickSignal, func() error {
		return f.executor.Execute(ctx, swap)
	})
}

func newTestSwapSession(t *testing.T) *domain.SwapSession {
	secret, err := domain.NewSecret()
	require.NoError(t, err)

	order := newTestOrder("order", "10", "0.02")
	alpha := domain.HTLCParams{
		Ledger:         domain.LedgerEthereum,
		Asset:          domain.AssetEther,
		Quantity:       decimal.RequireFromString("10000000000000000000"),
		SecretHash:     secret.Hash(),
		Expiry:         startTime.Add(application.DefaultAlphaExpiry).Unix(),
		RedeemIdentity: makerEthereum,
		RefundIdentity: takerEthereum,
	}
	beta := domain.HTLCParams{
		Ledger:         domain.LedgerBitcoin,
		Asset:          domain.AssetBitcoin,
		Quantity:       decimal.NewFromInt(2000000),
		SecretHash:     secret.Hash(),
		Expiry:         startTime.Add(application.DefaultBetaExpiry).Unix(),
		RedeemIdentity: takerBitcoinID,
		RefundIdentity: makerBitcoinID,
	}
	return domain.NewSwapSession(*order, alpha, beta, secret)
}

func TestExecuteSwap(t *testing.T) {
	f := newExecutorFixture(t)
	swap := newTestSwapSession(t)

	f.alpha.On("IsFunded", swap.Alpha).Return("", false, nil).Twice()
	f.alpha.On("Fund", swap.Alpha).Return("", fmt.Errorf("no peers: %w", domain.ErrTransient)).Once()
	f.alpha.On("Fund", swap.Alpha).Return("fundtx", nil).Once()
	f.beta.On("IsFunded", swap.Beta).Return("", false, nil).Times(3)
	f.beta.On("IsFunded", swap.Beta).Return("betatx", true, nil).Once()
	f.beta.On("Redeem", swap.Beta, swap.Secret).Return("redeemtx", nil).Once()
	f.beta.On("IsConfirmed", "redeemtx").Return(false, nil).Once()
	f.beta.On("IsConfirmed", "redeemtx").Return(true, nil).Once()

	err := f.execute(t, swap)
	require.NoError(t, err)
	f.alpha.AssertExpectations(t)
	f.beta.AssertExpectations(t)

	require.Equal(t, domain.SwapStateRedeemed, swap.State)
	require.Equal(t, "fundtx", swap.FundTxID)
	require.Equal(t, "redeemtx", swap.RedeemTxID)
	require.Equal(t, []domain.SwapState{
		domain.SwapStateFunding,
		domain.SwapStateFundedAwaitingCounterparty,
		domain.SwapStateRedeeming,
		domain.SwapStateRedeeming,
		domain.SwapStateRedeemed,
	}, f.states)

	stored, err := f.repo.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStateRedeemed, stored.State)
}

func TestExecuteSwapCounterpartyTimeout(t *testing.T) {
	f := newExecutorFixture(t)
	swap := newTestSwapSession(t)

	f.alpha.On("IsFunded", swap.Alpha).Return("", false, nil).Once()
	f.alpha.On("Fund", swap.Alpha).Return("fundtx", nil).Once()
	f.beta.On("IsFunded", swap.Beta).Return("", false, nil)

	err := f.execute(t, swap)
	require.Error(t, err)

	var timeoutErr *domain.CounterpartyTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, swap.ID, timeoutErr.SwapID)
	require.Equal(t, trypolicy.DefaultMaxDuration, timeoutErr.Waited)
	f.beta.AssertNumberOfCalls(t, "IsFunded", 2401)
	f.beta.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything)

	require.Equal(t, domain.SwapStateTimedOut, swap.State)
	require.True(t, swap.NeedsRefund())

	stored, err := f.repo.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStateTimedOut, stored.State)
	require.Equal(t, "fundtx", stored.FundTxID)
	require.NotEmpty(t, stored.FailReason)

	t.Run("refund", func(t *testing.T) {
		f.alpha.On("Refund", mock.Anything).Return("refundtx", nil).Once()

		txid, err := f.executor.Refund(ctx, swap.ID)
		require.NoError(t, err)
		require.Equal(t, "refundtx", txid)

		stored, err := f.repo.GetSwap(ctx, swap.ID)
		require.NoError(t, err)
		require.Equal(t, "refundtx", stored.RefundTxID)
	})
}

func TestExecuteSwapAborted(t *testing.T) {
	f := newExecutorFixture(t)
	swap := newTestSwapSession(t)

	fundsErr := &domain.InsufficientFundsError{Required: 10, Available: 1}
	f.alpha.On("IsFunded", swap.Alpha).Return("", false, nil).Once()
	f.alpha.On("Fund", swap.Alpha).Return("", fundsErr).Once()

	err := f.execute(t, swap)
	require.ErrorIs(t, err, fundsErr)
	f.alpha.AssertNumberOfCalls(t, "Fund", 1)
	f.beta.AssertNotCalled(t, "IsFunded", mock.Anything)

	require.Equal(t, domain.SwapStateAborted, swap.State)
	require.Equal(t, fundsErr.Error(), swap.FailReason)
	require.False(t, swap.NeedsRefund())

	_, err = f.executor.Refund(ctx, swap.ID)
	require.ErrorIs(t, err, domain.ErrSwapNotRefundable)
}

func TestExecuteSwapFundingNotRepeated(t *testing.T) {
	t.Run("funding result lost", func(t *testing.T) {
		f := newExecutorFixture(t)
		swap := newTestSwapSession(t)

		// the agent funds the contract but the response times out.
		f.alpha.On("IsFunded", swap.Alpha).Return("", false, nil).Once()
		f.alpha.On("Fund", swap.Alpha).Return("", fmt.Errorf("timeout: %w", domain.ErrTransient)).Once()
		f.alpha.On("IsFunded", swap.Alpha).Return("fundtx", true, nil).Once()
		f.beta.On("IsFunded", swap.Beta).Return("betatx", true, nil).Once()
		f.beta.On("Redeem", swap.Beta, swap.Secret).Return("redeemtx", nil).Once()
		f.beta.On("IsConfirmed", "redeemtx").Return(true, nil).Once()

		err := f.execute(t, swap)
		require.NoError(t, err)
		f.alpha.AssertNumberOfCalls(t, "Fund", 1)
		require.Equal(t, "fundtx", swap.FundTxID)
		require.Equal(t, domain.SwapStateRedeemed, swap.State)
	})

	t.Run("resumed after funding", func(t *testing.T) {
		f := newExecutorFixture(t)
		swap := newTestSwapSession(t)
		// the process stopped after funding, before storing the result.
		require.NoError(t, swap.StartFunding())
		require.NoError(t, f.repo.AddSwap(ctx, *swap))

		f.alpha.On("IsFunded", swap.Alpha).Return("fundtx", true, nil).Once()
		f.beta.On("IsFunded", swap.Beta).Return("betatx", true, nil).Once()
		f.beta.On("Redeem", swap.Beta, swap.Secret).Return("redeemtx", nil).Once()
		f.beta.On("IsConfirmed", "redeemtx").Return(true, nil).Once()

		err := f.execute(t, swap)
		require.NoError(t, err)
		f.alpha.AssertNotCalled(t, "Fund", mock.Anything)
		require.Equal(t, "fundtx", swap.FundTxID)
	})
}

func TestWatchPendingSwaps(t *testing.T) {
	f := newExecutorFixture(t)

	pending := newTestSwapSession(t)
	require.NoError(t, pending.StartFunding())
	require.NoError(t, pending.Funded("fundtx"))
	require.NoError(t, f.repo.AddSwap(ctx, *pending))

	refundable := newTestSwapSession(t)
	require.NoError(t, refundable.StartFunding())
	require.NoError(t, refundable.Funded("fundtx2"))
	require.NoError(t, refundable.TimeOut(errors.New("maker gone")))
	require.NoError(t, f.repo.AddSwap(ctx, *refundable))

	aborted := newTestSwapSession(t)
	require.NoError(t, aborted.Abort(errors.New("no funds")))
	require.NoError(t, f.repo.AddSwap(ctx, *aborted))

	count, err := f.executor.WatchPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	watched := f.beta.watchedContracts()
	require.Len(t, watched, 2)
	require.ElementsMatch(t,
		[]domain.SecretHash{pending.Beta.SecretHash, refundable.Beta.SecretHash},
		[]domain.SecretHash{watched[0].SecretHash, watched[1].SecretHash},
	)
	require.Len(t, f.alpha.watchedContracts(), 2)
}

func TestExecuteSwapResume(t *testing.T) {
	f := newExecutorFixture(t)
	swap := newTestSwapSession(t)
	require.NoError(t, swap.StartFunding())
	require.NoError(t, swap.Funded("fundtx"))
	require.NoError(t, f.repo.AddSwap(ctx, *swap))

	f.beta.On("IsFunded", swap.Beta).Return("betatx", true, nil).Once()
	f.beta.On("Redeem", swap.Beta, swap.Secret).Return("redeemtx", nil).Once()
	f.beta.On("IsConfirmed", "redeemtx").Return(true, nil).Once()

	err := f.execute(t, swap)
	require.NoError(t, err)
	f.alpha.AssertNotCalled(t, "Fund", mock.Anything)
	require.Equal(t, domain.SwapStateRedeemed, swap.State)
}

func TestExecuteSwapUnknownLedger(t *testing.T) {
	f := newExecutorFixture(t)
	swap := newTestSwapSession(t)
	swap.Beta.Ledger = "litecoin"

	err := f.execute(t, swap)
	require.ErrorIs(t, err, application.ErrUnknownLedger)
	require.Equal(t, domain.SwapStateAborted, swap.State)
}
