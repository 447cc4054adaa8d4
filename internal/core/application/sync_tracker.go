package application

import (
	"context"
	"math"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
)

// SyncSample is a snapshot of the synchronization status.
type SyncSample struct {
	// Percent is in the range [0, 100].
	Percent      float64
	WalletHeight int32
	ChainHeight  int32
}

// IsSynced ...
func (s SyncSample) IsSynced() bool {
	return s.Percent >= 100
}

// SyncTracker polls the chain watcher and the wallet until the former has
// caught up with the network. It has no side effects on either of them.
type SyncTracker interface {
	// Run returns a channel of samples, the first one sent immediately and
	// the others at every tick. The channel is closed after the first sample
	// reporting full progress or when ctx is canceled.
	Run(ctx context.Context) <-chan SyncSample
}

type syncTracker struct {
	chain  ports.ChainService
	wallet WalletService
	ticker ticker.Ticker
	log    logrus.FieldLogger
}

// NewSyncTracker returns a SyncTracker driven by the given ticker. A nil
// ticker defaults to one firing every DefaultSyncInterval.
func NewSyncTracker(
	chain ports.ChainService, wallet WalletService, t ticker.Ticker,
	log logrus.FieldLogger,
) SyncTracker {
	if t == nil {
		t = ticker.New(DefaultSyncInterval)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &syncTracker{
		chain:  chain,
		wallet: wallet,
		ticker: t,
		log:    log.WithField("service", "sync"),
	}
}

func (s *syncTracker) Run(ctx context.Context) <-chan SyncSample {
	samples := make(chan SyncSample)

	go func() {
		defer close(samples)

		s.ticker.Resume()
		defer s.ticker.Stop()

		for {
			sample, err := s.sample(ctx)
			if err != nil {
				s.log.WithError(err).Warn("failed to read wallet height")
			} else {
				select {
				case samples <- sample:
				case <-ctx.Done():
					return
				}
				if sample.IsSynced() {
					s.log.WithField("height", sample.ChainHeight).Info("chain synced")
					return
				}
			}

			select {
			case <-s.ticker.Ticks():
			case <-ctx.Done():
				return
			}
		}
	}()

	return samples
}

func (s *syncTracker) sample(ctx context.Context) (SyncSample, error) {
	walletHeight, err := s.wallet.Height(ctx)
	if err != nil {
		return SyncSample{}, err
	}
	chainHeight, _ := s.chain.Tip()

	progress := math.Min(math.Max(s.chain.Progress(), 0), 1)
	return SyncSample{
		Percent:      math.Floor(progress*10000) / 100,
		WalletHeight: walletHeight,
		ChainHeight:  chainHeight,
	}, nil
}
