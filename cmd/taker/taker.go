package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/internal/config"
	"github.com/tdex-network/tdex-taker/internal/core/application"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/internal/infrastructure/ethereum"
	"github.com/tdex-network/tdex-taker/internal/infrastructure/logging"
	"github.com/tdex-network/tdex-taker/internal/infrastructure/maker"
	dbbadger "github.com/tdex-network/tdex-taker/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
	"github.com/tdex-network/tdex-taker/pkg/stats"
	"github.com/tdex-network/tdex-taker/pkg/trypolicy"
	"github.com/tdex-network/tdex-taker/pkg/wallet"
	"golang.org/x/sync/errgroup"
)

const memStatsInterval = time.Minute

var pairTickers = map[string]string{
	"BTC": domain.AssetBitcoin,
	"ETH": domain.AssetEther,
}

// taker wires all the services together. Services talking to the network
// are started only by the commands that need them.
type taker struct {
	logger  *logging.Logger
	log     logrus.FieldLogger
	network domain.Network
	repo    ports.RepoManager

	chain    chainwatcher.Service
	wallet   application.WalletService
	listener application.BlockchainListener
	tracker  application.SyncTracker

	bitcoinLeg  ports.Leg
	ethereumLeg *ethereum.Agent

	registry *prometheus.Registry
	metrics  *stats.Collector

	started bool
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

func newTaker() (*taker, error) {
	level, err := logging.ParseLevel(config.GetInt(config.LogLevelKey))
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Level:  level,
		LogDir: config.GetLogsDir(),
	})
	if err != nil {
		return nil, err
	}
	t := &taker{logger: logger, log: logger.WithField("app", "taker")}

	if err := t.init(); err != nil {
		t.close()
		return nil, err
	}
	return t, nil
}

func (t *taker) init() error {
	network, err := config.GetNetwork()
	if err != nil {
		return err
	}
	t.network = network

	hdKey := config.GetString(config.HDKeyKey)
	if hdKey == "" {
		return fmt.Errorf(
			"missing extended key, set TAKER_%s to a BIP32 private key",
			config.HDKeyKey,
		)
	}
	account, err := wallet.NewAccount(wallet.AccountOpts{
		ExtendedKey: hdKey,
		Account:     uint32(config.GetInt(config.AccountKey)),
		Network:     network.Params,
	})
	if err != nil {
		return fmt.Errorf("invalid extended key: %w", err)
	}

	repo, err := dbbadger.NewRepoManager(
		config.GetDbDir(), t.logger.WithField("module", "db"),
	)
	if err != nil {
		return err
	}
	t.repo = repo

	peers := config.GetStringSlice(config.ConnectPeersKey)
	for i, p := range peers {
		peers[i] = network.PeerAddress(p)
	}
	chain, err := chainwatcher.NewService(chainwatcher.Opts{
		ChainParams:      network.Params,
		HeaderStore:      repo.HeaderStore(),
		Logger:           t.log,
		TargetOutbound:   uint32(config.GetInt(config.MaxPeersKey)),
		ConnectPeers:     peers,
		DefaultPort:      network.DefaultPort(),
		UserAgentName:    appName,
		UserAgentVersion: version,
	})
	if err != nil {
		return err
	}
	t.chain = chain

	walletSvc, err := application.NewWalletService(application.WalletConfig{
		Network:          network,
		Account:          account,
		Repository:       repo.WalletRepository(),
		Chain:            chain,
		FeeEstimator:     application.NewStaticFeeEstimator(int64(config.GetInt(config.FeeRateKey))),
		MinConfirmations: int32(config.GetInt(config.MinConfirmationsKey)),
		LockExpiry:       config.GetDuration(config.UtxoLockExpiryKey),
		Logger:           t.log,
	})
	if err != nil {
		return err
	}
	t.wallet = walletSvc

	t.registry = prometheus.NewRegistry()
	metrics, err := stats.NewCollector(t.registry)
	if err != nil {
		return err
	}
	t.metrics = metrics

	t.listener = application.NewBlockchainListener(
		chain, walletSvc, t.onChainEvent, t.log,
	)
	t.tracker = application.NewSyncTracker(
		chain, walletSvc,
		ticker.New(config.GetDuration(config.SyncPollIntervalKey)), t.log,
	)

	t.bitcoinLeg = application.NewBitcoinLeg(walletSvc, clock.NewDefaultClock())
	ethereumLeg, err := ethereum.NewAgent(
		config.GetString(config.EthAgentURLKey), 0, t.log,
	)
	if err != nil {
		return err
	}
	t.ethereumLeg = ethereumLeg

	return nil
}

// start derives the wallet addresses, connects to the bitcoin network and
// begins applying chain events to the wallet.
func (t *taker) start(ctx context.Context) error {
	state, err := t.repo.WalletRepository().GetWalletState(ctx)
	if err != nil {
		return err
	}
	window := uint32(0)
	if state.ReceiveDepth == 0 {
		window = uint32(config.GetInt(config.AddressWindowKey))
	}
	if _, err := t.wallet.DeriveAndWatch(ctx, window); err != nil {
		return err
	}
	// contracts funded while the taker was offline are found only if watched
	// before syncing.
	executor, err := t.executor()
	if err != nil {
		return err
	}
	if _, err := executor.WatchPending(ctx); err != nil {
		return err
	}

	fromHeight := int32(config.GetInt(config.BirthdayHeightKey))
	if state.Height >= fromHeight {
		fromHeight = state.Height + 1
	}
	if err := t.chain.Start(fromHeight); err != nil {
		return err
	}

	t.ctx, t.cancel = context.WithCancel(ctx)
	t.group, t.ctx = errgroup.WithContext(t.ctx)
	t.started = true

	t.group.Go(func() error {
		return t.listener.ObserveBlockchain(t.ctx)
	})
	if addr := config.GetString(config.MetricsAddrKey); addr != "" {
		t.metrics.EnableMemoryStatistics(t.ctx, memStatsInterval, t.log)
		t.group.Go(func() error {
			return stats.Serve(t.ctx, addr, t.registry)
		})
		t.log.Infof("serving metrics on %s", addr)
	}

	t.log.WithFields(logrus.Fields{
		"network":     t.network.Name,
		"from_height": fromHeight,
	}).Info("chain watcher started")
	return nil
}

// waitSynced prints the sync progress until the wallet catches up with the
// chain.
func (t *taker) waitSynced(out io.Writer) error {
	for sample := range t.tracker.Run(t.ctx) {
		t.metrics.ObserveSync(sample.Percent, sample.WalletHeight, sample.ChainHeight)
		fmt.Fprintf(
			out, "sync progress: %.2f%% (block %d of %d)\n",
			sample.Percent, sample.WalletHeight, sample.ChainHeight,
		)
		if sample.IsSynced() {
			t.updateBalanceMetrics()
			return nil
		}
	}
	return t.failure(t.ctx.Err())
}

// failure replaces err with the error that stopped the background services,
// if any of them failed.
func (t *taker) failure(err error) error {
	if err == nil || !t.started || t.ctx.Err() == nil {
		return err
	}
	// a failed service cancels the group, the others exit with the context.
	if groupErr := t.group.Wait(); groupErr != nil &&
		!errors.Is(groupErr, context.Canceled) {
		return groupErr
	}
	return err
}

func (t *taker) negotiator() (application.Negotiator, error) {
	makerClient, err := maker.NewClient(maker.Config{
		URL:    config.GetString(config.MakerURLKey),
		Logger: t.log,
	})
	if err != nil {
		return nil, err
	}
	return application.NewNegotiator(application.NegotiatorConfig{
		Maker:       makerClient,
		Repository:  t.repo.SwapRepository(),
		Legs:        t.legs(),
		MaxAttempts: config.GetInt(config.NegotiationAttemptsKey),
		Logger:      t.log,
	})
}

func (t *taker) executor() (application.SwapExecutor, error) {
	return application.NewSwapExecutor(application.SwapExecutorConfig{
		Repository: t.repo.SwapRepository(),
		Legs:       t.legs(),
		TryPolicy: trypolicy.Policy{
			MaxDuration: config.GetDuration(config.TryMaxDurationKey),
			Interval:    config.GetDuration(config.TryIntervalKey),
		},
		Logger:   t.log,
		Observer: t.onSwapUpdate,
	})
}

// acceptancePolicy builds the min rate policy for the configured pair, whose
// first asset is the one the taker gives.
func (t *taker) acceptancePolicy() (string, domain.AcceptancePolicy, error) {
	pair := strings.ToUpper(config.GetString(config.PairKey))
	tickers := strings.Split(pair, "-")
	if len(tickers) != 2 {
		return "", nil, fmt.Errorf("invalid trading pair %q", pair)
	}
	ask, ok := pairTickers[tickers[0]]
	if !ok {
		return "", nil, fmt.Errorf("unsupported asset %s", tickers[0])
	}
	bid, ok := pairTickers[tickers[1]]
	if !ok {
		return "", nil, fmt.Errorf("unsupported asset %s", tickers[1])
	}

	minRate := config.GetDecimal(config.MinRateKey)
	policy := domain.MinRatePolicy(ask, bid, minRate)
	return pair, func(order domain.Order, rate decimal.Decimal) bool {
		accepted := policy(order, rate)
		t.log.WithFields(logrus.Fields{
			"order":    order.ID,
			"rate":     rate.String(),
			"min_rate": minRate.String(),
			"accepted": accepted,
		}).Info("rate offered")
		return accepted
	}, nil
}

func (t *taker) legs() []ports.Leg {
	return []ports.Leg{t.bitcoinLeg, t.ethereumLeg}
}

func (t *taker) onChainEvent(event chainwatcher.Event) {
	if e, ok := event.(chainwatcher.BlockConnectedEvent); ok {
		t.metrics.SetWalletHeight(e.Height)
	}
}

func (t *taker) onSwapUpdate(swap domain.SwapSession) {
	if swap.IsTerminated() {
		t.metrics.SwapTerminated(swap.State.String())
	}
	t.updateBalanceMetrics()
}

func (t *taker) updateBalanceMetrics() {
	balance, err := t.wallet.Balance(context.Background())
	if err != nil {
		t.log.WithError(err).Debug("failed to get balance")
		return
	}
	t.metrics.SetBalance(balance.Confirmed, balance.Unconfirmed, balance.Locked)
}

func (t *taker) close() {
	if t.started {
		t.cancel()
		t.chain.Stop()
		if err := t.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			t.log.WithError(err).Warn("service stopped with error")
		}
	}
	if t.repo != nil {
		t.repo.Close()
	}
	if err := t.logger.Close(); err != nil {
		fmt.Println(err)
	}
}
