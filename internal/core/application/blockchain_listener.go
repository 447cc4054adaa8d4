package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
)

// EventSource is the ordered event stream of the chain watcher.
type EventSource interface {
	Events() <-chan chainwatcher.Event
}

// BlockchainListener feeds the chain events to the wallet, one at a time and
// in the order they are received.
type BlockchainListener interface {
	// ObserveBlockchain blocks until the event stream is closed or the
	// context canceled.
	ObserveBlockchain(ctx context.Context) error
}

// EventObserver is notified after each successfully applied event.
type EventObserver func(event chainwatcher.Event)

type blockchainListener struct {
	source   EventSource
	wallet   WalletService
	observer EventObserver
	log      logrus.FieldLogger
}

// NewBlockchainListener returns a BlockchainListener applying the events of
// the given source to the wallet. The observer is optional.
func NewBlockchainListener(
	source EventSource, wallet WalletService, observer EventObserver,
	log logrus.FieldLogger,
) BlockchainListener {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &blockchainListener{
		source:   source,
		wallet:   wallet,
		observer: observer,
		log:      log.WithField("service", "listener"),
	}
}

func (b *blockchainListener) ObserveBlockchain(ctx context.Context) error {
	events := b.source.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				b.log.Debug("event stream closed")
				return nil
			}
			// events are applied with a detached context, a block is either
			// fully applied or not at all.
			if err := b.wallet.ApplyEvent(context.Background(), event); err != nil {
				if !errors.Is(err, ErrUnexpectedTransaction) {
					b.log.WithError(err).Errorf(
						"failed to apply %s event, stop listening", event.Type(),
					)
					return fmt.Errorf("failed to apply %s event: %w", event.Type(), err)
				}
				b.log.WithError(err).Warn("skipping event")
				continue
			}
			if b.observer != nil {
				b.observer(event)
			}
		}
	}
}
