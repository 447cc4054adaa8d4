package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tdex-network/tdex-taker/internal/config"
	"github.com/urfave/cli/v2"
)

const appName = "taker"

var version = "0.1.0"

func main() {
	app := cli.NewApp()

	app.Version = version
	app.Name = appName
	app.Usage = "Take BTC/ETH atomic swap orders from a maker"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "network",
			Usage: "bitcoin network, overrides TAKER_NETWORK",
		},
		&cli.IntFlag{
			Name:  "loglevel",
			Usage: "log level from 0 (panic) to 6 (trace), overrides TAKER_LOG_LEVEL",
		},
	}
	app.Before = func(c *cli.Context) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		if c.IsSet("network") {
			config.Set(config.NetworkKey, c.String("network"))
		}
		if c.IsSet("loglevel") {
			config.Set(config.LogLevelKey, c.Int("loglevel"))
		}
		return config.IsValid()
	}
	app.Commands = append(
		app.Commands,
		&address,
		&balance,
		&syncCmd,
		&send,
		&broadcast,
		&swap,
		&resume,
		&listswaps,
		&refund,
	)

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fatal(err)
	}
}

// withTaker builds the services, runs the action and tears everything down.
// If online is true the wallet is synced before running the action.
func withTaker(
	online bool, action func(c *cli.Context, t *taker) error,
) cli.ActionFunc {
	return func(c *cli.Context) error {
		t, err := newTaker()
		if err != nil {
			return err
		}
		defer t.close()

		if online {
			if err := t.start(c.Context); err != nil {
				return err
			}
			if err := t.waitSynced(c.App.Writer); err != nil {
				return err
			}
			// the action stops as soon as the wallet stops following the chain.
			c.Context = t.ctx
		}
		return t.failure(action(c, t))
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[taker] %v\n", actionableMessage(err))
	os.Exit(1)
}
