package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var address = cli.Command{
	Name:  "address",
	Usage: "print the addresses to fund the taker with",
	Flags: []cli.Flag{
		&cli.UintFlag{
			Name:  "index",
			Usage: "index of the receive address",
		},
	},
	Action: withTaker(false, addressAction),
}

var balance = cli.Command{
	Name:   "balance",
	Usage:  "sync the wallet and print the balance of both assets",
	Action: withTaker(true, balanceAction),
}

var syncCmd = cli.Command{
	Name:   "sync",
	Usage:  "sync the wallet with the bitcoin network",
	Action: withTaker(true, func(*cli.Context, *taker) error { return nil }),
}

var send = cli.Command{
	Name:  "send",
	Usage: "send bitcoin to the given address",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "address",
			Usage:    "the receiving address",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "amount",
			Usage:    "the amount to send in satoshis",
			Required: true,
		},
	},
	Action: withTaker(true, sendAction),
}

var broadcast = cli.Command{
	Name:      "broadcast",
	Usage:     "broadcast a signed bitcoin transaction",
	ArgsUsage: "<tx hex>",
	Action:    withTaker(true, broadcastAction),
}

func addressAction(c *cli.Context, t *taker) error {
	addr, err := t.wallet.ReceiveAddress(
		c.Context, t.network.Name, uint32(c.Uint("index")),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Fund me with BTC please: %s\n", addr)

	account, err := t.ethereumLeg.Identity(c.Context)
	if err != nil {
		t.log.WithError(err).Warn("failed to get ethereum account")
		fmt.Fprintln(c.App.Writer, "ethereum agent unreachable, can't show the ETH account")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "Fund me with ETH please: %s\n", account)
	return nil
}

func balanceAction(c *cli.Context, t *taker) error {
	return printBalance(c, t)
}

func printBalance(c *cli.Context, t *taker) error {
	b, err := t.wallet.Balance(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(
		c.App.Writer, "[taker] bitcoin balance: %s (unconfirmed %s, locked %s)\n",
		btcutil.Amount(b.Confirmed), btcutil.Amount(b.Unconfirmed),
		btcutil.Amount(b.Locked),
	)

	wei, err := t.ethereumLeg.Balance(c.Context)
	if err != nil {
		t.log.WithError(err).Warn("failed to get ether balance")
		fmt.Fprintln(c.App.Writer, "[taker] ether balance: unavailable")
		return nil
	}
	ether, err := domain.FromBaseUnits(domain.AssetEther, wei)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "[taker] ether balance: %s ETH\n", ether.String())
	return nil
}

func sendAction(c *cli.Context, t *taker) error {
	txid, err := t.wallet.SendToAddress(
		c.Context, t.network.Name, c.String("address"), c.Uint64("amount"),
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "transaction broadcasted: %s\n", txid)
	return nil
}

func broadcastAction(c *cli.Context, t *taker) error {
	txHex := strings.TrimSpace(c.Args().First())
	if txHex == "" {
		return errors.New("missing transaction hex")
	}
	txid, err := t.wallet.BroadcastHex(c.Context, t.network.Name, txHex)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "transaction broadcasted: %s\n", txid)
	return nil
}
