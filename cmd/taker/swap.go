package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var swap = cli.Command{
	Name:  "swap",
	Usage: "take an order from the maker and execute the atomic swap",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "yes",
			Usage: "don't ask for confirmation before negotiating",
		},
	},
	Action: withTaker(true, swapAction),
}

var resume = cli.Command{
	Name:   "resume",
	Usage:  "resume the swaps interrupted before reaching a final state",
	Action: withTaker(true, resumeAction),
}

var refund = cli.Command{
	Name:      "refund",
	Usage:     "reclaim the funds locked by a failed swap after the HTLC expiry",
	ArgsUsage: "<swap id>",
	Action:    withTaker(true, refundAction),
}

var listswaps = cli.Command{
	Name:   "swaps",
	Usage:  "list all swaps",
	Action: withTaker(false, listSwapsAction),
}

func swapAction(c *cli.Context, t *taker) error {
	if err := printBalance(c, t); err != nil {
		return err
	}
	if !c.Bool("yes") && !confirm(c, "Continue?") {
		return nil
	}

	pair, policy, err := t.acceptancePolicy()
	if err != nil {
		return err
	}
	negotiator, err := t.negotiator()
	if err != nil {
		return err
	}
	executor, err := t.executor()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "1. Ready to accept an order from the maker for %s\n", pair)
	session, err := negotiator.NegotiateAndInitiate(c.Context, pair, policy)
	if err != nil {
		return err
	}

	order := session.Order
	fmt.Fprintf(
		c.App.Writer, "Received latest order details: %s:%s for a rate of %s:%s\n",
		order.Ask.Asset, order.Bid.Asset,
		order.Ask.NominalAmount, order.Bid.NominalAmount,
	)
	fmt.Fprintf(
		c.App.Writer, "Swap %s started! Swapping %s %s for %s %s\n", session.ID,
		order.Ask.NominalAmount, order.Ask.Asset,
		order.Bid.NominalAmount, order.Bid.Asset,
	)
	fmt.Fprintf(c.App.Writer, "2. Funding the %s HTLC\n", session.Alpha.Ledger)

	if err := executor.Execute(c.Context, session); err != nil {
		if session.NeedsRefund() {
			return fmt.Errorf("%w, %s", err, refundHint(session))
		}
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s HTLC funded! TXID: %s\n", session.Alpha.Ledger, session.FundTxID)
	fmt.Fprintf(c.App.Writer, "%s redeemed! TXID: %s\n", session.Beta.Ledger, session.RedeemTxID)
	fmt.Fprintln(c.App.Writer, "Swapped!")

	return printBalance(c, t)
}

func resumeAction(c *cli.Context, t *taker) error {
	executor, err := t.executor()
	if err != nil {
		return err
	}
	swaps, err := t.repo.SwapRepository().GetAllSwaps(c.Context)
	if err != nil {
		return err
	}

	resumed := 0
	for i := range swaps {
		session := &swaps[i]
		if session.IsTerminated() {
			continue
		}
		resumed++
		fmt.Fprintf(c.App.Writer, "resuming swap %s from %s\n", session.ID, session.State)
		if err := executor.Execute(c.Context, session); err != nil {
			if session.NeedsRefund() {
				return fmt.Errorf("swap %s: %w, %s", session.ID, err, refundHint(session))
			}
			return fmt.Errorf("swap %s: %w", session.ID, err)
		}
		fmt.Fprintf(c.App.Writer, "swap %s redeemed! TXID: %s\n", session.ID, session.RedeemTxID)
	}

	if resumed == 0 {
		fmt.Fprintln(c.App.Writer, "no swap to resume")
	}
	return nil
}

func refundAction(c *cli.Context, t *taker) error {
	swapID := c.Args().First()
	if swapID == "" {
		return fmt.Errorf("missing swap id")
	}
	executor, err := t.executor()
	if err != nil {
		return err
	}

	txid, err := executor.Refund(c.Context, swapID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "funds reclaimed! TXID: %s\n", txid)
	return nil
}

type swapInfo struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	Pair            string `json:"pair"`
	Give            string `json:"give"`
	Receive         string `json:"receive"`
	FundTxID        string `json:"fund_txid,omitempty"`
	RedeemTxID      string `json:"redeem_txid,omitempty"`
	RefundTxID      string `json:"refund_txid,omitempty"`
	FailReason      string `json:"fail_reason,omitempty"`
	RefundableAfter string `json:"refundable_after,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func listSwapsAction(c *cli.Context, t *taker) error {
	swaps, err := t.repo.SwapRepository().GetAllSwaps(c.Context)
	if err != nil {
		return err
	}

	infos := make([]swapInfo, 0, len(swaps))
	for _, s := range swaps {
		info := swapInfo{
			ID:         s.ID,
			State:      s.State.String(),
			Pair:       s.Order.PairID,
			Give:       fmt.Sprintf("%s %s", s.Order.Ask.NominalAmount, s.Order.Ask.Asset),
			Receive:    fmt.Sprintf("%s %s", s.Order.Bid.NominalAmount, s.Order.Bid.Asset),
			FundTxID:   s.FundTxID,
			RedeemTxID: s.RedeemTxID,
			RefundTxID: s.RefundTxID,
			FailReason: s.FailReason,
			CreatedAt:  time.Unix(s.CreatedAt, 0).UTC().Format(time.RFC3339),
		}
		if s.NeedsRefund() && s.RefundTxID == "" {
			info.RefundableAfter = time.Unix(s.Alpha.Expiry, 0).UTC().Format(time.RFC3339)
		}
		infos = append(infos, info)
	}

	buf, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(buf))
	return nil
}

func confirm(c *cli.Context, question string) bool {
	fmt.Fprintf(c.App.Writer, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(c.App.Reader).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// refundHint is appended to the errors of failed swaps holding funds.
func refundHint(swap *domain.SwapSession) string {
	return fmt.Sprintf(
		"run `%s refund %s` after %s to reclaim the funds", appName, swap.ID,
		time.Unix(swap.Alpha.Expiry, 0).UTC().Format(time.RFC3339),
	)
}
