package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/zsasuite/zsawallet/internal/cfgutil"
	"github.com/zsasuite/zsawallet/shielded"
	"github.com/zsasuite/zsawallet/wallet"
	"github.com/zsasuite/zsawallet/wallet/txauthor"
)

type syncCommand struct {
	From int32 `long:"from" description:"Forget every note and sync again from this height"`
}

type balanceCommand struct {
	Account uint32 `long:"account" description:"Account whose default address is used"`
	Address string `long:"address" description:"Address to show the balance of instead of an account address"`
	Asset   string `long:"asset" description:"Hex encoded asset base, ZEC when empty"`
}

type addressCommand struct {
	Account  uint32 `long:"account" description:"Account to show the address of"`
	Internal bool   `long:"internal" description:"Show the change address"`
}

type spendPlanCommand struct {
	Account uint32              `long:"account" description:"Account whose default address pays"`
	Address string              `long:"address" description:"Paying address instead of an account address"`
	Asset   string              `long:"asset" description:"Hex encoded asset base, ZEC when empty"`
	Amount  *cfgutil.AmountFlag `long:"amount" description:"Amount to pay in ZEC (or whole units of a custom asset divided by 1e8)" required:"true"`
	Depth   int                 `long:"depth" description:"Checkpoint depth of the anchor, 0 for the current tree"`
	Verbose bool                `short:"v" long:"verbose" description:"Dump the selected notes"`
}

type resetCommand struct{}

type rewindCommand struct {
	Height int32 `long:"height" description:"Height of the last block kept" required:"true"`
}

// runCommand runs the named command against the opened wallet. No command
// syncs the wallet.
func runCommand(ctx context.Context, w *wallet.Wallet, command string) error {
	switch command {
	case "", "sync":
		return runSync(ctx, w, &cfg.Sync)

	case "balance":
		return runBalance(w, &cfg.Balance)

	case "address":
		scope := shielded.ExternalScope
		if cfg.Address.Internal {
			scope = shielded.InternalScope
		}
		addr, err := w.AccountAddress(cfg.Address.Account, scope)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil

	case "spendplan":
		return runSpendPlan(w, &cfg.SpendPlan)

	case "reset":
		if err := w.Reset(); err != nil {
			return err
		}
		fmt.Println("The wallet will sync again from its birthday.")
		return nil

	case "rewind":
		err := w.Rewind(cfg.Rewind.Height)
		if errors.Is(err, wallet.ErrRescanRequired) {
			log.Warnf("The wallet can not rewind to height %d, "+
				"run the reset command to sync again from the "+
				"birthday", cfg.Rewind.Height)
		}
		return err

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runSync(ctx context.Context, w *wallet.Wallet, c *syncCommand) error {
	var err error
	if c.From > 0 {
		err = w.SyncFrom(ctx, c.From)
	} else {
		err = w.Sync(ctx)
	}
	switch {
	case errors.Is(err, context.Canceled):
		log.Infof("Sync interrupted at height %d", w.SyncState().Height)
		return nil

	case errors.Is(err, wallet.ErrRescanRequired):
		log.Warnf("A reorganization deeper than the retained " +
			"checkpoints was seen, run the reset command")
		return err

	case err != nil:
		return err
	}

	state := w.SyncState()
	fmt.Printf("Synced to height %d, %d note commitments\n", state.Height,
		w.TreeSize())
	return nil
}

// payingAddress returns the address option of a command, or the default
// address of the account when it is empty.
func payingAddress(w *wallet.Wallet, address string,
	account uint32) (shielded.Address, error) {

	if address != "" {
		return shielded.DecodeAddress(address)
	}
	return w.AccountAddress(account, shielded.ExternalScope)
}

// formatZEC formats a zatoshi value in ZEC.
func formatZEC(zatoshi uint64) string {
	return strconv.FormatFloat(btcutil.Amount(zatoshi).ToBTC(), 'f', -1,
		64) + " ZEC"
}

func runBalance(w *wallet.Wallet, c *balanceCommand) error {
	addr, err := payingAddress(w, c.Address, c.Account)
	if err != nil {
		return err
	}
	asset, err := shielded.DecodeAssetBase(c.Asset)
	if err != nil {
		return err
	}

	balance, err := w.Balance(addr, asset)
	if err != nil {
		return err
	}
	if asset.IsNative() {
		fmt.Println(formatZEC(balance))
		return nil
	}
	fmt.Printf("%d %v\n", balance, asset)
	return nil
}

func runSpendPlan(w *wallet.Wallet, c *spendPlanCommand) error {
	addr, err := payingAddress(w, c.Address, c.Account)
	if err != nil {
		return err
	}
	asset, err := shielded.DecodeAssetBase(c.Asset)
	if err != nil {
		return err
	}

	plan, err := w.SelectSpendableNotesAtDepth(addr, c.Amount.Zatoshi(),
		asset, c.Depth)
	var fundsErr *txauthor.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		fmt.Printf("Insufficient funds: %d of %d available\n",
			fundsErr.Available, fundsErr.Required)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("Anchor %x\n", plan.Anchor[:])
	for _, in := range plan.Inputs {
		fmt.Printf("Note %d value %d position %d\n", in.Record.ID,
			in.Record.Note.Value, in.AuthPath.Position)
	}
	fmt.Printf("Total %d, change %d\n", plan.Total, plan.Change)
	if c.Verbose {
		// Spending keys stay out of the dump.
		for _, in := range plan.Inputs {
			fmt.Print(spew.Sdump(in.Record))
		}
	}
	return nil
}
