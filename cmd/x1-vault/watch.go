package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/client"
	"github.com/fortiblox/X1-Vault/pkg/geyser"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

type watchCmd struct {
	all bool
	tls bool
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "stream balance changes from the node" }
func (*watchCmd) Usage() string {
	return `x1-vault watch [-all] [-tls] [<pubkey>]

  Prints every committed change of a user's wallet, balance record and the
  vault, the signing user by default. With -all every account owned by the
  vault program is watched. Stops on interrupt.
`
}

func (c *watchCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.all, "all", false, "watch every account owned by the vault program")
	f.BoolVar(&c.tls, "tls", false, "connect to the stream with TLS")
}

func (c *watchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	program, err := types.PubkeyFromBase58(cfg.VaultProgramID)
	if err != nil {
		return fail(errors.Wrap(err, "invalid program id"))
	}

	var filter geyser.Filter
	if c.all {
		filter.Owners = []types.Pubkey{program}
	} else {
		user, err := userArg(f, cfg)
		if err != nil {
			return fail(err)
		}
		accounts, err := vault.DeriveInstructionAccounts(program, user)
		if err != nil {
			return fail(err)
		}
		filter.Accounts = []types.Pubkey{accounts.User, accounts.Record, accounts.Vault}
	}

	geyserConfig := geyser.DefaultConfig()
	geyserConfig.Endpoint = cfg.Client.GeyserURL
	geyserConfig.UseTLS = c.tls
	geyserConfig.OnDisconnect = func(err error) {
		fmt.Fprintln(os.Stderr, "Stream disconnected, resubscribing:", err)
	}
	stream, err := geyser.NewClient(geyserConfig)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updates, err := stream.Subscribe(ctx, filter)
	if err != nil {
		return fail(err)
	}
	fmt.Fprintf(os.Stderr, "Watching %s\n", cfg.Client.GeyserURL)

	for update := range updates {
		fmt.Println(describeUpdate(program, update))
	}
	if ctx.Err() == nil {
		if err := stream.Health().LastError; err != nil {
			return fail(err)
		}
	}
	return subcommands.ExitSuccess
}

// describeUpdate renders an account update as one line, decoding balance
// records of program.
func describeUpdate(program types.Pubkey, update geyser.AccountUpdate) string {
	line := fmt.Sprintf("slot %d %s lamports=%s", update.Slot, update.Pubkey, client.FormatLamports(update.Lamports))
	if update.Owner == program {
		var record vault.BalanceRecord
		if err := record.Unmarshal(update.Data); err == nil {
			line += fmt.Sprintf(" record owner=%s balance=%s", record.Owner, client.FormatLamports(record.Balance))
		}
	}
	if !update.Signature.IsZero() {
		line += " tx=" + update.Signature.String()
	}
	return line
}
