package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/client"
)

type airdropCmd struct {
	to string
}

func (*airdropCmd) Name() string     { return "airdrop" }
func (*airdropCmd) Synopsis() string { return "request XNT from the node's faucet" }
func (*airdropCmd) Usage() string {
	return `x1-vault airdrop [-to <pubkey>] <amount>

  Asks the node's faucet to send amount XNT to the signing user, or to
  the -to account.
`
}

func (c *airdropCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.to, "to", "", "recipient (defaults to the signing user)")
}

func (c *airdropCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := amountArg(f, 0)
	if err != nil {
		return fail(err)
	}
	rpc, cfg, err := newClient()
	if err != nil {
		return fail(err)
	}

	var to types.Pubkey
	if c.to != "" {
		to, err = types.PubkeyFromBase58(c.to)
	} else {
		var kp *types.Keypair
		kp, err = loadKeypair(cfg)
		if kp != nil {
			to = kp.Pubkey()
		}
	}
	if err != nil {
		return fail(err)
	}

	sig, err := rpc.RequestAirdrop(ctx, to, amount)
	if err != nil {
		return failTx(sig, err)
	}
	fmt.Printf("Airdropped %s XNT to %s\n", client.FormatLamports(amount), to)
	fmt.Printf("Signature: %s\n", sig)
	return subcommands.ExitSuccess
}

type transferCmd struct{}

func (*transferCmd) Name() string     { return "transfer" }
func (*transferCmd) Synopsis() string { return "send XNT from the signing user's wallet" }
func (*transferCmd) Usage() string {
	return `x1-vault transfer <recipient> <amount>

  Transfers amount XNT from the signing user's wallet to recipient with
  the System Program. The vault is not involved.
`
}

func (*transferCmd) SetFlags(*flag.FlagSet) {}

func (*transferCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 2 {
		return fail(errors.New("usage: x1-vault transfer <recipient> <amount>"))
	}
	to, err := types.PubkeyFromBase58(f.Arg(0))
	if err != nil {
		return fail(errors.Wrapf(err, "invalid recipient %q", f.Arg(0)))
	}
	amount, err := amountArg(f, 1)
	if err != nil {
		return fail(err)
	}
	rpc, cfg, err := newClient()
	if err != nil {
		return fail(err)
	}
	from, err := loadKeypair(cfg)
	if err != nil {
		return fail(err)
	}

	sig, err := rpc.Transfer(ctx, from, to, amount)
	if err != nil {
		return failTx(sig, err)
	}
	fmt.Printf("Transferred %s XNT to %s\n", client.FormatLamports(amount), to)
	fmt.Printf("Signature: %s\n", sig)
	return subcommands.ExitSuccess
}
