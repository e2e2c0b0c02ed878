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

type initCmd struct{}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "create the signing user's balance record" }
func (*initCmd) Usage() string {
	return `x1-vault init

  Creates the balance record of the signing user. Running it again for an
  existing record succeeds without sending anything.
`
}

func (*initCmd) SetFlags(*flag.FlagSet) {}

func (*initCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	c, cfg, err := newClient()
	if err != nil {
		return fail(err)
	}
	user, err := loadKeypair(cfg)
	if err != nil {
		return fail(err)
	}

	sig, err := c.Initialize(ctx, user)
	if err != nil {
		return failTx(sig, err)
	}
	if sig.IsZero() {
		fmt.Println("Balance record already initialized")
		return subcommands.ExitSuccess
	}
	fmt.Printf("Initialized balance record of %s\n", user.Pubkey())
	fmt.Printf("Signature: %s\n", sig)
	return subcommands.ExitSuccess
}

// movementCmd implements deposit and withdraw, which differ only in the
// client operation they call.
type movementCmd struct {
	name     string
	synopsis string
	verb     string
	submit   func(c *client.Client, ctx context.Context, user *types.Keypair, amount uint64) (types.Signature, error)
}

func (m *movementCmd) Name() string     { return m.name }
func (m *movementCmd) Synopsis() string { return m.synopsis }
func (m *movementCmd) Usage() string {
	return fmt.Sprintf(`x1-vault %s <amount>

  %s. The amount is in XNT with up to 9 decimal places, for
  example 1.5 or 0.000000001.
`, m.name, m.synopsis)
}

func (*movementCmd) SetFlags(*flag.FlagSet) {}

func (m *movementCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := amountArg(f, 0)
	if err != nil {
		return fail(err)
	}
	c, cfg, err := newClient()
	if err != nil {
		return fail(err)
	}
	user, err := loadKeypair(cfg)
	if err != nil {
		return fail(err)
	}

	sig, err := m.submit(c, ctx, user, amount)
	if err != nil {
		return failTx(sig, err)
	}
	fmt.Printf("%s %s XNT\n", m.verb, client.FormatLamports(amount))
	fmt.Printf("Signature: %s\n", sig)

	balance, err := c.Balance(ctx, user.Pubkey())
	if err != nil {
		return fail(errors.Wrap(err, "failed to read balance"))
	}
	fmt.Printf("Vault balance: %s XNT\n", client.FormatLamports(balance))
	return subcommands.ExitSuccess
}

func newDepositCmd() *movementCmd {
	return &movementCmd{
		name:     "deposit",
		synopsis: "move XNT from the signing user into the vault",
		verb:     "Deposited",
		submit:   (*client.Client).Deposit,
	}
}

func newWithdrawCmd() *movementCmd {
	return &movementCmd{
		name:     "withdraw",
		synopsis: "move XNT from the vault back to the signing user",
		verb:     "Withdrew",
		submit:   (*client.Client).Withdraw,
	}
}

type balanceCmd struct {
	vault bool
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "show a user's wallet and vault balance" }
func (*balanceCmd) Usage() string {
	return `x1-vault balance [-vault] [<pubkey>]

  Prints the wallet balance and the vault balance of a user, the signing
  user by default. With -vault the total held by the vault is printed too.
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.vault, "vault", false, "also print the total held by the vault")
}

func (c *balanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rpc, cfg, err := newClient()
	if err != nil {
		return fail(err)
	}
	user, err := userArg(f, cfg)
	if err != nil {
		return fail(err)
	}

	wallet, err := rpc.GetBalance(ctx, user)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Wallet balance: %s XNT\n", client.FormatLamports(wallet))

	balance, err := rpc.Balance(ctx, user)
	switch {
	case errors.Is(err, client.ErrNotInitialized):
		fmt.Println("Vault balance: not initialized")
	case err != nil:
		return fail(err)
	default:
		fmt.Printf("Vault balance: %s XNT\n", client.FormatLamports(balance))
	}

	if c.vault {
		holdings, err := rpc.VaultHoldings(ctx)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("Vault holdings: %s XNT\n", client.FormatLamports(holdings))
	}
	return subcommands.ExitSuccess
}
