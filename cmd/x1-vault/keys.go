package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/svm/programs/vault"
)

type keygenCmd struct {
	outfile    string
	force      bool
	recover    bool
	passphrase string
}

func (*keygenCmd) Name() string     { return "keygen" }
func (*keygenCmd) Synopsis() string { return "create a new keypair file" }
func (*keygenCmd) Usage() string {
	return `x1-vault keygen [-o <file>] [-force] [-recover [-passphrase <words>]]

  Writes a new ed25519 keypair in solana-keygen JSON format. With -recover
  the keypair is derived from a BIP39 mnemonic read from standard input.
`
}

func (c *keygenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.outfile, "o", "", "keypair file to write (defaults to -keypair or the configured keypair)")
	f.BoolVar(&c.force, "force", false, "overwrite an existing keypair file")
	f.BoolVar(&c.recover, "recover", false, "derive the keypair from a mnemonic read from stdin")
	f.StringVar(&c.passphrase, "passphrase", "", "BIP39 passphrase used with -recover")
}

func (c *keygenCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	outfile := c.outfile
	if outfile == "" {
		outfile = cfg.Client.Keypair
	}
	if _, err := os.Stat(outfile); err == nil && !c.force {
		return fail(errors.Errorf("%s already exists, use -force to overwrite", outfile))
	}

	var kp *types.Keypair
	if c.recover {
		fmt.Fprintln(os.Stderr, "Enter mnemonic:")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fail(errors.New("no mnemonic given"))
		}
		kp, err = types.KeypairFromMnemonic(scanner.Text(), c.passphrase)
	} else {
		kp, err = types.NewKeypair()
	}
	if err != nil {
		return fail(err)
	}

	if err := kp.SaveKeypair(outfile); err != nil {
		return fail(err)
	}
	fmt.Printf("Wrote keypair to %s\n", outfile)
	fmt.Printf("Pubkey: %s\n", kp.Pubkey())
	return subcommands.ExitSuccess
}

type addressCmd struct{}

func (*addressCmd) Name() string     { return "address" }
func (*addressCmd) Synopsis() string { return "print the vault addresses of a user" }
func (*addressCmd) Usage() string {
	return `x1-vault address [<pubkey>]

  Prints the user's pubkey, the address of its balance record and the
  vault address. Without an argument the signing user is used.
`
}

func (*addressCmd) SetFlags(*flag.FlagSet) {}

func (*addressCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	user, err := userArg(f, cfg)
	if err != nil {
		return fail(err)
	}
	program, err := types.PubkeyFromBase58(cfg.VaultProgramID)
	if err != nil {
		return fail(errors.Wrap(err, "invalid program id"))
	}

	accounts, err := vault.DeriveInstructionAccounts(program, user)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("User:    %s\n", user)
	fmt.Printf("Record:  %s\n", accounts.Record)
	fmt.Printf("Vault:   %s\n", accounts.Vault)
	fmt.Printf("Program: %s\n", program)
	return subcommands.ExitSuccess
}
