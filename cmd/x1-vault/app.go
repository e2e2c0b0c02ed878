package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"github.com/fortiblox/X1-Vault/internal/config"
	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/client"
)

// Register the subcommands.
func Register(c *subcommands.Commander) {
	c.Register(&keygenCmd{}, "keys")
	c.Register(&addressCmd{}, "keys")

	c.Register(&airdropCmd{}, "accounts")
	c.Register(&transferCmd{}, "accounts")
	c.Register(&bulkTransferCmd{}, "accounts")

	c.Register(&initCmd{}, "vault")
	c.Register(newDepositCmd(), "vault")
	c.Register(newWithdrawCmd(), "vault")
	c.Register(&balanceCmd{}, "vault")
	c.Register(&watchCmd{}, "vault")
}

// as a CLI application, it has a very short lived lifecycle, so global
// flags are fine.

var (
	configPath  = flag.String("config", "", "configuration file path (YAML)")
	keypairPath = flag.String("keypair", "", "keypair file of the signing user (overrides config)")
	rpcURL      = flag.String("url", "", "JSON-RPC endpoint of the vault node (overrides config)")
	geyserURL   = flag.String("geyser-url", "", "account stream address host:port (overrides config)")
	programID   = flag.String("program-id", "", "vault program id (overrides config)")
	commitment  = flag.String("commitment", "", "commitment to wait for: processed, confirmed, finalized (overrides config)")
	logLevel    = flag.String("log-level", "warn", "log level: debug, info, warn, error")
)

// loadConfig reads the configuration file and environment and applies the
// global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = *logLevel
	if *keypairPath != "" {
		cfg.Client.Keypair = *keypairPath
	}
	if *rpcURL != "" {
		cfg.Client.URL = *rpcURL
	}
	if *geyserURL != "" {
		cfg.Client.GeyserURL = *geyserURL
	}
	if *programID != "" {
		cfg.VaultProgramID = *programID
	}
	if *commitment != "" {
		cfg.Client.Commitment = *commitment
	}
	cfg.ConfigureLogger()
	return cfg, nil
}

// newClient returns an RPC client for the configured node.
func newClient() (*client.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, nil, err
	}
	return client.New(clientConfig), cfg, nil
}

// loadKeypair reads the signing user's keypair.
func loadKeypair(cfg *config.Config) (*types.Keypair, error) {
	kp, err := types.LoadKeypair(cfg.Client.Keypair)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Errorf("keypair %s does not exist, create one with keygen", cfg.Client.Keypair)
	}
	return kp, err
}

// userArg returns the pubkey given as the first argument, or the signing
// user's pubkey when there is none.
func userArg(f *flag.FlagSet, cfg *config.Config) (types.Pubkey, error) {
	if f.NArg() > 0 {
		pubkey, err := types.PubkeyFromBase58(f.Arg(0))
		if err != nil {
			return types.Pubkey{}, errors.Wrapf(err, "invalid pubkey %q", f.Arg(0))
		}
		return pubkey, nil
	}
	kp, err := loadKeypair(cfg)
	if err != nil {
		return types.Pubkey{}, err
	}
	return kp.Pubkey(), nil
}

// amountArg parses the argument at i as a decimal XNT amount.
func amountArg(f *flag.FlagSet, i int) (uint64, error) {
	if f.NArg() <= i {
		return 0, errors.New("missing amount")
	}
	return client.ParseAmount(f.Arg(i))
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}

// failTx reports a failed transaction. A failure that landed on the ledger
// still has a signature worth printing.
func failTx(sig types.Signature, err error) subcommands.ExitStatus {
	if !sig.IsZero() {
		fmt.Fprintln(os.Stderr, "Signature:", sig)
	}
	if code, ok := client.VaultError(err); ok {
		fmt.Fprintf(os.Stderr, "Error: vault program rejected the transaction: %v (code %d)\n", code, code.CustomCode())
		return subcommands.ExitFailure
	}
	return fail(err)
}
