// Package config loads vaultd and x1-vault settings from an optional YAML
// file and VAULT_* environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/client"
	"github.com/fortiblox/X1-Vault/pkg/node"
	"github.com/fortiblox/X1-Vault/pkg/rpc"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "VAULT"

// Config is the combined node and client configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	DataDir        string `mapstructure:"data_dir"`
	VaultProgramID string `mapstructure:"vault_program_id"`

	FaucetKeypair  string `mapstructure:"faucet_keypair"`
	FaucetLamports uint64 `mapstructure:"faucet_lamports"`
	DisableFaucet  bool   `mapstructure:"disable_faucet"`
	MaxAirdrop     uint64 `mapstructure:"max_airdrop"`

	GenesisSnapshot string `mapstructure:"genesis_snapshot"`

	// SnapshotOnExit is a path the accounts state is written to when the
	// node shuts down.
	SnapshotOnExit string `mapstructure:"snapshot_on_exit"`

	SlotInterval time.Duration `mapstructure:"slot_interval"`

	PruneEnabled     bool   `mapstructure:"prune_enabled"`
	PruneRetainSlots uint64 `mapstructure:"prune_retain_slots"`

	RPCEnabled     bool   `mapstructure:"rpc_enabled"`
	RPCAddr        string `mapstructure:"rpc_addr"`
	RPCLogRequests bool   `mapstructure:"rpc_log_requests"`

	GeyserEnabled bool   `mapstructure:"geyser_enabled"`
	GeyserAddr    string `mapstructure:"geyser_addr"`

	DashboardEnabled bool   `mapstructure:"dashboard_enabled"`
	DashboardAddr    string `mapstructure:"dashboard_addr"`

	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`

	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig configures the x1-vault command line client.
type ClientConfig struct {
	URL            string        `mapstructure:"url"`
	GeyserURL      string        `mapstructure:"geyser_url"`
	Keypair        string        `mapstructure:"keypair"`
	Commitment     string        `mapstructure:"commitment"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     uint          `mapstructure:"max_retries"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	MaxSubmits     int           `mapstructure:"max_submits"`
}

// keys lists every setting that can be overridden from the environment.
var keys = []string{
	"log_level",
	"log_format",
	"data_dir",
	"vault_program_id",
	"faucet_keypair",
	"faucet_lamports",
	"disable_faucet",
	"max_airdrop",
	"genesis_snapshot",
	"snapshot_on_exit",
	"slot_interval",
	"prune_enabled",
	"prune_retain_slots",
	"rpc_enabled",
	"rpc_addr",
	"rpc_log_requests",
	"geyser_enabled",
	"geyser_addr",
	"dashboard_enabled",
	"dashboard_addr",
	"shutdown_grace_period",
	"client.url",
	"client.geyser_url",
	"client.keypair",
	"client.commitment",
	"client.request_timeout",
	"client.max_retries",
	"client.confirm_timeout",
	"client.max_submits",
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	nodeConfig := node.DefaultConfig()
	clientConfig := client.DefaultConfig()

	return Config{
		LogLevel:  "info",
		LogFormat: "text",

		DataDir:        nodeConfig.DataDir,
		VaultProgramID: nodeConfig.VaultProgramID.String(),

		FaucetLamports: nodeConfig.FaucetLamports,
		MaxAirdrop:     nodeConfig.MaxAirdrop,

		SlotInterval: nodeConfig.SlotInterval,

		PruneEnabled:     nodeConfig.PruneEnabled,
		PruneRetainSlots: nodeConfig.PruneRetainSlots,

		RPCEnabled: nodeConfig.RPCEnabled,
		RPCAddr:    nodeConfig.RPCAddr,

		GeyserEnabled: nodeConfig.GeyserEnabled,
		GeyserAddr:    nodeConfig.GeyserAddr,

		DashboardEnabled: nodeConfig.DashboardEnabled,
		DashboardAddr:    nodeConfig.DashboardAddr,

		ShutdownGracePeriod: 30 * time.Second,

		Client: ClientConfig{
			URL:            clientConfig.Endpoint,
			GeyserURL:      "localhost:10000",
			Keypair:        "id.json",
			Commitment:     string(clientConfig.Commitment),
			RequestTimeout: clientConfig.RequestTimeout,
			MaxRetries:     clientConfig.MaxRetries,
			ConfirmTimeout: clientConfig.ConfirmTimeout,
			MaxSubmits:     clientConfig.MaxSubmits,
		},
	}
}

// Load reads the configuration. Settings come from, in increasing order of
// precedence, Default, the YAML file at path (skipped if path is empty)
// and VAULT_ environment variables such as VAULT_RPC_ADDR or
// VAULT_CLIENT_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	for _, key := range keys {
		_ = v.BindEnv(key, EnvName(key))
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "failed to check if config exists")
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to load config %s", path)
		}
	}

	config := Default()
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// NodeConfig converts c to the node configuration.
func (c *Config) NodeConfig() (*node.Config, error) {
	programID, err := types.PubkeyFromBase58(c.VaultProgramID)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid vault_program_id %q", c.VaultProgramID)
	}

	nodeConfig := &node.Config{
		DataDir:          c.DataDir,
		VaultProgramID:   programID,
		FaucetKeypair:    c.FaucetKeypair,
		FaucetLamports:   c.FaucetLamports,
		DisableFaucet:    c.DisableFaucet,
		GenesisSnapshot:  c.GenesisSnapshot,
		SlotInterval:     c.SlotInterval,
		MaxAirdrop:       c.MaxAirdrop,
		PruneEnabled:     c.PruneEnabled,
		PruneRetainSlots: c.PruneRetainSlots,
		RPCEnabled:       c.RPCEnabled,
		RPCAddr:          c.RPCAddr,
		RPCLogRequests:   c.RPCLogRequests,
		GeyserEnabled:    c.GeyserEnabled,
		GeyserAddr:       c.GeyserAddr,
		DashboardEnabled: c.DashboardEnabled,
		DashboardAddr:    c.DashboardAddr,
	}
	if err := nodeConfig.Validate(); err != nil {
		return nil, err
	}
	return nodeConfig, nil
}

// ClientConfig converts c to the RPC client configuration.
func (c *Config) ClientConfig() (client.Config, error) {
	programID, err := types.PubkeyFromBase58(c.VaultProgramID)
	if err != nil {
		return client.Config{}, errors.Wrapf(err, "invalid vault_program_id %q", c.VaultProgramID)
	}

	commitment := rpc.Commitment(strings.ToLower(c.Client.Commitment))
	switch commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return client.Config{}, errors.Errorf("invalid client.commitment %q", c.Client.Commitment)
	}
	if c.Client.URL == "" {
		return client.Config{}, errors.New("client.url is required")
	}

	clientConfig := client.DefaultConfig()
	clientConfig.Endpoint = c.Client.URL
	clientConfig.ProgramID = programID
	clientConfig.Commitment = commitment
	clientConfig.RequestTimeout = c.Client.RequestTimeout
	clientConfig.MaxRetries = c.Client.MaxRetries
	clientConfig.ConfirmTimeout = c.Client.ConfirmTimeout
	if c.Client.MaxSubmits > 0 {
		clientConfig.MaxSubmits = c.Client.MaxSubmits
	}
	return clientConfig, nil
}

// ConfigureLogger applies the log level and format to the standard logrus
// logger. An unknown level is reported and ignored.
func (c *Config) ConfigureLogger() {
	switch strings.ToLower(c.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", c.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}
	logrus.SetOutput(os.Stderr)
}
