package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vault/internal/types"
	"github.com/fortiblox/X1-Vault/pkg/node"
	"github.com/fortiblox/X1-Vault/pkg/rpc"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *config)

	nodeConfig, err := config.NodeConfig()
	require.NoError(t, err)
	defaults := node.DefaultConfig()
	assert.Equal(t, defaults.RPCAddr, nodeConfig.RPCAddr)
	assert.Equal(t, defaults.SlotInterval, nodeConfig.SlotInterval)
	assert.Equal(t, types.DefaultVaultProgramAddr, nodeConfig.VaultProgramID)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
data_dir: /var/lib/vault
slot_interval: 250ms
disable_faucet: true
rpc_addr: 127.0.0.1:9000
geyser_enabled: false
dashboard_enabled: true
client:
  url: http://node:9000
  commitment: finalized
  max_submits: 5
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "/var/lib/vault", config.DataDir)
	assert.Equal(t, 250*time.Millisecond, config.SlotInterval)
	assert.True(t, config.DisableFaucet)
	assert.Equal(t, "127.0.0.1:9000", config.RPCAddr)
	assert.False(t, config.GeyserEnabled)
	assert.True(t, config.DashboardEnabled)
	assert.Equal(t, "127.0.0.1:8080", config.DashboardAddr)

	// Unset keys keep their defaults.
	assert.Equal(t, Default().GeyserAddr, config.GeyserAddr)
	assert.Equal(t, Default().Client.Keypair, config.Client.Keypair)

	clientConfig, err := config.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://node:9000", clientConfig.Endpoint)
	assert.Equal(t, rpc.CommitmentFinalized, clientConfig.Commitment)
	assert.Equal(t, 5, clientConfig.MaxSubmits)
}

func TestLoad_Environment(t *testing.T) {
	path := writeConfig(t, "rpc_addr: 127.0.0.1:9000\n")
	t.Setenv("VAULT_RPC_ADDR", "0.0.0.0:7000")
	t.Setenv("VAULT_MAX_AIRDROP", "42")
	t.Setenv("VAULT_PRUNE_ENABLED", "false")
	t.Setenv("VAULT_CLIENT_URL", "http://env:8899")

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", config.RPCAddr)
	assert.Equal(t, uint64(42), config.MaxAirdrop)
	assert.False(t, config.PruneEnabled)
	assert.Equal(t, "http://env:8899", config.Client.URL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "slot_interval: [1, 2]\n"))
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "VAULT_DATA_DIR", EnvName("data_dir"))
	assert.Equal(t, "VAULT_CLIENT_MAX_SUBMITS", EnvName("client.max_submits"))
}

func TestNodeConfig_Invalid(t *testing.T) {
	config := Default()
	config.VaultProgramID = "not base58!"
	_, err := config.NodeConfig()
	assert.Error(t, err)

	config = Default()
	config.VaultProgramID = types.SystemProgramAddr.String()
	_, err = config.NodeConfig()
	assert.ErrorIs(t, err, node.ErrConfigInvalid)
}

func TestClientConfig_Invalid(t *testing.T) {
	config := Default()
	config.Client.Commitment = "eventually"
	_, err := config.ClientConfig()
	assert.Error(t, err)

	config = Default()
	config.Client.URL = ""
	_, err = config.ClientConfig()
	assert.Error(t, err)

	config = Default()
	config.Client.Commitment = "Processed"
	clientConfig, err := config.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, rpc.CommitmentProcessed, clientConfig.Commitment)
}

func TestConfigureLogger(t *testing.T) {
	level := logrus.GetLevel()
	defer logrus.SetLevel(level)

	config := Default()
	config.LogLevel = "WARN"
	config.ConfigureLogger()
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	config.LogLevel = "chatty"
	config.ConfigureLogger()
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}
