package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"OptionLedger/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addressEnv = map[string]string{
	"OPTION_ADDRESS_POOL":             "0x0000000000000000000000000000000000001001",
	"OPTION_ADDRESS_OPTION_MARKET":    "0x0000000000000000000000000000000000002002",
	"OPTION_ADDRESS_VAULT":            "0x0000000000000000000000000000000000003003",
	"OPTION_ADDRESS_POOL_HEDGER":      "0x0000000000000000000000000000000000004004",
	"OPTION_ADDRESS_OWNER":            "0x0000000000000000000000000000000000005005",
	"OPTION_ADDRESS_EXCHANGE_RESERVE": "0x0000000000000000000000000000000000007007",
}

func setAddresses(t *testing.T) {
	t.Helper()
	for k, v := range addressEnv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setAddresses(t)
	t.Chdir(t.TempDir())

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 1024, cfg.PersistChanSize)
	assert.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, int64(100_000), cfg.SnapshotInterval)
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000002002"), cfg.Addresses.OptionMarket)

	assert.Equal(t, "1", cfg.Params.MinDepositWithdraw.String())
	assert.Equal(t, "0.01", cfg.Params.WithdrawalFee.String())
	assert.Equal(t, 7*24*time.Hour, cfg.Params.DepositDelay)
}

func TestLoad_Precedence(t *testing.T) {
	setAddresses(t)
	t.Chdir(t.TempDir())

	file := filepath.Join(t.TempDir(), "optionledger.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http-addr: ":8181"
grpc-addr: ":9191"
pool:
  withdrawal-fee: "0.005"
  deposit-delay: 1h
`), 0o600))

	t.Setenv("OPTION_GRPC_ADDR", ":9292")

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--snapshot-interval=500"}))

	cfg, err := config.Load(file, fs)
	require.NoError(t, err)

	assert.Equal(t, ":8181", cfg.HTTPAddr, "file")
	assert.Equal(t, ":9292", cfg.GRPCAddr, "env over file")
	assert.Equal(t, int64(500), cfg.SnapshotInterval, "flag")
	assert.Equal(t, ":9091", cfg.MetricsAddr, "default, unset flag does not shadow it")
	assert.Equal(t, "0.005", cfg.Params.WithdrawalFee.String())
	assert.Equal(t, time.Hour, cfg.Params.DepositDelay)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing address", map[string]string{"OPTION_ADDRESS_VAULT": ""}},
		{"bad address", map[string]string{"OPTION_ADDRESS_OWNER": "0x123"}},
		{"negative decimal", map[string]string{"OPTION_POOL_WITHDRAWAL_FEE": "-0.1"}},
		{"fee out of range", map[string]string{"OPTION_POOL_WITHDRAWAL_FEE": "0.5"}},
		{"zero channel", map[string]string{"OPTION_PERSIST_CHAN_SIZE": "0"}},
		{"negative snapshot interval", map[string]string{"OPTION_SNAPSHOT_INTERVAL": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setAddresses(t)
			t.Chdir(t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("", nil)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}
