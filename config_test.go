package notary

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadEnv_Defaults(t *testing.T) {
	cfg, err := LoadEnv(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.Addr)
	assert.Equal(t, RecordNamespace, cfg.Namespace)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 50.0, cfg.RateLimit)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.Equal(t, 5*time.Minute, cfg.MaxRequestAge)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.Authority.IsZero())
	assert.False(t, cfg.Metered)
}

func TestLoadEnv_Variables(t *testing.T) {
	t.Setenv("NOTARY_AUTHORITY", testSubject(1).String())
	t.Setenv("NOTARY_PROGRAM_ID", testSubject(2).String())
	t.Setenv("NOTARY_NAMESPACE", "integrity")
	t.Setenv("NOTARY_STORE", StoreSQLite)
	t.Setenv("NOTARY_STORE_PATH", "/var/lib/notary/notary.db")
	t.Setenv("NOTARY_METERED", "true")
	t.Setenv("NOTARY_INITIAL_BALANCE", "1000000")
	t.Setenv("NOTARY_TREASURY_PATH", "/var/lib/notary/ledger.json")
	t.Setenv("NOTARY_MAX_REQUEST_AGE", "30s")
	t.Setenv("NOTARY_LOG_LEVEL", "debug")

	cfg, err := LoadEnv(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, testSubject(1), cfg.Authority)
	assert.Equal(t, testSubject(2), cfg.ProgramID)
	assert.Equal(t, "integrity", cfg.Namespace)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.True(t, cfg.Metered)
	assert.Equal(t, uint64(1000000), cfg.InitialBalance)
	assert.Equal(t, "/var/lib/notary/ledger.json", cfg.TreasuryPath)
	assert.Equal(t, 30*time.Second, cfg.MaxRequestAge)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadEnv_RejectsMalformedIdentity(t *testing.T) {
	t.Setenv("NOTARY_AUTHORITY", "not-base58!")
	_, err := LoadEnv(noEnvFile(t))
	assert.Error(t, err)
}

func TestLoadEnv_DotenvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("NOTARY_NAMESPACE=from-file\nNOTARY_RATE_BURST=7\n"), 0o600))

	// Loaded variables leak into the process environment; clear them afterwards.
	t.Setenv("NOTARY_NAMESPACE", "")
	os.Unsetenv("NOTARY_NAMESPACE")
	t.Setenv("NOTARY_RATE_BURST", "")
	os.Unsetenv("NOTARY_RATE_BURST")

	cfg, err := LoadEnv(filepath.Join(dir, "missing"), path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Namespace)
	assert.Equal(t, 7, cfg.RateBurst)

	// Real environment variables win over the file.
	t.Setenv("NOTARY_NAMESPACE", "from-env")
	cfg, err = LoadEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Namespace)
}

func TestEnvConfig_ResolveAuthority(t *testing.T) {
	kp := testKeypair(t, 4)

	id, err := EnvConfig{Authority: testSubject(1), Secret: "ignored"}.ResolveAuthority()
	require.NoError(t, err)
	assert.Equal(t, testSubject(1), id)

	id, err = EnvConfig{Secret: base58.Encode(kp.SecretBytes())}.ResolveAuthority()
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), id)

	_, err = EnvConfig{}.ResolveAuthority()
	assert.Error(t, err)

	_, err = EnvConfig{Secret: "garbage"}.Keypair()
	assert.Error(t, err)
}

func TestEnvConfig_OpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for name, cfg := range map[string]EnvConfig{
		"memory":  {Store: StoreMemory},
		"default": {},
		"file":    {Store: StoreFile, StorePath: filepath.Join(dir, "accounts")},
		"sqlite":  {Store: StoreSQLite, StorePath: filepath.Join(dir, "nested", "notary.db")},
	} {
		t.Run(name, func(t *testing.T) {
			if cfg.Store == StoreFile {
				require.NoError(t, os.MkdirAll(cfg.StorePath, 0o700))
			}
			st, err := cfg.OpenStore(ctx)
			require.NoError(t, err)
			defer st.Close()
			testStoreContract(t, st)
		})
	}

	for name, cfg := range map[string]EnvConfig{
		"file without path":   {Store: StoreFile},
		"sqlite without path": {Store: StoreSQLite},
		"unknown":             {Store: "etcd"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := cfg.OpenStore(ctx)
			assert.Error(t, err)
		})
	}
}

func TestEnvConfig_Treasury(t *testing.T) {
	ctx := context.Background()
	authority := testSubject(1)
	rent := RentExemptMinimum(RecordSize)

	tr, err := EnvConfig{}.Treasury(authority)
	require.NoError(t, err)
	assert.IsType(t, FreeTreasury{}, tr)

	tr, err = EnvConfig{Metered: true, InitialBalance: rent}.Treasury(authority)
	require.NoError(t, err)
	mt, ok := tr.(*MemoryTreasury)
	require.True(t, ok)
	assert.Equal(t, rent, mt.Balance(authority))
	require.NoError(t, tr.Debit(ctx, authority, rent))
	assert.ErrorIs(t, tr.Debit(ctx, authority, 1), ErrInsufficientFunds)

	_, err = EnvConfig{}.OpenLedger(authority)
	assert.Error(t, err)
}

func TestEnvConfig_TreasuryLedger(t *testing.T) {
	ctx := context.Background()
	authority := testSubject(1)
	rent := RentExemptMinimum(RecordSize)
	cfg := EnvConfig{Metered: true, InitialBalance: rent, TreasuryPath: filepath.Join(t.TempDir(), "ledger.json")}

	tr, err := cfg.Treasury(authority)
	require.NoError(t, err)
	require.IsType(t, &LedgerTreasury{}, tr)
	require.NoError(t, tr.Debit(ctx, authority, rent))

	// Reopening does not refill the authority.
	tr, err = cfg.Treasury(authority)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Debit(ctx, authority, 1), ErrInsufficientFunds)
}

func TestEnvConfig_Builders(t *testing.T) {
	cfg := EnvConfig{
		ProgramID:     testSubject(3),
		Namespace:     "integrity",
		RateLimit:     2.5,
		RateBurst:     4,
		MaxRequestAge: time.Minute,
	}
	nc := cfg.NotaryConfig(testSubject(1), quietLogger(), nil)
	assert.Equal(t, testSubject(1), nc.Authority)
	assert.Equal(t, testSubject(3), nc.ProgramID)
	assert.Equal(t, "integrity", nc.Namespace)
	assert.Equal(t, time.Minute, nc.MaxRequestAge)

	sc := cfg.ServerConfig(quietLogger(), nil)
	assert.Equal(t, rate.Limit(2.5), sc.RateLimit)
	assert.Equal(t, 4, sc.RateBurst)
}
