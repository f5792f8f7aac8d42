package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "transaction-events", cfg.IngressTopic)
	require.Equal(t, "ledger-events", cfg.LedgerTopic)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyWindow())
	require.Equal(t, 100*time.Millisecond, cfg.OutboxPollInterval())
	require.Equal(t, 5*time.Second, cfg.OutboxPublishTimeout())
	require.True(t, cfg.IsDevelopment())
	require.False(t, cfg.IsProduction())
}

func TestLoadSkipsDotenvInProduction(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LOG_LEVEL=debug\n"), 0o600))
	t.Chdir(dir)
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("LOG_LEVEL")

	t.Setenv("ENVIRONMENT", "production")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, "info", cfg.LogLevel)

	// Outside production the same file is picked up.
	t.Setenv("ENVIRONMENT", "development")
	cfg, err = Load()
	require.NoError(t, err)
	require.True(t, cfg.IsDevelopment())
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# local overrides\n" +
		"\n" +
		"export DOTENV_TEST_EXPORTED=from-file\n" +
		"DOTENV_TEST_QUOTED=\"quoted value\"\n" +
		"DOTENV_TEST_PRESET=from-file\n" +
		"not a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("DOTENV_TEST_EXPORTED", "")
	t.Setenv("DOTENV_TEST_QUOTED", "")
	t.Setenv("DOTENV_TEST_PRESET", "from-env")

	require.NoError(t, LoadEnvFile(path))

	require.Equal(t, "from-file", os.Getenv("DOTENV_TEST_EXPORTED"))
	require.Equal(t, "quoted value", os.Getenv("DOTENV_TEST_QUOTED"))
	// Real environment wins over the file.
	require.Equal(t, "from-env", os.Getenv("DOTENV_TEST_PRESET"))
}

func TestLoadEnvFileIfExistsMissingFile(t *testing.T) {
	require.NoError(t, LoadEnvFileIfExists(filepath.Join(t.TempDir(), "nope.env")))
}

func TestBrokerList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "kafka-1:9092, kafka-2:9092 ,kafka-3:9092"}
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092", "kafka-3:9092"}, cfg.BrokerList())
}
