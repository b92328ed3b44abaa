package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/stackforge/internal/catalog"
	"github.com/yairfalse/stackforge/internal/config"
	"github.com/yairfalse/stackforge/internal/daemon"
	"github.com/yairfalse/stackforge/internal/engine"
	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/pkg/account"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `
[provisioning]
dry_run = true

[storage]
driver = "bolt"
path = "` + filepath.ToSlash(filepath.Join(dir, "accounts.db")) + `"

[journal]
dir = "` + filepath.ToSlash(filepath.Join(dir, "journal")) + `"

[log]
level = "error"
format = "json"
`
	path := filepath.Join(dir, "stackforge.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, debug = "", false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// ══════════════════════════════════════════════════════════════════════
// Logger
// ══════════════════════════════════════════════════════════════════════

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "v", line["k"])
}

func TestNewLogger_DebugOverridesLevel(t *testing.T) {
	log, err := newLogger(&bytes.Buffer{}, config.LogConfig{Level: "error", Format: "json"}, true)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())
}

func TestNewLogger_AutoOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, config.LogConfig{Level: "info", Format: "auto"}, false)
	require.NoError(t, err)
	log.Info().Msg("x")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := newLogger(&bytes.Buffer{}, config.LogConfig{Level: "loud", Format: "json"}, false)
	assert.Error(t, err)
}

// ══════════════════════════════════════════════════════════════════════
// Wiring
// ══════════════════════════════════════════════════════════════════════

func TestNewRegistry_DryRunUsesSandbox(t *testing.T) {
	c := config.Default()
	c.Provisioning.DryRun = true

	reg, closer, err := newRegistry(context.Background(), c, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, []string{"aws=sandbox", "gcp=sandbox", "third_party=sandbox"}, reg.Bindings())
}

func TestNewRegistry_LiveModeWithoutGCPProject(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
	c := config.Default()
	c.Provisioning.DryRun = false

	reg, closer, err := newRegistry(context.Background(), c, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, []string{"aws=aws", "third_party=sandbox"}, reg.Bindings())
	_, ok := reg.ForProvider(account.ProviderGCP)
	assert.False(t, ok)
}

func TestNewRegistry_MinIOOverride(t *testing.T) {
	c := config.Default()
	c.Provisioning.DryRun = true
	c.MinIO.Enabled = true
	c.MinIO.Endpoint = "localhost:9000"
	c.MinIO.AccessKey = "minioadmin"
	c.MinIO.SecretKey = "minioadmin"

	reg, _, err := newRegistry(context.Background(), c, zerolog.Nop())
	require.NoError(t, err)
	assert.Contains(t, reg.Bindings(), "minio=minio")
}

func TestBuildStack_ProvisionsThroughSandbox(t *testing.T) {
	c, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	c.OTEL.Prometheus.Enabled = new(bool)

	ctx := context.Background()
	s, err := buildStack(ctx, c, zerolog.Nop())
	require.NoError(t, err)

	res, err := s.engine.Provision(ctx, engine.Request{
		StartupName:  "Acme",
		FounderEmail: "ada@acme.io",
		FounderName:  "Ada",
		Services:     []string{"aws_ec2", "s3"},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuccess, res.Status)
	require.NotNil(t, s.journal)
	assert.Positive(t, s.journal.Sequence())
	require.NoError(t, s.Close(ctx))

	entries, err := journal.History(c.Journal.Dir, journalConfig(c.Journal), res.Account.Key)
	require.NoError(t, err)
	assert.Equal(t, journal.EntryAccountRequested, entries[0].Type)
}

func TestBuildStack_JournalDisabled(t *testing.T) {
	c, err := config.Load(writeConfig(t))
	require.NoError(t, err)
	c.Journal.Enabled = new(bool)

	s, err := buildStack(context.Background(), c, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = s.Close(context.Background()) }()
	assert.Nil(t, s.journal)
	_, err = os.Stat(c.Journal.Dir)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupActor_StopsOnInterrupt(t *testing.T) {
	execute, interrupt := cleanupActor(config.JournalConfig{Dir: t.TempDir(), RetentionDays: 1}, time.Hour, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- execute() }()
	interrupt(nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup actor did not stop")
	}
}

// ══════════════════════════════════════════════════════════════════════
// Commands
// ══════════════════════════════════════════════════════════════════════

func TestRecommendCommand_JSON(t *testing.T) {
	out, err := execute(t, "recommend", "--use-case", "data_analytics", "--stage", "growth", "--cloud", "gcp", "--json")
	require.NoError(t, err)

	var set catalog.RecommendationSet
	require.NoError(t, json.Unmarshal([]byte(out), &set))
	want := catalog.Default().Recommend(catalog.UseCaseDataAnalytics, catalog.StageGrowth, catalog.PreferenceGCP)
	assert.Equal(t, want.IDs(), set.IDs())
}

func TestRecommendCommand_Table(t *testing.T) {
	out, err := execute(t, "recommend", "--use-case", "web_app", "--stage", "startup", "--cloud", "aws", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "SERVICE")
	for _, id := range catalog.Default().Recommend(catalog.UseCaseWebApp, catalog.StageStartup, catalog.PreferenceAWS).IDs() {
		assert.Contains(t, out, id)
	}
}

func TestProvisionAndAccountsCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "-c", cfgPath, "provision",
		"--name", "Acme", "--email", "ada@acme.io", "--founder", "Ada",
		"--cloud", "aws", "--services", "aws_ec2,s3", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "Stackforge-Acme")
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "Overall: success")

	out, err = execute(t, "-c", cfgPath, "provision",
		"--name", "Acme", "--email", "ada@acme.io", "--founder", "Ada",
		"--cloud", "aws", "--services", "aws_ec2,s3", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "reused")
	assert.Contains(t, out, "skipped")

	out, err = execute(t, "-c", cfgPath, "accounts", "list", "--json")
	require.NoError(t, err)
	var accounts []account.Account
	require.NoError(t, json.Unmarshal([]byte(out), &accounts))
	require.Len(t, accounts, 1)
	key := string(accounts[0].Key)

	out, err = execute(t, "-c", cfgPath, "accounts", "show", key, "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "aws_ec2")

	_, err = execute(t, "-c", cfgPath, "accounts", "reset", key)
	assert.ErrorIs(t, err, engine.ErrAccountActive)

	out, err = execute(t, "-c", cfgPath, "journal", "history", key)
	require.NoError(t, err)
	assert.Contains(t, out, string(journal.EntryAccountCreated))
	assert.Contains(t, out, string(journal.EntrySnapshotSaved))
}

func TestInvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\ndriver = \"sqlite\"\n"), 0o600))

	_, err := execute(t, "-c", path, "recommend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

type idleRefresher struct{}

func (idleRefresher) Accounts(context.Context) ([]*account.Account, error) { return nil, nil }
func (idleRefresher) Refresh(context.Context, account.Key) (*account.Account, error) {
	return nil, nil
}

func TestDaemonActor_StopsOnInterrupt(t *testing.T) {
	d, err := daemon.NewDaemon(daemon.Config{Interval: time.Hour}, idleRefresher{}, nil, zerolog.Nop())
	require.NoError(t, err)

	execute, interrupt := daemonActor(d)
	done := make(chan error, 1)
	go func() { done <- execute() }()
	require.Eventually(t, func() bool { return d.RunCount() >= 1 }, time.Second, 10*time.Millisecond)
	interrupt(nil)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon actor did not stop")
	}
}
