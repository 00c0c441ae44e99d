package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{"watchlist":["SBER","GAZP"]}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeSandbox, cfg.Mode)
	require.EqualValues(t, 100_000, cfg.InitialCash)
	require.Equal(t, []string{"SBER", "GAZP"}, cfg.Watchlist)
	require.Equal(t, "data/history.db", cfg.HistoryPath)
	require.Equal(t, "data/journal.jsonl", cfg.JournalPath)
	require.Equal(t, ":9187", cfg.MetricsAddr)
	require.Nil(t, cfg.Chaos)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `{
		"mode": "sandbox",
		"initialCash": 250000,
		"watchlist": ["SBER"],
		"risk": {"maxLeverage": 2.0, "maxDrawdown": 0.25},
		"chaos": {"seed": 7, "timeoutRate": 0.1},
		"historyPath": "/tmp/h.db",
		"metricsAddr": ":9200"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.EqualValues(t, 250_000, cfg.InitialCash)
	require.EqualValues(t, 2.0, cfg.Risk.MaxLeverage)
	require.EqualValues(t, 0.25, cfg.Risk.MaxDrawdown)
	require.NotNil(t, cfg.Chaos)
	require.EqualValues(t, 0.1, cfg.Chaos.TimeoutRate)
	require.Equal(t, "/tmp/h.db", cfg.HistoryPath)
	require.Equal(t, ":9200", cfg.MetricsAddr)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"historyPath":"/tmp/file.db"}`)
	t.Setenv("TRADER_HISTORY_PATH", "/var/data/history.db")
	t.Setenv("TRADER_METRICS_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/data/history.db", cfg.HistoryPath)
	require.Equal(t, ":9999", cfg.MetricsAddr)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeConfig(t, `{"mode":"replay"}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadLiveRequiresStreamURL(t *testing.T) {
	path := writeConfig(t, `{"mode":"live"}`)
	_, err := Load(path)
	require.Error(t, err)

	t.Setenv("TRADER_STREAM_URL", "wss://example.test/stream")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ModeLive, cfg.Mode)
	require.Equal(t, "wss://example.test/stream", cfg.StreamURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestMonitorEveryEnvEscape(t *testing.T) {
	path := writeConfig(t, `{"risk":{"monitorEvery":60000000000}}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	every, err := cfg.MonitorEvery()
	require.NoError(t, err)
	require.Equal(t, time.Minute, every)

	t.Setenv("TRADER_MONITOR_SECONDS", "5")
	every, err = cfg.MonitorEvery()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, every)

	t.Setenv("TRADER_MONITOR_SECONDS", "nope")
	_, err = cfg.MonitorEvery()
	require.Error(t, err)
}
