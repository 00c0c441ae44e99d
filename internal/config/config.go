package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/cascade"
	"main/internal/executor"
	"main/internal/risk"
	"main/internal/session"
)

// Mode selects which broker backs the session.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

const (
	defaultInitialCash = 100_000
	defaultMetricsAddr = ":9187"
	defaultHistoryPath = "data/history.db"
	defaultJournalPath = "data/journal.jsonl"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Mode        Mode                `json:"mode"`
	InitialCash float64             `json:"initialCash"`
	Watchlist   []string            `json:"watchlist"`
	Risk        risk.Limits         `json:"risk"`
	Cascade     cascade.Config      `json:"cascade"`
	Executor    executor.Config     `json:"executor"`
	Session     session.Config      `json:"session"`
	Paper       broker.PaperConfig  `json:"paper"`
	Chaos       *broker.FlakyConfig `json:"chaos,omitempty"`
	HistoryPath string              `json:"historyPath"`
	JournalPath string              `json:"journalPath"`
	MetricsAddr string              `json:"metricsAddr"`
	StreamURL   string              `json:"streamUrl"`
	Pyroscope   PyroscopeConfig     `json:"pyroscope"`
}

// PyroscopeConfig enables continuous profiling when a server address
// is present.
type PyroscopeConfig struct {
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Mode        Mode
	InitialCash float64
	Watchlist   []string
	Risk        risk.Limits
	Cascade     cascade.Config
	Executor    executor.Config
	Session     session.Config
	Paper       broker.PaperConfig
	Chaos       *broker.FlakyConfig
	HistoryPath string
	JournalPath string
	MetricsAddr string
	StreamURL   string
	Pyroscope   PyroscopeConfig
}

// Load reads a JSON config file, applies environment overrides, and
// validates the result. The returned snapshot is immutable for the
// lifetime of the session.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config file").With("path", path)
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse config file").With("path", path)
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	mode := Mode(getString("TRADER_MODE", string(cfg.Mode)))
	if mode == "" {
		mode = ModeSandbox
	}
	if mode != ModeSandbox && mode != ModeLive {
		return Loaded{}, errors.Errorf("unknown mode %q", mode)
	}

	cash := cfg.InitialCash
	if cash == 0 {
		cash = defaultInitialCash
	}
	if cash < 0 {
		return Loaded{}, errors.New("initialCash must be positive")
	}

	if cfg.Chaos != nil {
		if err := cfg.Chaos.Validate(); err != nil {
			return Loaded{}, errors.Wrap(err, "chaos config")
		}
	}

	loaded := Loaded{
		Mode:        mode,
		InitialCash: cash,
		Watchlist:   cfg.Watchlist,
		Risk:        cfg.Risk,
		Cascade:     cfg.Cascade,
		Executor:    cfg.Executor,
		Session:     cfg.Session,
		Paper:       cfg.Paper,
		Chaos:       cfg.Chaos,
		HistoryPath: getString("TRADER_HISTORY_PATH", orDefault(cfg.HistoryPath, defaultHistoryPath)),
		JournalPath: getString("TRADER_JOURNAL_PATH", orDefault(cfg.JournalPath, defaultJournalPath)),
		MetricsAddr: getString("TRADER_METRICS_ADDR", orDefault(cfg.MetricsAddr, defaultMetricsAddr)),
		StreamURL:   getString("TRADER_STREAM_URL", cfg.StreamURL),
		Pyroscope:   cfg.Pyroscope,
	}
	if loaded.Mode == ModeLive && loaded.StreamURL == "" {
		return Loaded{}, errors.New("live mode requires a stream url")
	}
	return loaded, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

// MonitorEvery resolves the risk monitor cadence with an env escape
// hatch for operators that want a tighter loop.
func (l Loaded) MonitorEvery() (time.Duration, error) {
	seconds, err := getInt("TRADER_MONITOR_SECONDS", 0)
	if err != nil {
		return 0, err
	}
	if seconds > 0 {
		return time.Duration(seconds) * time.Second, nil
	}
	return l.Risk.MonitorEvery, nil
}
