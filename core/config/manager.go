package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	aserrors "github.com/adalundhe/aser/core/errors"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	configPtr unsafe.Pointer
	path      string
	watchers  []func(*Config)
	watcherMu sync.RWMutex
	stopWatch chan struct{}
	watchOnce sync.Once
}

type Config struct {
	Replay    ReplayConfig    `yaml:"replay"`
	Simulate  SimulateConfig  `yaml:"simulate"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type ReplayConfig struct {
	K              int    `yaml:"k"`
	NSmpCls        int    `yaml:"n_smp_cls"`
	CandidateSize  int    `yaml:"candidate_size"`
	Policy         string `yaml:"policy"`
	MemorySize     int    `yaml:"memory_size"`
	BatchSize      int    `yaml:"batch_size"`
	ChunkSize      int    `yaml:"chunk_size"`
	ExtractWorkers int    `yaml:"extract_workers"`
	Seed           uint64 `yaml:"seed"`
}

type SimulateConfig struct {
	Classes         int     `yaml:"classes"`
	SamplesPerClass int     `yaml:"samples_per_class"`
	StreamBatch     int     `yaml:"stream_batch"`
	Steps           int     `yaml:"steps"`
	InputDim        int     `yaml:"input_dim"`
	FeatureDim      int     `yaml:"feature_dim"`
	Noise           float64 `yaml:"noise"`
	ForwardCost     float64 `yaml:"forward_cost"`
}

type TelemetryConfig struct {
	HistoryPath string `yaml:"history_path"`
	Metrics     bool   `yaml:"metrics"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// NewManager creates a manager over the YAML file at path. An empty path
// means defaults and environment only.
func NewManager(path string) *Manager {
	m := &Manager{
		path:      path,
		stopWatch: make(chan struct{}),
	}
	cfg := DefaultConfig()
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Replay: ReplayConfig{
			K:              3,
			NSmpCls:        3,
			CandidateSize:  50,
			Policy:         "asvm",
			MemorySize:     500,
			BatchSize:      16,
			ChunkSize:      64,
			ExtractWorkers: 1,
			Seed:           1,
		},
		Simulate: SimulateConfig{
			Classes:         5,
			SamplesPerClass: 400,
			StreamBatch:     4,
			Steps:           500,
			InputDim:        16,
			FeatureDim:      32,
			Noise:           1.0,
			ForwardCost:     1.0,
		},
		Telemetry: TelemetryConfig{},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

// Path returns the watched config file path.
func (m *Manager) Path() string {
	return m.path
}

// Load rebuilds the config from defaults, the YAML file and ASER_*
// environment variables, validates it and publishes it to watchers. An
// invalid config leaves the current one in place.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if err := m.loadYAMLFile(m.path, cfg); err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	if err := applyEnvironment(cfg); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvironment overlays ASER_* variables onto cfg. A malformed numeric
// value is an InvalidConfig error rather than being skipped.
func applyEnvironment(cfg *Config) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"ASER_K", &cfg.Replay.K},
		{"ASER_N_SMP_CLS", &cfg.Replay.NSmpCls},
		{"ASER_CANDIDATE_SIZE", &cfg.Replay.CandidateSize},
		{"ASER_MEMORY_SIZE", &cfg.Replay.MemorySize},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return envError(e.name, v, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("ASER_SEED"); v != "" {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return envError("ASER_SEED", v, err)
		}
		cfg.Replay.Seed = n
	}
	if v := os.Getenv("ASER_NOISE"); v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return envError("ASER_NOISE", v, err)
		}
		cfg.Simulate.Noise = f
	}
	if v := os.Getenv("ASER_POLICY"); v != "" {
		cfg.Replay.Policy = v
	}
	if v := os.Getenv("ASER_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := os.Getenv("ASER_HISTORY_PATH"); v != "" {
		cfg.Telemetry.HistoryPath = v
	}
	if v := os.Getenv("ASER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	return nil
}

func envError(name, value string, err error) error {
	return aserrors.Wrap(aserrors.KindInvalidConfig, "config.Load",
		fmt.Sprintf("%s=%q is not a valid number", name, value), err)
}

// Validate rejects settings replay selection cannot run with.
func (c *Config) Validate() error {
	r := c.Replay
	switch {
	case r.CandidateSize < 1:
		return aserrors.Newf(aserrors.KindInvalidConfig, "config.Validate",
			"candidate_size=%d must be >= 1", r.CandidateSize)
	case r.K < 1 || (r.CandidateSize > 1 && r.K >= r.CandidateSize):
		return aserrors.Newf(aserrors.KindInvalidK, "config.Validate",
			"k=%d must satisfy 1 <= k < candidate_size=%d", r.K, r.CandidateSize)
	case r.NSmpCls < 1:
		return aserrors.Newf(aserrors.KindInvalidConfig, "config.Validate",
			"n_smp_cls=%d must be >= 1", r.NSmpCls)
	case r.MemorySize < 1:
		return aserrors.Newf(aserrors.KindInvalidConfig, "config.Validate",
			"memory_size=%d must be >= 1", r.MemorySize)
	case r.BatchSize < 1:
		return aserrors.Newf(aserrors.KindInvalidConfig, "config.Validate",
			"batch_size=%d must be >= 1", r.BatchSize)
	case r.ChunkSize < 1:
		return aserrors.Newf(aserrors.KindInvalidConfig, "config.Validate",
			"chunk_size=%d must be >= 1", r.ChunkSize)
	case r.ExtractWorkers < 1:
		return aserrors.Newf(aserrors.KindInvalidConfig, "config.Validate",
			"extract_workers=%d must be >= 1", r.ExtractWorkers)
	}
	return nil
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}

func (m *Manager) Close() error {
	m.watchOnce.Do(func() {
		close(m.stopWatch)
	})
	return nil
}
