package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Mugen-Finance/token-lists/internal/dex"
	"github.com/Mugen-Finance/token-lists/internal/model"
)

// ErrInvalidConfig is returned for configuration that cannot be run.
var ErrInvalidConfig = errors.New("invalid config")

const (
	minWorkers = 1
	maxWorkers = 64
)

// Config holds configuration values loaded from flags, env, or config file.
// The top-level target fields are defaults for every entry of Targets; when
// Targets is empty they describe the single target to run.
type Config struct {
	RPCURL            string
	RPCEnv            string
	Network           string
	Protocol          string
	Factory           string
	Event             string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Registry          string
	PairsOut          string
	ErrorsOut         string
	Workers           int
	MaxRetries        int
	RetryBackoff      time.Duration
	RPCTimeout        time.Duration
	RPCRate           float64
	LegacyContainment bool
	PGDSN             string
	MetricsFile       string
	LogLevel          string
	Targets           []TargetConfig
	Layouts           []LayoutConfig
}

// TargetConfig is one factory entry of the targets list. Empty strings and
// unset block numbers inherit the top-level value.
type TargetConfig struct {
	Network   string  `mapstructure:"network"`
	RPC       string  `mapstructure:"rpc"`
	RPCEnv    string  `mapstructure:"rpc-env"`
	Protocol  string  `mapstructure:"protocol"`
	Factory   string  `mapstructure:"factory"`
	Event     string  `mapstructure:"event"`
	From      *uint64 `mapstructure:"from"`
	To        *uint64 `mapstructure:"to"`
	Registry  string  `mapstructure:"registry"`
	PairsOut  string  `mapstructure:"pairs-out"`
	ErrorsOut string  `mapstructure:"errors-out"`
}

// LayoutConfig declares a factory event layout beyond the built-in ones.
// Omitted slots are absent from the event.
type LayoutConfig struct {
	Protocol        string `mapstructure:"protocol"`
	Kind            string `mapstructure:"kind"`
	Signature       string `mapstructure:"signature"`
	Topics          int    `mapstructure:"topics"`
	FeeTopic        int    `mapstructure:"fee-topic"`
	PairSlot        int    `mapstructure:"pair-slot"`
	StableSlot      *int   `mapstructure:"stable-slot"`
	TickSpacingSlot *int   `mapstructure:"tick-spacing-slot"`
}

// Target is a fully resolved factory to harvest.
type Target struct {
	Network        string
	RPCURL         string
	Factory        common.Address
	Layout         dex.Layout
	FromBlock      uint64
	ToBlock        uint64
	RegistryPath   string
	PairsPath      string
	ErrorsPath     string
	CheckpointPath string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOKENLISTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("workers", 8)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("rpc-timeout", 30*time.Second)
	v.SetDefault("rpc-rate", float64(0))
	v.SetDefault("legacy-containment", false)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		RPCEnv:            v.GetString("rpc-env"),
		Network:           v.GetString("network"),
		Protocol:          v.GetString("protocol"),
		Factory:           v.GetString("factory"),
		Event:             v.GetString("event"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Registry:          v.GetString("registry"),
		PairsOut:          v.GetString("pairs-out"),
		ErrorsOut:         v.GetString("errors-out"),
		Workers:           v.GetInt("workers"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		RPCTimeout:        v.GetDuration("rpc-timeout"),
		RPCRate:           v.GetFloat64("rpc-rate"),
		LegacyContainment: v.GetBool("legacy-containment"),
		PGDSN:             v.GetString("pg-dsn"),
		MetricsFile:       v.GetString("metrics-file"),
		LogLevel:          v.GetString("log-level"),
	}

	if err := v.UnmarshalKey("targets", &cfg.Targets); err != nil {
		return Config{}, fmt.Errorf("%w: targets: %w", ErrInvalidConfig, err)
	}
	if err := v.UnmarshalKey("layouts", &cfg.Layouts); err != nil {
		return Config{}, fmt.Errorf("%w: layouts: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}

// LayoutTable builds the decoder layout table including configured layouts.
func (c Config) LayoutTable() (*dex.LayoutTable, error) {
	extra := make([]dex.Layout, 0, len(c.Layouts))
	for _, lc := range c.Layouts {
		extra = append(extra, lc.Layout())
	}
	table, err := dex.NewLayoutTable(extra)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return table, nil
}

// Layout converts the entry into a decoder layout.
func (lc LayoutConfig) Layout() dex.Layout {
	slot := func(p *int) int {
		if p == nil {
			return dex.NoSlot
		}
		return *p
	}
	return dex.Layout{
		Protocol:        lc.Protocol,
		Kind:            model.PairKind(strings.ToLower(lc.Kind)),
		Signature:       lc.Signature,
		Topics:          lc.Topics,
		FeeTopic:        lc.FeeTopic,
		PairSlot:        lc.PairSlot,
		StableSlot:      slot(lc.StableSlot),
		TickSpacingSlot: slot(lc.TickSpacingSlot),
	}
}

// Validate checks the run-wide settings.
func (c Config) Validate() error {
	if c.BatchSize == 0 {
		return fmt.Errorf("%w: batch size must be greater than zero", ErrInvalidConfig)
	}
	if c.Workers < minWorkers || c.Workers > maxWorkers {
		return fmt.Errorf("%w: workers must be between %d and %d, got %d", ErrInvalidConfig, minWorkers, maxWorkers, c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	if c.RPCRate < 0 {
		return fmt.Errorf("%w: rpc rate must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ResolveTargets validates the configuration and expands it into targets.
// Every target is checked before any is returned.
func (c Config) ResolveTargets(table *dex.LayoutTable) ([]Target, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	entries := c.Targets
	if len(entries) == 0 {
		entries = []TargetConfig{{}}
	}

	targets := make([]Target, 0, len(entries))
	for i, entry := range entries {
		target, err := c.resolve(entry, table)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (c Config) resolve(entry TargetConfig, table *dex.LayoutTable) (Target, error) {
	network := strings.ToLower(strings.TrimSpace(firstNonEmpty(entry.Network, c.Network)))
	protocol := strings.ToLower(strings.TrimSpace(firstNonEmpty(entry.Protocol, c.Protocol)))
	factory := firstNonEmpty(entry.Factory, c.Factory)
	event := firstNonEmpty(entry.Event, c.Event)
	from := override(entry.From, c.FromBlock)
	to := override(entry.To, c.ToBlock)

	if network == "" {
		return Target{}, fmt.Errorf("%w: network is required", ErrInvalidConfig)
	}

	rpcURL := firstNonEmpty(entry.RPC, c.RPCURL)
	if rpcURL == "" {
		rpcEnv := firstNonEmpty(entry.RPCEnv, c.RPCEnv, defaultRPCEnv(network))
		rpcURL = os.Getenv(rpcEnv)
		if rpcURL == "" {
			return Target{}, fmt.Errorf("%w: rpc url is required (set rpc or %s)", ErrInvalidConfig, rpcEnv)
		}
	}

	if protocol == "" {
		return Target{}, fmt.Errorf("%w: protocol is required", ErrInvalidConfig)
	}
	layout, ok := table.Lookup(protocol)
	if !ok {
		return Target{}, fmt.Errorf("%w: unknown protocol %q", ErrInvalidConfig, protocol)
	}
	layout = layout.WithSignature(strings.TrimSpace(event))
	if err := layout.Validate(); err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if !common.IsHexAddress(strings.TrimSpace(factory)) {
		return Target{}, fmt.Errorf("%w: invalid factory address %q", ErrInvalidConfig, factory)
	}
	if to != 0 && to < from {
		return Target{}, fmt.Errorf("%w: to block %d is before from block %d", ErrInvalidConfig, to, from)
	}

	dir := filepath.Join("data", network)
	pairsPath := firstNonEmpty(entry.PairsOut, c.PairsOut, filepath.Join(dir, protocol+"_pairs.json"))
	return Target{
		Network:        network,
		RPCURL:         rpcURL,
		Factory:        common.HexToAddress(strings.TrimSpace(factory)),
		Layout:         layout,
		FromBlock:      from,
		ToBlock:        to,
		RegistryPath:   firstNonEmpty(entry.Registry, c.Registry, filepath.Join(dir, "tokens.json")),
		PairsPath:      pairsPath,
		ErrorsPath:     firstNonEmpty(entry.ErrorsOut, c.ErrorsOut, filepath.Join(dir, protocol+"_decode_errors.jsonl")),
		CheckpointPath: CheckpointPath(pairsPath),
	}, nil
}

// defaultRPCEnv names the environment variable holding a network's RPC URL,
// e.g. ARBITRUM_RPC_URL.
func defaultRPCEnv(network string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(network))
	return name + "_RPC_URL"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func override(value *uint64, fallback uint64) uint64 {
	if value != nil {
		return *value
	}
	return fallback
}

// CheckpointPath is the resume file kept next to a pair artifact, so each
// artifact resumes only from its own progress.
func CheckpointPath(pairsPath string) string {
	return strings.TrimSuffix(pairsPath, filepath.Ext(pairsPath)) + ".checkpoint.json"
}
