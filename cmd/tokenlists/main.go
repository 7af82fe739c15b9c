package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Mugen-Finance/token-lists/internal/indexer"
)

func main() {
	root := &cobra.Command{
		Use:          "tokenlists",
		Short:        "DEX factory pair harvester and token registry",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	pairsCmd := &cobra.Command{
		Use:   "pairs",
		Short: "Fetch and decode factory logs into the pair artifact",
		RunE:  runHarvest(indexer.Options{WritePairs: true}),
	}
	addTargetFlags(pairsCmd)
	root.AddCommand(pairsCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Fetch factory logs and add unseen tokens to the registry",
		RunE:  runHarvest(indexer.Options{UpdateRegistry: true}),
	}
	addTargetFlags(tokensCmd)
	addRegistryFlags(tokensCmd)
	tokensCmd.Flags().StringSlice("address", nil, "extra token addresses to reconcile (comma-separated)")
	root.AddCommand(tokensCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Write the pair artifact and update the registry",
		RunE:  runHarvest(indexer.Options{WritePairs: true, UpdateRegistry: true}),
	}
	addTargetFlags(syncCmd)
	addRegistryFlags(syncCmd)
	root.AddCommand(syncCmd)

	protocolsCmd := &cobra.Command{
		Use:   "protocols",
		Short: "List the known factory event layouts",
		RunE:  runProtocols,
	}
	root.AddCommand(protocolsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("rpc-env", "", "environment variable holding the RPC URL (default <NETWORK>_RPC_URL)")
	cmd.Flags().String("network", "", "network name, used for output paths (e.g. arbitrum, optimism)")
	cmd.Flags().String("protocol", "", "factory protocol (see the protocols command)")
	cmd.Flags().String("factory", "", "factory contract address")
	cmd.Flags().String("event", "", "override the layout's event signature")
	cmd.Flags().Uint64("from", 0, "start block (inclusive)")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per eth_getLogs request")
	cmd.Flags().String("pairs-out", "", "pair artifact path (default data/<network>/<protocol>_pairs.json)")
	cmd.Flags().String("errors-out", "", "decode errors JSONL path (default data/<network>/<protocol>_decode_errors.jsonl)")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts for transient RPC failures")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().Duration("rpc-timeout", 30*time.Second, "HTTP timeout per RPC request")
	cmd.Flags().String("pg-dsn", "", "optional Postgres DSN to mirror results into")
	cmd.Flags().String("metrics-file", "", "optional Prometheus textfile output path")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addRegistryFlags(cmd *cobra.Command) {
	cmd.Flags().String("registry", "", "token registry path (default data/<network>/tokens.json)")
	cmd.Flags().Int("workers", 8, "concurrent metadata reads (1-64)")
	cmd.Flags().Float64("rpc-rate", 0, "metadata RPC calls per second, 0 means unlimited")
	cmd.Flags().Bool("legacy-containment", false, "treat addresses found anywhere in the raw registry text as known")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
