package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Harvest metrics
var (
	LogsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlists_logs_fetched_total",
			Help: "Factory logs returned by the log source",
		},
		[]string{"network", "protocol"},
	)

	PairsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlists_pairs_decoded_total",
			Help: "Pair records decoded from factory logs",
		},
		[]string{"network", "protocol"},
	)

	MalformedLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlists_malformed_logs_total",
			Help: "Factory logs skipped because they did not match the layout",
		},
		[]string{"network", "protocol"},
	)

	LastBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokenlists_last_block",
			Help: "Last block covered by a harvest run",
		},
		[]string{"network", "protocol"},
	)
)

// Registry metrics
var (
	TokensAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlists_tokens_added_total",
			Help: "Tokens appended to the registry",
		},
		[]string{"network"},
	)

	TokenFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenlists_token_fetch_failures_total",
			Help: "Tokens whose metadata could not be read",
		},
		[]string{"network"},
	)

	RegistrySize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tokenlists_registry_size",
			Help: "Entries in the token registry after a run",
		},
		[]string{"network"},
	)
)

// RPCRetries counts retried RPC operations by kind ("logs" or "metadata").
var RPCRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tokenlists_rpc_retries_total",
		Help: "RPC operations retried after a transient failure",
	},
	[]string{"operation"},
)

// WriteTextfile dumps the default registry in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
