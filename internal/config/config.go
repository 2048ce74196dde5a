// Package config loads the pipeline's GlobalConfig from a JSON document
// (the wire shape is mandated by the external interface, hence plain
// encoding/json rather than a templating/marshal library) and applies
// environment-variable overrides, the way minis/50-mini-service-all-features's
// internal/config layers env vars on top of a file — just JSON instead
// of YAML, since that's the documented file format here.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
)

// ContractSpec names one contract of interest: its category (for decoder
// selection) and the set of event kinds the processor should persist
// derived rows for.
type ContractSpec struct {
	Address common.Address      `json:"address"`
	Symbol  string               `json:"symbol"`
	Category chainmodel.Category `json:"category"`
	Events   []chainmodel.EventKind `json:"events"`
}

// Equal compares two specs by (address, symbol, category, events) with
// case-insensitive address comparison, per spec's data model invariant.
func (c ContractSpec) Equal(o ContractSpec) bool {
	if !strings.EqualFold(c.Address.Hex(), o.Address.Hex()) {
		return false
	}
	if c.Symbol != o.Symbol || c.Category != o.Category {
		return false
	}
	if len(c.Events) != len(o.Events) {
		return false
	}
	want := make(map[chainmodel.EventKind]struct{}, len(c.Events))
	for _, e := range c.Events {
		want[e] = struct{}{}
	}
	for _, e := range o.Events {
		if _, ok := want[e]; !ok {
			return false
		}
	}
	return true
}

// EventSet returns this contract's configured events as a lookup set.
func (c ContractSpec) EventSet() map[chainmodel.EventKind]struct{} {
	set := make(map[chainmodel.EventKind]struct{}, len(c.Events))
	for _, e := range c.Events {
		set[e] = struct{}{}
	}
	return set
}

// DataCollectionSpec describes one block range / contract set to collect.
type DataCollectionSpec struct {
	Mode       chainmodel.Mode `json:"mode"`
	StartBlock *uint64         `json:"start_block,omitempty"`
	EndBlock   *uint64         `json:"end_block,omitempty"`
	Contracts  []ContractSpec  `json:"contracts,omitempty"`
	Topics     []common.Hash   `json:"topics,omitempty"`
}

// Validate checks the invariants from spec §3: start<=end when both set,
// LOG_FILTER requires topics, PARTIAL requires contracts, and every
// contract's event whitelist parses to a known EventKind.
func (d DataCollectionSpec) Validate() error {
	switch d.Mode {
	case chainmodel.ModeFull, chainmodel.ModePartial, chainmodel.ModeLogFilter, chainmodel.ModeGetLogs:
	default:
		return fmt.Errorf("data_collection: unknown mode %q", d.Mode)
	}
	if d.StartBlock != nil && d.EndBlock != nil && *d.StartBlock > *d.EndBlock {
		return fmt.Errorf("data_collection: start_block %d > end_block %d", *d.StartBlock, *d.EndBlock)
	}
	if d.Mode == chainmodel.ModeLogFilter && len(d.Topics) == 0 {
		return fmt.Errorf("data_collection: mode LOG_FILTER requires topics")
	}
	if d.Mode == chainmodel.ModePartial && len(d.Contracts) == 0 {
		return fmt.Errorf("data_collection: mode PARTIAL requires contracts")
	}
	for _, c := range d.Contracts {
		for _, e := range c.Events {
			if _, ok := chainmodel.AllEventKinds[e]; !ok {
				return fmt.Errorf("data_collection: contract %s: unknown event kind %q", c.Address, e)
			}
		}
	}
	return nil
}

// GlobalConfig is the top-level JSON document shape described in spec §3/§6.
type GlobalConfig struct {
	NodeURL         string                `json:"node_url"`
	DBDSN           string                `json:"db_dsn"`
	BusURL          string                `json:"bus_url"`
	Topic           string                `json:"topic"`
	CounterURL      string                `json:"counter_url"`
	ConsumerFanout  int                   `json:"consumer_fanout"`
	NumPartitions   int                   `json:"num_partitions"`
	RPCTimeoutS     int                   `json:"rpc_timeout_s"`
	RPCRetries      int                   `json:"rpc_retries"`
	RPCRetryDelayS  int                   `json:"rpc_retry_delay_s"`
	IdleTimeoutS    int                   `json:"idle_timeout_s"`
	DataCollection  []DataCollectionSpec  `json:"data_collection"`

	// Domain-stack addition (SPEC_FULL §4.1): optional client-side RPC
	// rate limit, 0 disables it.
	RPCMaxQPS float64 `json:"rpc_max_qps,omitempty"`

	// Ambient addition (SPEC_FULL §6): optional Prometheus listener.
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// Ambient addition: logging configuration, mirroring
	// minis/50-mini-service-all-features's LoggingConfig shape.
	Logging LoggingConfig `json:"logging,omitempty"`
}

// LoggingConfig controls internal/logging's zerolog setup.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// Load reads the JSON config file at path, applies environment overrides,
// and validates the result.
func Load(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg GlobalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides mirrors spec §6's environment variable table.
func applyEnvOverrides(cfg *GlobalConfig) {
	if v := os.Getenv("N_CONSUMER_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConsumerFanout = n
		}
	}
	if v := os.Getenv("WEB3_REQUESTS_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCTimeoutS = n
		}
	}
	if v := os.Getenv("WEB3_REQUESTS_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCRetries = n
		}
	}
	if v := os.Getenv("WEB3_REQUESTS_RETRY_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCRetryDelayS = n
		}
	}
	if v := os.Getenv("KAFKA_EVENT_RETRIEVAL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeoutS = n
		}
	}
}

// Validate checks GlobalConfig-level invariants and every nested
// DataCollectionSpec, defaulting ConsumerFanout to 1 in place when unset.
func (c *GlobalConfig) Validate() error {
	if c.NodeURL == "" {
		return fmt.Errorf("node_url is required")
	}
	if c.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if len(c.DataCollection) == 0 {
		return fmt.Errorf("data_collection must be non-empty")
	}
	if c.ConsumerFanout <= 0 {
		c.ConsumerFanout = 1
	}
	if c.NumPartitions <= 0 {
		c.NumPartitions = 1
	}
	for i, d := range c.DataCollection {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("data_collection[%d]: %w", i, err)
		}
	}
	return nil
}
