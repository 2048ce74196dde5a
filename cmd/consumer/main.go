// Command consumer drains the bus and runs every message through the
// mode-appropriate Processor (spec.md §4.8), fanning out consumer_fanout
// independent consumer loops per process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/example/chain-collector/internal/bus"
	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/config"
	"github.com/example/chain-collector/internal/consumerrole"
	"github.com/example/chain-collector/internal/counterstore"
	"github.com/example/chain-collector/internal/logging"
	"github.com/example/chain-collector/internal/metrics"
	"github.com/example/chain-collector/internal/processor"
	"github.com/example/chain-collector/internal/registry"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("cfg", "", "path to the global config JSON document")
	abiFile := flag.String("abi-file", "", "path to the ABI document used by the PARTIAL decoder")
	metricsAddr := flag.String("metrics-addr", "", "override the config's metrics_addr")
	flag.Parse()

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "consumer: --cfg is required")
		return 1
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consumer: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	needsABI := false
	for _, spec := range cfg.DataCollection {
		if spec.Mode == chainmodel.ModePartial {
			needsABI = true
		}
	}
	if needsABI && *abiFile == "" {
		fmt.Fprintln(os.Stderr, "consumer: --abi-file is required when any data_collection entry uses mode PARTIAL")
		return 1
	}

	logging.Setup(cfg.Logging)
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpc, err := rpcclient.Dial(ctx, cfg.NodeURL)
	if err != nil {
		log.Error().Err(err).Msg("dial rpc node")
		return 1
	}
	rpc = rpcclient.WithRateLimit(rpc, cfg.RPCMaxQPS)
	rpc = rpcclient.WithRetry(rpc, rpcclient.RetryConfig{
		Retries:    cfg.RPCRetries,
		RetryDelay: time.Duration(cfg.RPCRetryDelayS) * time.Second,
		OnRetry:    m.RPCRetries.Inc,
	})

	st, err := store.Open(ctx, cfg.DBDSN, cfg.Topic)
	if err != nil {
		log.Error().Err(err).Msg("open store")
		return 1
	}
	defer st.Close()

	counters, err := counterstore.Dial(cfg.CounterURL, cfg.Topic)
	if err != nil {
		log.Error().Err(err).Msg("dial counter store")
		return 1
	}

	var reg *registry.Registry
	if *abiFile != "" {
		parsedABIs, err := registry.LoadABIs(*abiFile)
		if err != nil {
			log.Error().Err(err).Msg("load abi file")
			return 1
		}
		reg = registry.New(cfg.DataCollection, parsedABIs)
	}

	processors := processor.ByMode(st, reg, rpc)

	brokers := strings.Split(cfg.BusURL, ",")
	idleTimeout := time.Duration(cfg.IdleTimeoutS) * time.Second

	runners := make([]*consumerrole.Runner, 0, cfg.ConsumerFanout)
	for i := 0; i < cfg.ConsumerFanout; i++ {
		c := bus.NewConsumerGroup(brokers, cfg.Topic, cfg.Topic, idleTimeout)
		runners = append(runners, consumerrole.New(cfg.Topic, c, rpc, processors, counters, m))
	}

	if err := consumerrole.RunFanout(ctx, runners); err != nil {
		log.Error().Err(err).Msg("consumer stopped with error")
		return 1
	}
	log.Info().Msg("consumer finished cleanly")
	return 0
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
	}
}
