// Command producer walks the configured block ranges and enqueues every
// transaction hash it finds onto the bus (spec.md §4.6), one Walker per
// DataCollectionSpec, fanned out with errgroup.
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
	kafka "github.com/segmentio/kafka-go"

	"github.com/example/chain-collector/internal/bus"
	"github.com/example/chain-collector/internal/config"
	"github.com/example/chain-collector/internal/counterstore"
	"github.com/example/chain-collector/internal/logging"
	"github.com/example/chain-collector/internal/metrics"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
	"github.com/example/chain-collector/internal/walker"
)

// serveMetrics runs a minimal /metrics HTTP endpoint until the process
// exits; errors are logged rather than fatal, treating the metrics
// listener as best-effort.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("metrics listener stopped")
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("cfg", "", "path to the global config JSON document")
	metricsAddr := flag.String("metrics-addr", "", "override the config's metrics_addr")
	flag.Parse()

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "producer: --cfg is required")
		return 1
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "producer: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
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

	brokers := strings.Split(cfg.BusURL, ",")
	writer := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: cfg.Topic,
		// bus.Producer already chose the destination partition (spec
		// §4.3's round-robin-then-argmin cursor); a size- or hash-based
		// Balancer here would silently override that choice and desync
		// the counter-store bookkeeping from where messages actually land.
		Balancer:               bus.ExplicitPartitionBalancer{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()
	producer := bus.NewProducer(writer, counters, cfg.NumPartitions)

	newWalker := func(config.DataCollectionSpec) *walker.Walker {
		return walker.New(rpc, st, producer, counters)
	}

	if err := walker.StartProducingData(ctx, cfg.DataCollection, newWalker); err != nil {
		log.Error().Err(err).Msg("producer stopped with error")
		return 1
	}
	log.Info().Msg("producer finished cleanly")
	return 0
}
