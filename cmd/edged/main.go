// edged is the EPL edge board daemon. It consumes market data producers,
// reconciles their streams into a live cross-source view, and serves it
// over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/phenomenon0/epl-edge/pkg/aggregate"
	"github.com/phenomenon0/epl-edge/pkg/api"
	"github.com/phenomenon0/epl-edge/pkg/config"
	"github.com/phenomenon0/epl-edge/pkg/feed"
	"github.com/phenomenon0/epl-edge/pkg/logging"
	"github.com/phenomenon0/epl-edge/pkg/metrics"
	"github.com/phenomenon0/epl-edge/pkg/publish"
	"github.com/phenomenon0/epl-edge/pkg/sports"
	"github.com/phenomenon0/epl-edge/pkg/stream"
)

var (
	configPath = flag.String("config", "", "Path to YAML config (empty = built-in local defaults)")
	httpAddr   = flag.String("http", "", "Override HTTP listen address")
)

// producer is the common shape of subprocess runners and HTTP pollers.
type producer interface {
	Run(ctx context.Context)
	Close()
	State() feed.State
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		// Logger isn't up yet.
		panic(err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	log, err := logging.New("edged", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.Default()

	registry := sports.NewRegistry()
	registry.Merge(cfg.Teams.Aliases)
	normalizer := sports.NewNormalizer(registry, log, m)

	agg := aggregate.New(aggregate.Config{
		StalenessWindow: cfg.Aggregator.StalenessWindow(),
		SweepInterval:   cfg.Aggregator.SweepInterval(),
	}, log, m)
	go agg.RunSweeper(ctx)

	hub := stream.NewHub(log, m)
	go hub.Run()

	var broadcaster *publish.RedisBroadcaster
	if cfg.Redis.Addr != "" {
		broadcaster = publish.NewRedisBroadcaster(cfg.Redis.Addr, cfg.Redis.Channel)
		if err := broadcaster.Ping(ctx); err != nil {
			log.Warn("redis unreachable, fan-out disabled", zap.Error(err))
			broadcaster = nil
		} else {
			defer broadcaster.Close()
		}
	}

	producers := startProducers(ctx, cfg, normalizer, agg, hub, log, m)

	// Recompute comparisons on change, coalescing bursts.
	go pushComparisons(ctx, agg, hub, broadcaster, m)

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewServer(agg, func() []api.SourceStatus {
			return sourceStatuses(producers)
		}, hub.ServeWS, log, m).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
		}
	}()

	log.Info("edged running", zap.Int("sources", len(producers)))

	<-sigCh
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	for _, p := range producers {
		p.prod.Close()
	}
	cancel()
}

func loadConfig() (*config.Config, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.Load(*configPath)
}

// namedProducer pairs a producer with its source and runner extras.
type namedProducer struct {
	source feed.SourceID
	prod   producer
	runner *feed.Runner // non-nil for subprocess producers
}

// startProducers launches one goroutine per source: decode, normalize,
// ingest. Sources never block each other.
func startProducers(ctx context.Context, cfg *config.Config, normalizer *sports.Normalizer,
	agg *aggregate.Aggregator, hub *stream.Hub, log *zap.Logger, m *metrics.BoardMetrics) []namedProducer {

	producers := make([]namedProducer, 0, len(cfg.Sources))

	for _, src := range cfg.Sources {
		src := src
		handlers := feed.Handlers{
			OnEnvelope: func(id feed.SourceID, env feed.Envelope) {
				m.RecordEnvelope(string(id), env.Type)
				nm, err := normalizer.Normalize(id, src.Unit, env)
				if err != nil {
					m.RecordParseError(string(id))
					log.Debug("skipped record", zap.String("source", string(id)), zap.Error(err))
					return
				}
				if nm != nil {
					agg.Ingest(*nm)
				}
			},
			OnStateChange: func(id feed.SourceID, old, new feed.State) {
				m.SetSourceState(string(id), int(new))
				if old == feed.StateDegraded && new == feed.StateConnecting {
					m.RecordRestart(string(id))
				}
				log.Info("source state change",
					zap.String("source", string(id)),
					zap.Stringer("from", old), zap.Stringer("to", new))
				hub.BroadcastSourceStatus(id, new)
			},
			OnError: func(id feed.SourceID, err error) {
				log.Warn("producer error", zap.String("source", string(id)), zap.Error(err))
				hub.BroadcastError(err, string(id))
			},
		}

		var np namedProducer
		np.source = src.Name
		switch src.Kind {
		case "poll":
			pc := feed.DefaultPollerConfig(src.Name, src.URL)
			pc.Interval = time.Duration(src.IntervalSeconds) * time.Second
			np.prod = feed.NewPoller(pc, handlers)
		default:
			r := feed.NewRunner(feed.DefaultRunnerConfig(src.Name, src.Command), handlers)
			np.prod = r
			np.runner = r
		}

		go np.prod.Run(ctx)
		producers = append(producers, np)
	}

	return producers
}

// pushComparisons recomputes and broadcasts comparison records whenever the
// aggregator changes, coalescing rapid bursts into one recompute.
func pushComparisons(ctx context.Context, agg *aggregate.Aggregator, hub *stream.Hub,
	broadcaster *publish.RedisBroadcaster, m *metrics.BoardMetrics) {

	id, changes := agg.Subscribe()
	defer agg.Unsubscribe(id)

	const debounce = 250 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case change, ok := <-changes:
			if !ok {
				return
			}
			hub.BroadcastMarket(change)
			if pending == nil {
				pending = time.After(debounce)
			}

		case <-pending:
			pending = nil

			records := aggregate.Compare(agg.Snapshot())
			m.RecordComparisons(aggregate.Discrepancies(records))
			hub.BroadcastComparisons(records)
			if broadcaster != nil {
				pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				_ = broadcaster.PublishComparisons(pubCtx, records)
				cancel()
			}
		}
	}
}

func sourceStatuses(producers []namedProducer) []api.SourceStatus {
	out := make([]api.SourceStatus, 0, len(producers))
	for _, p := range producers {
		st := api.SourceStatus{Source: p.source, State: p.prod.State().String()}
		if p.runner != nil {
			st.LastOutput = p.runner.LastOutput()
		}
		out = append(out, st)
	}
	return out
}
