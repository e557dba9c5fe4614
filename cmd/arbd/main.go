package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crossarb/crossarb/internal/arb"
	"github.com/crossarb/crossarb/internal/config"
	"github.com/crossarb/crossarb/internal/engine"
	"github.com/crossarb/crossarb/internal/fees"
	"github.com/crossarb/crossarb/internal/llm"
	"github.com/crossarb/crossarb/internal/logging"
	"github.com/crossarb/crossarb/internal/market"
	"github.com/crossarb/crossarb/internal/matchcache"
	"github.com/crossarb/crossarb/internal/notify"
	"github.com/crossarb/crossarb/internal/optimizer"
	"github.com/crossarb/crossarb/internal/resolver"
	"github.com/crossarb/crossarb/internal/storage/sqlite"
	"github.com/crossarb/crossarb/internal/suggest"
	"github.com/crossarb/crossarb/internal/venues/kalshi"
	"github.com/crossarb/crossarb/internal/venues/polymarket"
	"github.com/crossarb/crossarb/internal/verify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logging.InitFromEnv()

	cfg, err := config.Load(config.EnvString("CONFIG_PATH", ""))
	if err != nil {
		logging.Fatalf("[arbd] load config: %v", err)
	}

	store, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		logging.Fatalf("[arbd] open sqlite: %v", err)
	}
	defer store.Close()

	var recordCache matchcache.RecordCache
	if cfg.Redis.Addr != "" {
		recordCache, err = matchcache.NewRedisRecordCache(
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.StateTTLHours)*time.Hour, "match_record")
		if err != nil {
			logging.Warnf("[arbd] redis cache disabled: %v", err)
		}
	}
	cache := matchcache.NewStore(store, recordCache)

	schedules, err := cfg.Schedules()
	if err != nil {
		logging.Fatalf("[arbd] fee schedules: %v", err)
	}
	venueSchedules := make(map[market.Venue]fees.Schedule, len(schedules))
	for venue, sched := range schedules {
		venueSchedules[market.Venue(venue)] = sched
	}

	kalshiClient := kalshi.NewClient(kalshi.Config{
		BaseURL: cfg.Venues["kalshi"].BookURL,
	})
	polyClient := polymarket.NewClient(polymarket.Config{
		GammaURL: cfg.Venues["polymarket"].BaseURL,
		BookURL:  cfg.Venues["polymarket"].BookURL,
	})

	detector, err := arb.NewDetector(arb.DetectorConfig{
		Providers: map[market.Venue]arb.BookProvider{
			market.VenueKalshi:     kalshiClient,
			market.VenuePolymarket: polyClient,
		},
		Schedules: venueSchedules,
		Sizing: optimizer.Config{
			MinSize:      cfg.Engine.MinSize,
			MaxSize:      cfg.Engine.MaxSize,
			GridSamples:  cfg.Engine.GridSamples,
			RefineIters:  cfg.Engine.RefineIters,
			MinProfitUSD: cfg.Engine.MinProfitUSD,
			MinProfitPct: cfg.Engine.MinProfitPct,
		},
		Workers: cfg.Engine.FetchWorkers,
	})
	if err != nil {
		logging.Fatalf("[arbd] detector: %v", err)
	}

	brokers := notify.ParseBrokers(cfg.Kafka.Brokers)
	waitCtx, cancelWait := context.WithTimeout(ctx, 45*time.Second)
	if err := notify.WaitForBroker(waitCtx, brokers); err != nil {
		logging.Fatalf("[arbd] wait for broker: %v", err)
	}
	cancelWait()
	for _, topic := range []string{cfg.Kafka.AlertTopic, cfg.Kafka.RequestTopic, cfg.Kafka.ErrorTopic} {
		ensureCtx, cancelEnsure := context.WithTimeout(ctx, 30*time.Second)
		if err := notify.EnsureTopic(ensureCtx, brokers, topic); err != nil {
			logging.Errorf("[arbd] ensure topic %s warning: %v", topic, err)
		}
		cancelEnsure()
	}

	publisher := notify.NewPublisher(
		notify.NewWriter(brokers, cfg.Kafka.AlertTopic),
		notify.NewWriter(brokers, cfg.Kafka.RequestTopic),
		notify.NewWriter(brokers, cfg.Kafka.ErrorTopic),
	)
	defer publisher.Close()

	// Without an LLM key the system still runs: requests go out on kafka and
	// verdicts come back through operator commands only.
	var (
		suggester resolver.Suggester
		verifier  resolver.Verifier
		sink      resolver.RequestSink = publisher
	)
	if cfg.LLM.APIKey != "" {
		client, err := llm.New(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			logging.Fatalf("[arbd] llm client: %v", err)
		}
		suggester, err = suggest.New(suggest.Config{
			LLM: client,
			Providers: map[market.Venue]suggest.ListingProvider{
				market.VenueKalshi:     kalshiClient,
				market.VenuePolymarket: polyClient,
			},
		})
		if err != nil {
			logging.Fatalf("[arbd] suggester: %v", err)
		}
		autoVerifier, err := verify.New(client)
		if err != nil {
			logging.Fatalf("[arbd] verifier: %v", err)
		}
		verifier = autoVerifier
		sink = fanoutSink{publisher, autoVerifier}
	} else {
		logging.Warnf("[arbd] no LLM_API_KEY; suggestion and auto-verification disabled")
	}

	res := resolver.New(resolver.Config{
		Cache:   cache,
		Sink:    sink,
		Timeout: cfg.PendingTimeout(),
	})

	halt, err := engine.NewHaltFlag(ctx, store)
	if err != nil {
		logging.Fatalf("[arbd] load halt flag: %v", err)
	}
	if halt.Halted() {
		logging.Warnf("[arbd] starting HALTED (by %s); send RESUME to trade", halt.State().Actor)
	}

	eng := engine.New(engine.Config{
		Detector:     detector,
		Resolver:     res,
		Suggester:    suggester,
		Verifier:     verifier,
		Cache:        cache,
		Log:          store,
		Halt:         halt,
		Executor:     engine.PaperExecutor{},
		Alerts:       publisher,
		MinProfitUSD: cfg.Engine.MinProfitUSD,
		MinProfitPct: cfg.Engine.MinProfitPct,
		Interval:     cfg.ScanInterval(),
	})

	go serveHealth(cfg.Engine.HealthAddr, eng)

	if cfg.Redis.Addr != "" {
		bus := notify.NewCommandBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CommandChannel)
		defer bus.Close()
		go func() {
			if err := bus.Listen(ctx, func(ctx context.Context, cmd notify.Command) {
				handleCommand(ctx, cmd, eng, cache, store, halt, publisher)
			}); err != nil && ctx.Err() == nil {
				logging.Errorf("[arbd] command bus: %v", err)
			}
		}()
	} else {
		logging.Warnf("[arbd] no REDIS_ADDR; operator command channel disabled")
	}

	logging.Infof("[arbd] scanning every %s (min profit $%.2f / %.2f%%)",
		cfg.ScanInterval(), cfg.Engine.MinProfitUSD, cfg.Engine.MinProfitPct)
	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logging.Fatalf("[arbd] engine: %v", err)
	}
	logging.Infof("[arbd] shutting down")
}

// fanoutSink delivers verification requests both to kafka (for operators)
// and to the in-process auto-verifier.
type fanoutSink []resolver.RequestSink

func (f fanoutSink) SendVerificationRequest(ctx context.Context, req resolver.VerificationRequest) error {
	var first error
	for _, sink := range f {
		if err := sink.SendVerificationRequest(ctx, req); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func handleCommand(ctx context.Context, cmd notify.Command, eng *engine.Engine,
	cache *matchcache.Store, store *sqlite.Store, halt *engine.HaltFlag, publisher *notify.Publisher) {

	logging.Infof("[arbd] command: %s %d", cmd.Kind, cmd.OpportunityID)
	switch cmd.Kind {
	case notify.CommandHalt:
		if err := halt.Halt(ctx, "operator"); err != nil {
			logging.Errorf("[arbd] halt: %v", err)
		}
	case notify.CommandResume:
		if err := halt.Resume(ctx, "operator"); err != nil {
			logging.Errorf("[arbd] resume: %v", err)
		}
	case notify.CommandExecute:
		if err := eng.ExecuteByID(ctx, cmd.OpportunityID); err != nil {
			logging.Errorf("[arbd] execute %d: %v", cmd.OpportunityID, err)
			if perr := publisher.PublishSystemError(ctx, "execute command failed", err); perr != nil {
				logging.Errorf("[arbd] system alert: %v", perr)
			}
		}
	case notify.CommandStatus:
		var buf bytes.Buffer
		executed, total, err := store.ProfitSummary(ctx)
		if err != nil {
			logging.Errorf("[arbd] profit summary: %v", err)
			return
		}
		open, err := store.OpenAlerts(ctx)
		if err != nil {
			logging.Errorf("[arbd] open alerts: %v", err)
			return
		}
		verified, err := cache.ListActiveVerified(ctx)
		if err != nil {
			logging.Errorf("[arbd] list verified: %v", err)
			return
		}
		notify.RenderStatus(&buf, eng.Health(), executed, total, open, verified)
		logging.Infof("[arbd] status report:\n%s", buf.String())
	}
}

func serveHealth(addr string, eng *engine.Engine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := eng.Health()
		w.Header().Set("Content-Type", "application/json")
		if health.Halted {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	logging.Infof("[arbd] health endpoint on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Errorf("[arbd] health server: %v", err)
	}
}
