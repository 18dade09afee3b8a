package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"holycluster/archive"
	"holycluster/cluster"
	"holycluster/config"
	"holycluster/cty"
	"holycluster/dedup"
	"holycluster/enrich"
	"holycluster/feed"
	"holycluster/freq"
	"holycluster/geo"
	"holycluster/httpapi"
	"holycluster/qrz"
	"holycluster/stats"
	"holycluster/store"
	"holycluster/stream"
	"holycluster/ws"
)

// Version is set at build time.
var Version = "dev"

// serviceFunc adapts a closure to a suture service.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	var out io.Writer = os.Stderr
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log := zerolog.New(out).With().Timestamp().Logger()
	log.Info().Str("version", Version).Msg("holycluster starting")

	cfg := config.LoadOrExit(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers, err := config.LoadClusterServers(cfg.Cluster.ServersFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Cluster.ServersFile).Msg("loading cluster servers")
	}
	if len(servers) == 0 {
		log.Fatal().Str("file", cfg.Cluster.ServersFile).Msg("no cluster servers configured")
	}

	classifier, err := freq.Load(cfg.Data.BandsFile, cfg.Data.ModesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading band plan")
	}
	prefixes, err := geo.LoadPrefixTable(cfg.Data.PrefixesFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading prefix table")
	}

	rdb := stream.NewClient(cfg.Valkey.Addr(), cfg.Valkey.DB)
	defer rdb.Close()
	kv := stream.NewKV(rdb)

	st, err := store.New(ctx, cfg.Postgres, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	defer st.Close()

	qrzSession := qrz.NewSession(cfg.QRZ.User, cfg.QRZ.Password, cfg.QRZ.APIKey,
		time.Duration(cfg.QRZ.SessionKeyRefresh)*time.Second, log)
	if cfg.QRZ.User != "" {
		if err := qrzSession.Acquire(ctx); err != nil {
			log.Warn().Err(err).Msg("initial qrz session acquisition failed, relying on prefix table")
		}
	} else {
		log.Warn().Msg("no qrz credentials, locators come from the prefix table only")
	}

	resolver := geo.NewResolver(kv, qrzSession, prefixes,
		time.Duration(cfg.Valkey.GeoExpiration)*time.Second, log).WithStore(st)
	if cfg.Data.CTYFile != "" {
		ctyDB, err := cty.LoadCTYDatabase(cfg.Data.CTYFile)
		if err != nil {
			log.Warn().Err(err).Msg("loading cty database failed, continuing without country fallback")
		} else {
			resolver = resolver.WithCountryFallback(ctyDB)
		}
	}

	tracker := stats.NewTracker()
	deduper := dedup.NewDeduper(kv, time.Duration(cfg.Valkey.SpotExpiration)*time.Second, log)
	ingressPub := stream.NewPublisher(rdb, stream.IngressStream)
	egressPub := stream.NewPublisher(rdb, stream.EgressStream)

	enricher := enrich.New(classifier, resolver, st, egressPub, log).WithTracker(tracker)

	sup := suture.New("holycluster", suture.Spec{
		EventHook: func(ev suture.Event) {
			log.Warn().Str("event", ev.String()).Msg("supervisor event")
		},
	})

	if cfg.Archive.Enabled {
		aw, err := archive.NewWriter(cfg.Archive, log)
		if err != nil {
			log.Fatal().Err(err).Msg("opening archive")
		}
		enricher = enricher.WithArchiver(aw)
		sup.Add(aw)
	}

	hub := ws.NewHub(st, log)
	wsConsumer := ws.NewConsumer(hub).WithTracker(tracker)

	if cfg.MQTT.Enabled {
		mq := feed.New(cfg.MQTT, log)
		if err := mq.Connect(); err != nil {
			log.Warn().Err(err).Msg("mqtt connect failed, client retries in the background")
		}
		defer mq.Close()
		wsConsumer = wsConsumer.WithSink(mq)
	}

	if cfg.QRZ.User != "" {
		sup.Add(qrzSession)
	}
	for _, server := range servers {
		sup.Add(cluster.NewSession(server, cfg.Cluster.Login, deduper, ingressPub, log))
	}
	sup.Add(stream.NewGroupConsumer(rdb, stream.IngressStream, stream.IngressGroup, enricher.Handle, log))
	sup.Add(stream.NewGroupConsumer(rdb, stream.EgressStream, stream.EgressGroup, wsConsumer.Handle, log))
	sup.Add(hub)
	sup.Add(store.NewSweeper(st, cfg.Postgres.RetentionDays, log))
	sup.Add(stats.NewReporter(tracker, 5*time.Minute, log))

	api := httpapi.New(st, resolver, kv, httpapi.Routes{
		Spots:  hub.SpotsHandler(),
		Radio:  ws.RadioHandler(),
		Submit: ws.SubmitHandler(),
	}, log)
	sup.Add(serviceFunc(func(ctx context.Context) error {
		return api.Serve(ctx, cfg.HTTP.Listen)
	}))

	log.Info().
		Int("clusters", len(servers)).
		Str("listen", cfg.HTTP.Listen).
		Msg("pipeline up")

	err = sup.Serve(ctx)
	if err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("supervisor exited")
	}
	log.Info().Msg("shutdown complete")
}
