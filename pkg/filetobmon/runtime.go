package filetobmon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/alanmitchell/file-to-bmon/internal/adapters/archive"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/delivery"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/observability"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/parsers"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/queue"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/routing"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/sink"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/wal"
	"github.com/alanmitchell/file-to-bmon/internal/app/config"
	"github.com/alanmitchell/file-to-bmon/internal/app/ingest"
	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	sinks         map[domain.DestinationID]Sink
	routing       RoutingSource
	archiver      Archiver
	observability Observability
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer
}

// WithSink replaces the sink built from configuration for one destination.
func WithSink(dest DestinationID, s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if o.sinks == nil {
			o.sinks = make(map[domain.DestinationID]Sink)
		}
		o.sinks[dest] = s
	}
}

// WithRoutingSource overrides the routing file or database from configuration.
func WithRoutingSource(src RoutingSource) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.routing = src
	}
}

// WithArchiver mirrors finalized archives through a custom Archiver.
func WithArchiver(a Archiver) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.archiver = a
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithRegistry registers the default metrics on reg instead of the global registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// Runtime loads the routing table, processes every file source and hands
// flushed batches to one durable poster per destination.
type Runtime struct {
	cfg        *Config
	obs        ports.Observability
	routing    ports.RoutingSource
	archiver   ports.Archiver
	hub        *delivery.Hub
	gatherer   prometheus.Gatherer
	closers    []io.Closer
	metricsSrv *http.Server
}

// SourceReport holds the outcomes of one file source in a run.
type SourceReport struct {
	Pattern  string
	DryRun   bool
	Outcomes []ProcessingOutcome
	Err      error
}

// Report summarizes one pass over every file source.
type Report struct {
	Sources  []SourceReport
	Delivery []DeliveryStats
}

// Totals sums processed files and line dispositions across sources.
func (r *Report) Totals() (files, success, failed int) {
	for _, s := range r.Sources {
		for _, o := range s.Outcomes {
			files++
			success += o.SuccessLines
			failed += o.ErrorLines
		}
	}
	return files, success, failed
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// NewRuntime builds the default adapters for every configured destination.
// Sinks, routing, archiving and telemetry can be overridden with options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt = &Runtime{cfg: cfg, gatherer: overrides.gatherer}
	defer func() {
		if err != nil {
			_ = rt.closeAll()
			rt = nil
		}
	}()
	if rt.gatherer == nil {
		rt.gatherer = prometheus.DefaultGatherer
	}

	rt.obs = overrides.observability
	if rt.obs == nil {
		rt.obs = observability.NewPromObs(overrides.registerer, slog.Default())
	}

	rt.routing = overrides.routing
	if rt.routing == nil {
		src, closer, err := routingFromConfig(cfg.Routing)
		if err != nil {
			return rt, err
		}
		rt.routing = src
		if closer != nil {
			rt.closers = append(rt.closers, closer)
		}
	}

	rt.archiver = overrides.archiver
	if rt.archiver == nil && cfg.Archive.S3 != nil {
		m, err := archive.NewS3Mirror(context.Background(), *cfg.Archive.S3)
		if err != nil {
			return rt, err
		}
		rt.archiver = m
	}

	ids := cfg.DestinationIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	posters := make([]*delivery.Poster, 0, len(ids))
	for _, id := range ids {
		snk, ok := overrides.sinks[id]
		if !ok {
			snk, err = rt.buildSink(id, cfg.Destinations[id])
			if err != nil {
				return rt, fmt.Errorf("destination %s: %w", id, err)
			}
		}
		w, err := wal.NewFileWAL(filepath.Join(cfg.Delivery.Dir, string(id)))
		if err != nil {
			return rt, fmt.Errorf("destination %s wal: %w", id, err)
		}
		p, err := delivery.NewPoster(delivery.PosterConfig{
			Destination: id,
			Sink:        snk,
			WAL:         w,
			Queue:       queue.NewMemQueue(cfg.Delivery.Policy.MaxQueueLen),
			Policy:      cfg.Delivery.Policy,
			Retry:       cfg.Delivery.Retry,
			StateDir:    cfg.Delivery.Dir,
		}, rt.obs)
		if err != nil {
			_ = w.Close()
			return rt, fmt.Errorf("destination %s: %w", id, err)
		}
		posters = append(posters, p)
	}
	rt.hub = delivery.NewHub(rt.obs, posters...)
	return rt, nil
}

func routingFromConfig(rc config.RoutingConfig) (ports.RoutingSource, io.Closer, error) {
	switch {
	case rc.File != "":
		return routing.FromFile(rc.File)
	case rc.DSN != "":
		src, err := routing.OpenSQL(rc.Driver, rc.DSN)
		if err != nil {
			return nil, nil, err
		}
		if rc.Query != "" {
			src.Query = rc.Query
		}
		return src, src, nil
	default:
		return staticRouting{}, nil, nil
	}
}

// staticRouting sends everything to the default destination.
type staticRouting struct{}

func (staticRouting) Load(context.Context) (domain.RoutingTable, error) {
	return domain.RoutingTable{Targets: map[string]domain.DestinationID{}}, nil
}

func (rt *Runtime) buildSink(id domain.DestinationID, d config.Destination) (ports.Sink, error) {
	switch d.Kind {
	case config.KindBMON:
		return sink.NewBMONSink(d.URL, d.StoreKey, &http.Client{Timeout: d.Timeout}), nil
	case config.KindTimescale:
		db, err := sink.OpenTimescale(d.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db)
		return sink.NewTimescaleSink(db, d.Table), nil
	case config.KindRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     d.Addr,
			Password: d.Password,
			DB:       d.DB,
		})
		rt.closers = append(rt.closers, client)
		return sink.NewRedisSink(client, d.Stream, d.MaxLen), nil
	case config.KindNATS:
		conn, err := sink.ConnectNATS(d.URL, "file-to-bmon-"+string(id))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, closerFunc(conn.Drain))
		return sink.NewNATSSink(conn, d.Subject), nil
	default:
		return nil, fmt.Errorf("unknown destination kind %q", d.Kind)
	}
}

func (rt *Runtime) buildEngine(src domain.SourceSpec, table domain.RoutingTable) (*ingest.Engine, error) {
	loc, err := time.LoadLocation(src.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone: %w", err)
	}
	parser, err := parsers.New(src.Format, parsers.Options{Location: loc, Raw: &src.Options})
	if err != nil {
		return nil, err
	}
	def := src.DefaultDestination
	if def == "" {
		def = rt.cfg.DefaultDestination
	}
	router, err := ingest.NewRouter(table.WithDefault(def), rt.cfg.DestinationIDs())
	if err != nil {
		return nil, err
	}
	var opts []ingest.EngineOption
	if rt.archiver != nil && !src.DryRun {
		opts = append(opts, ingest.WithArchiver(rt.archiver))
	}
	return ingest.NewEngine(src, parser, router, rt.hub, rt.obs, opts...), nil
}

// RunOnce processes every file source once, then waits for delivery to go
// idle or stall. Initialization errors abort before any file is touched.
func (rt *Runtime) RunOnce(ctx context.Context) (*Report, error) {
	table, err := rt.routing.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load routing: %w", err)
	}

	engines := make([]*ingest.Engine, 0, len(rt.cfg.FileSources))
	for _, src := range rt.cfg.FileSources {
		eng, err := rt.buildEngine(src, table)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Pattern, err)
		}
		if err := eng.Prepare(); err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Pattern, err)
		}
		engines = append(engines, eng)
	}

	rt.hub.Start(ctx)

	report := &Report{Sources: make([]SourceReport, len(engines))}
	g, gctx := errgroup.WithContext(ctx)
	if !rt.cfg.ConcurrentSources {
		g.SetLimit(1)
	}
	for i, eng := range engines {
		i, eng := i, eng
		src := rt.cfg.FileSources[i]
		g.Go(func() error {
			outcomes, err := eng.Run(gctx)
			report.Sources[i] = SourceReport{Pattern: src.Pattern, DryRun: src.DryRun, Outcomes: outcomes, Err: err}
			return err
		})
	}
	runErr := g.Wait()

	drainErr := rt.hub.Drain(ctx)
	report.Delivery = rt.hub.Stats()

	files, success, failed := report.Totals()
	rt.obs.LogInfo("run_complete",
		ports.F("files", files),
		ports.F("success_lines", success),
		ports.F("error_lines", failed),
	)
	return report, errors.Join(runErr, drainErr)
}

// Watch repeats RunOnce every interval and serves metrics until ctx is done.
func (rt *Runtime) Watch(ctx context.Context, every time.Duration) error {
	rt.startMetrics()
	for {
		if _, err := rt.RunOnce(ctx); err != nil && ctx.Err() == nil {
			rt.obs.LogError("run_failed", err)
		}
		t := time.NewTimer(every)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// Handler serves /metrics, /healthz and the delivery backlog at /delivery.
func (rt *Runtime) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/delivery", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rt.hub.Stats())
	})
	return r
}

func (rt *Runtime) startMetrics() {
	if rt.metricsSrv != nil {
		return
	}
	rt.metricsSrv = &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := rt.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.obs.LogError("metrics_server_exited", err)
		}
	}()
}

// Stats reports the delivery backlog per destination.
func (rt *Runtime) Stats() []DeliveryStats {
	return rt.hub.Stats()
}

// Shutdown stops the metrics server, the posters and every connection.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if rt.metricsSrv != nil {
		if err := rt.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, rt.closeAll())
	return errors.Join(errs...)
}

func (rt *Runtime) closeAll() error {
	var errs []error
	if rt.hub != nil {
		errs = append(errs, rt.hub.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i].Close())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// DeliveryBacklog reads the WAL of every configured destination without
// connecting to any sink.
func DeliveryBacklog(cfg *Config) ([]DeliveryStats, error) {
	ids := cfg.DestinationIDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]DeliveryStats, 0, len(ids))
	for _, id := range ids {
		w, err := wal.NewFileWAL(filepath.Join(cfg.Delivery.Dir, string(id)))
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", id, err)
		}
		st, err := delivery.Inspect(id, w, cfg.Delivery.Dir)
		st.Sink = cfg.Destinations[id].Kind
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", id, err)
		}
		out = append(out, st)
	}
	return out, nil
}
