package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"classwatch/internal/catalog"
	"classwatch/internal/classes"
	"classwatch/internal/config"
	"classwatch/internal/dispatch"
	"classwatch/internal/ledger"
	"classwatch/internal/monitor"
	"classwatch/internal/scheduler"
	"classwatch/internal/storage"
	"classwatch/internal/transport/telegram"
	"classwatch/internal/upstream"
	"classwatch/pkg/logx"
)

// credSource exposes stored user credentials to the upstream session manager.
type credSource struct {
	store *storage.Store
}

func (c credSource) Credentials(ctx context.Context, userID int64) (upstream.Credentials, error) {
	email, password, err := c.store.UserCredentials(ctx, userID)
	if err != nil {
		return upstream.Credentials{}, err
	}
	return upstream.Credentials{Email: email, Password: password}, nil
}

func buildUpstreamConfig(cfg *config.Config) (upstream.Config, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Upstream.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return upstream.Config{}, fmt.Errorf("upstream.timezone: %w", err)
		}
		loc = l
	}

	clubs := make(map[classes.ClubID]upstream.ClubInfo, len(cfg.Upstream.Clubs))
	for raw, cc := range cfg.Upstream.Clubs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return upstream.Config{}, fmt.Errorf("upstream.clubs: key %q is not a club id", raw)
		}
		clubLoc := loc
		if tz := strings.TrimSpace(cc.Timezone); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return upstream.Config{}, fmt.Errorf("upstream.clubs[%s].timezone: %w", raw, err)
			}
			clubLoc = l
		}
		clubs[classes.ClubID(id)] = upstream.ClubInfo{Name: cc.Name, Location: clubLoc}
	}

	return upstream.Config{
		BaseURL:         strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		Timeout:         config.DurationOrDefault("upstream.timeout", cfg.Upstream.Timeout, 15*time.Second),
		UserAgent:       cfg.Upstream.UserAgent,
		DefaultLocation: loc,
		Clubs:           clubs,
		Retry: upstream.Policy{
			MaxAttempts: cfg.Upstream.Retry.MaxAttempts,
			Base:        config.DurationOrDefault("upstream.retry.base", cfg.Upstream.Retry.Base, 2*time.Second),
			MaxDelay:    config.DurationOrDefault("upstream.retry.max_delay", cfg.Upstream.Retry.MaxDelay, 30*time.Second),
		},
	}, nil
}

func buildDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		MessagesPerSecond: cfg.Telegram.RatePerSec,
		Burst:             cfg.Telegram.Burst,
		Attempts:          cfg.Telegram.SendAttempts,
		Backoff:           config.DurationOrDefault("telegram.send_backoff", cfg.Telegram.SendBackoff, time.Second),
	}
}

func buildMonitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Lookahead:       config.DurationOrDefault("monitor.lookahead", cfg.Monitor.Lookahead, 7*24*time.Hour),
		UserParallelism: cfg.Monitor.UserParallelism,
		FetchTimeout:    config.DurationOrDefault("monitor.fetch_timeout", cfg.Monitor.FetchTimeout, time.Minute),
		DispatchTimeout: config.DurationOrDefault("monitor.dispatch_timeout", cfg.Monitor.DispatchTimeout, 30*time.Second),
		LedgerRetention: config.DurationOrDefault("monitor.ledger_retention", cfg.Monitor.LedgerRetention, 30*24*time.Hour),
	}
}

// build wires every service from a validated config.
func (a *App) build(cfg *config.Config) error {
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second),
	}, a.log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	upCfg, err := buildUpstreamConfig(cfg)
	if err != nil {
		return err
	}
	client, err := upstream.NewClient(upCfg, a.log.With(logx.String("svc", "upstream")))
	if err != nil {
		return err
	}
	a.sessions = upstream.NewSessionManager(client, credSource{store: store}, a.log.With(logx.String("svc", "upstream")))

	adapter, err := telegram.New(telegram.Config{
		Token:   cfg.Telegram.Token,
		Timeout: config.DurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second),
	}, a.log.With(logx.String("svc", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.dispatcher = dispatch.New(adapter, buildDispatchConfig(cfg), a.log.With(logx.String("svc", "dispatch")))

	keeper := ledger.New(store, a.log.With(logx.String("svc", "ledger")))
	a.monitor = monitor.New(buildMonitorConfig(cfg), store, a.sessions, keeper, a.dispatcher,
		a.log.With(logx.String("svc", "monitor")))

	a.catalog = catalog.New(a.catalogFetch, store, a.log.With(logx.String("svc", "catalog")))

	tz := strings.TrimSpace(cfg.Monitor.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Upstream.Timezone)
	}
	a.sched = scheduler.New(scheduler.Config{Timezone: tz}, a.log.With(logx.String("svc", "scheduler")))
	return a.registerJobs(cfg)
}

func (a *App) registerJobs(cfg *config.Config) error {
	cycleSpec := cfg.Monitor.CycleSpec
	if strings.TrimSpace(cycleSpec) == "" {
		cycleSpec = config.DefaultCycleSpec
	}
	gcSpec := cfg.Monitor.GCSpec
	if strings.TrimSpace(gcSpec) == "" {
		gcSpec = config.DefaultGCSpec
	}
	refreshSpec := cfg.Catalog.RefreshSpec
	if strings.TrimSpace(refreshSpec) == "" {
		refreshSpec = config.DefaultRefreshSpec
	}

	if err := a.sched.Add("cycle", cycleSpec, func(ctx context.Context) {
		a.monitor.RunCycle(ctx)
	}); err != nil {
		return err
	}
	if err := a.sched.Add("ledger_gc", gcSpec, func(ctx context.Context) {
		if err := a.monitor.PruneLedger(ctx); err != nil {
			a.log.Warn("ledger gc failed", logx.Err(err))
		}
	}); err != nil {
		return err
	}
	return a.sched.Add("catalog_refresh", refreshSpec, func(ctx context.Context) {
		a.catalog.Refresh(ctx, a.watchedClubs(ctx))
	})
}

// catalogFetch pulls one club's filter dimensions through the first stored
// user that can log in.
func (a *App) catalogFetch(ctx context.Context, club classes.ClubID) (upstream.FilterSets, error) {
	users, err := a.store.Users(ctx)
	if err != nil {
		return upstream.FilterSets{}, err
	}
	if len(users) == 0 {
		return upstream.FilterSets{}, fmt.Errorf("no registered users to query club %d", club)
	}
	var lastErr error
	for _, u := range users {
		fs, err := a.sessions.Filters(ctx, u.TelegramID, club)
		if err == nil {
			return fs, nil
		}
		lastErr = err
	}
	return upstream.FilterSets{}, lastErr
}

// watchedClubs is the union of configured clubs and clubs pinned by saved
// filters.
func (a *App) watchedClubs(ctx context.Context) []classes.ClubID {
	seen := make(map[classes.ClubID]struct{})
	cfg := a.cfgMgr.Get()
	if cfg != nil {
		for raw := range cfg.Upstream.Clubs {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				seen[classes.ClubID(id)] = struct{}{}
			}
		}
	}
	if filters, err := a.store.ActiveFilters(ctx); err == nil {
		for _, f := range filters {
			for _, c := range f.Club.Values() {
				seen[c] = struct{}{}
			}
		}
	}
	out := make([]classes.ClubID, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
