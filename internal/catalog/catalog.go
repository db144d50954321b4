// Package catalog caches the enumerable filter dimensions (zones, trainers,
// class types, categories) per club. It refreshes on a slower cadence than
// the availability poll and keeps serving the last good value on refresh
// failure: staleness is preferred to unavailability.
package catalog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"classwatch/internal/classes"
	"classwatch/internal/storage"
	"classwatch/internal/upstream"
	"classwatch/pkg/logx"
)

// Dimension names one enumerable filter axis.
type Dimension string

const (
	DimZones      Dimension = "zones"
	DimTrainers   Dimension = "trainers"
	DimTimetables Dimension = "timetables"
	DimCategories Dimension = "categories"
)

// Entry is one enumerable value of a dimension.
type Entry = upstream.FilterOption

// FetchFunc retrieves the upstream filter sets for one club. The caller
// decides which user's session performs the request.
type FetchFunc func(ctx context.Context, club classes.ClubID) (upstream.FilterSets, error)

// CacheStore persists refreshed payloads so the catalog survives restarts.
type CacheStore interface {
	PutCatalog(ctx context.Context, row storage.CatalogRow) error
	LoadCatalog(ctx context.Context) ([]storage.CatalogRow, error)
}

type key struct {
	club classes.ClubID
	dim  Dimension
}

type Service struct {
	fetch FetchFunc
	store CacheStore
	log   logx.Logger

	mu          sync.RWMutex
	entries     map[key][]Entry
	refreshedAt map[key]time.Time
}

func New(fetch FetchFunc, store CacheStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		fetch:       fetch,
		store:       store,
		log:         log,
		entries:     make(map[key][]Entry),
		refreshedAt: make(map[key]time.Time),
	}
}

// Load warms the in-memory cache from the persisted rows. Unparseable rows
// are skipped; they will be replaced on the next successful refresh.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.store.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		var es []Entry
		if err := json.Unmarshal(row.Payload, &es); err != nil {
			s.log.Warn("skipping corrupt catalog row",
				logx.Int64("club", int64(row.Club)), logx.String("dimension", row.Dimension), logx.Err(err))
			continue
		}
		k := key{club: row.Club, dim: Dimension(row.Dimension)}
		s.entries[k] = es
		s.refreshedAt[k] = row.RefreshedAt
	}
	s.log.Info("catalog cache loaded", logx.Int("rows", len(rows)))
	return nil
}

// Get returns the last successfully refreshed entries for the dimension.
// It never blocks on a refresh; an unknown (club, dimension) yields nil.
func (s *Service) Get(club classes.ClubID, dim Dimension) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	es := s.entries[key{club: club, dim: dim}]
	if es == nil {
		return nil
	}
	return append([]Entry(nil), es...)
}

// LastRefreshed reports when the dimension was last successfully refreshed;
// the zero time means never. This is the externally observable staleness
// bound.
func (s *Service) LastRefreshed(club classes.ClubID, dim Dimension) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt[key{club: club, dim: dim}]
}

// Refresh re-fetches all dimensions for the given clubs. A failing club is
// logged and skipped; its previous entries keep serving indefinitely.
func (s *Service) Refresh(ctx context.Context, clubs []classes.ClubID) {
	for _, club := range clubs {
		if ctx.Err() != nil {
			return
		}
		sets, err := s.fetch(ctx, club)
		if err != nil {
			s.log.Warn("catalog refresh failed, serving stale entries",
				logx.Int64("club", int64(club)),
				logx.Time("last_refreshed", s.LastRefreshed(club, DimZones)),
				logx.Err(err))
			continue
		}
		now := time.Now()
		s.commit(ctx, club, DimZones, sets.Zones, now)
		s.commit(ctx, club, DimTrainers, sets.Trainers, now)
		s.commit(ctx, club, DimTimetables, sets.Timetables, now)
		s.commit(ctx, club, DimCategories, sets.Categories, now)
		s.log.Debug("catalog refreshed", logx.Int64("club", int64(club)),
			logx.Int("zones", len(sets.Zones)), logx.Int("trainers", len(sets.Trainers)),
			logx.Int("timetables", len(sets.Timetables)))
	}
}

func (s *Service) commit(ctx context.Context, club classes.ClubID, dim Dimension, es []Entry, at time.Time) {
	s.mu.Lock()
	k := key{club: club, dim: dim}
	s.entries[k] = append([]Entry(nil), es...)
	s.refreshedAt[k] = at
	s.mu.Unlock()

	payload, err := json.Marshal(es)
	if err != nil {
		s.log.Error("catalog payload marshal failed", logx.String("dimension", string(dim)), logx.Err(err))
		return
	}
	// Persistence is best-effort; the in-memory value already serves readers.
	if err := s.store.PutCatalog(ctx, storage.CatalogRow{
		Club: club, Dimension: string(dim), Payload: payload, RefreshedAt: at,
	}); err != nil {
		s.log.Warn("catalog persist failed", logx.Int64("club", int64(club)),
			logx.String("dimension", string(dim)), logx.Err(err))
	}
}
