package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"classwatch/internal/classes"
	"classwatch/internal/dispatch"
	"classwatch/internal/ledger"
	"classwatch/internal/transport"
	"classwatch/internal/upstream"
	"classwatch/pkg/logx"
)

func (s *Service) runCycle(ctx context.Context) CycleReport {
	var rep CycleReport

	s.setPhase(PhaseFetching)
	// Filters are read once per cycle; edits land in the next one.
	filters, err := s.filters.ActiveFilters(ctx)
	if err != nil {
		rep.Err = err
		return rep
	}
	classes.SortFilters(filters)

	byUser := make(map[int64][]classes.Filter)
	for _, f := range filters {
		byUser[f.UserID] = append(byUser[f.UserID], f)
	}
	users := make([]int64, 0, len(byUser))
	for uid := range byUser {
		users = append(users, uid)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	rep.Users = len(users)

	now := time.Now()
	win := upstream.Window{From: now, To: now.Add(s.cfg.Lookahead)}
	snapshots := s.fetchAll(ctx, users, byUser, win, &rep)
	if ctx.Err() != nil {
		rep.Err = ctx.Err()
		return rep
	}

	s.setPhase(PhaseMatching)
	obligations, err := s.collect(ctx, users, byUser, snapshots)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Obligations = len(obligations)

	s.setPhase(PhaseDispatching)
	s.dispatchAll(ctx, obligations, &rep)
	return rep
}

// fetchAll pulls each user's snapshot in parallel, bounded by the
// parallelism cap. A failing user is dropped from this cycle; everyone else
// proceeds.
func (s *Service) fetchAll(ctx context.Context, users []int64, byUser map[int64][]classes.Filter, win upstream.Window, rep *CycleReport) map[int64][]classes.ClassInstance {
	type result struct {
		uid       int64
		instances []classes.ClassInstance
		err       error
	}

	sem := make(chan struct{}, s.cfg.UserParallelism)
	results := make(chan result, len(users))
	var wg sync.WaitGroup

	for _, uid := range users {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
			instances, err := s.fetcher.Fetch(fctx, uid, clubsOf(byUser[uid]), win)
			results <- result{uid: uid, instances: instances, err: err}
		}(uid)
	}
	wg.Wait()
	close(results)

	snapshots := make(map[int64][]classes.ClassInstance, len(users))
	for r := range results {
		if r.err != nil {
			rep.FailedUsers++
			switch {
			case upstream.IsAuthError(r.err):
				s.log.Warn("user session rejected, skipping until next cycle",
					logx.Int64("user", r.uid), logx.Err(r.err))
			default:
				s.log.Warn("snapshot fetch failed, skipping user",
					logx.Int64("user", r.uid), logx.Err(r.err))
			}
			continue
		}
		snapshots[r.uid] = r.instances
	}
	return snapshots
}

// clubsOf returns the distinct clubs a user's filters reference. A match-any
// club predicate contributes nothing; the fetcher then falls back to the
// user's home club.
func clubsOf(filters []classes.Filter) []classes.ClubID {
	seen := make(map[classes.ClubID]struct{})
	var out []classes.ClubID
	for _, f := range filters {
		for _, c := range f.Club.Values() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// collect runs the matcher over every (user, filter) pair and keeps only
// pairs the ledger has not seen. The first matching filter claims an
// instance; obligations come out in (user, filter, start) order.
func (s *Service) collect(ctx context.Context, users []int64, byUser map[int64][]classes.Filter, snapshots map[int64][]classes.ClassInstance) ([]obligation, error) {
	var out []obligation
	for _, uid := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snapshot, ok := snapshots[uid]
		if !ok {
			continue
		}
		claimed := make(map[classes.InstanceKey]struct{})
		for _, f := range byUser[uid] {
			for _, inst := range classes.Match(snapshot, f) {
				if _, dup := claimed[inst.Key]; dup {
					continue
				}
				fresh, err := s.ledger.IsNew(ctx, uid, inst.Key)
				if err != nil {
					// A ledger read error poisons only this obligation.
					s.log.Error("ledger lookup failed, skipping obligation",
						logx.Int64("user", uid), logx.String("key", string(inst.Key)), logx.Err(err))
					continue
				}
				if !fresh {
					continue
				}
				claimed[inst.Key] = struct{}{}
				out = append(out, obligation{UserID: uid, Filter: f, Instance: inst})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Filter.ID != b.Filter.ID {
			return a.Filter.ID < b.Filter.ID
		}
		return a.Instance.Start.Before(b.Instance.Start)
	})
	return out, nil
}

// dispatchAll sends obligations one at a time. An accepted send is committed
// immediately, before the next obligation, and the commit runs to completion
// even if the cycle is being cancelled.
func (s *Service) dispatchAll(ctx context.Context, obligations []obligation, rep *CycleReport) {
	for _, ob := range obligations {
		if ctx.Err() != nil {
			s.log.Warn("cycle cancelled, remaining obligations deferred",
				logx.Int("remaining", rep.Obligations-rep.Accepted-rep.Rejected-rep.Failed))
			return
		}

		sctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
		outcome, err := s.sender.Send(sctx, transport.ChatTarget{ChatID: ob.UserID}, dispatch.RenderAvailable(ob.Instance))
		cancel()

		switch outcome {
		case dispatch.Accepted:
			s.setPhase(PhaseCommitting)
			s.commit(ctx, ob)
			s.setPhase(PhaseDispatching)
			rep.Accepted++
		case dispatch.Rejected:
			// No commit: the pair stays open and is retried next cycle.
			rep.Rejected++
		default:
			s.log.Warn("dispatch failed, obligation deferred to next cycle",
				logx.Int64("user", ob.UserID), logx.String("key", string(ob.Instance.Key)), logx.Err(err))
			rep.Failed++
		}
	}
}

// commit records an accepted send. It deliberately ignores the caller's
// cancellation: an obligation that was dispatched must finish its commit or
// the next cycle would send it again.
func (s *Service) commit(ctx context.Context, ob obligation) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.ledger.Commit(cctx, ledger.Entry{
		UserID:     ob.UserID,
		ClassKey:   ob.Instance.Key,
		FilterID:   ob.Filter.ID,
		ClassStart: ob.Instance.Start,
	}); err != nil {
		// The documented single-obligation duplicate window.
		s.log.Error("ledger commit failed after accepted dispatch",
			logx.Int64("user", ob.UserID), logx.String("key", string(ob.Instance.Key)), logx.Err(err))
	}
	s.log.Info("notification sent",
		logx.Int64("user", ob.UserID), logx.Int64("filter", ob.Filter.ID),
		logx.String("class", ob.Instance.ClassName), logx.Time("start", ob.Instance.Start))
}
