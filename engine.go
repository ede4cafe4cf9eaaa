package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// Group is one tour group: its letter and the upstream tour id.
type Group struct {
	Label  string
	TourID int
}

type EngineConfig struct {
	Season int
	Groups []Group
	// Workers bounds how many tournaments of a group are processed at once.
	Workers int
}

// Skip is one unit of work the run gave up on.
type Skip struct {
	Group        string `json:"group"`
	TournamentID int    `json:"tournamentId,omitempty"`
	Reason       string `json:"reason"`
}

// RunReport summarises a reconciliation run.
type RunReport struct {
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
	Season           int       `json:"season"`
	Added            int       `json:"added"`
	Updated          int       `json:"updated"`
	Unchanged        int       `json:"unchanged"`
	ChampionsUpdated int       `json:"championsUpdated"`
	RowsDropped      int       `json:"rowsDropped"`
	Skips            []Skip    `json:"skips"`

	mu sync.Mutex
}

func (r *RunReport) add(fn func(r *RunReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *RunReport) skip(group string, tournamentID int, err error) {
	r.add(func(r *RunReport) {
		r.Skips = append(r.Skips, Skip{Group: group, TournamentID: tournamentID, Reason: err.Error()})
	})
}

// snapshot is the store state taken once at the start of a run. claimed
// keeps a tournament id from being processed twice in the same run.
type snapshot struct {
	existing   map[int]struct{}
	noChampion map[int]struct{}
	mu         sync.Mutex
	claimed    map[int]string
}

func (s *snapshot) claim(id int, group string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.claimed[id]; ok {
		return owner, false
	}
	s.claimed[id] = group
	return group, true
}

// refreshDecision is what happens to a tournament that is already stored.
type refreshDecision int

const (
	decisionStable refreshDecision = iota
	decisionStalePromotion
)

func (d refreshDecision) String() string {
	if d == decisionStalePromotion {
		return "stale_promotion"
	}
	return "stable"
}

// Engine decides, per group and per tournament, what to fetch and write.
type Engine struct {
	cfg   EngineConfig
	pages Pages
	store Gateway
	log   *logrus.Entry
}

func NewEngine(cfg EngineConfig, pages Pages, store Gateway, log *logrus.Entry) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{
		cfg:   cfg,
		pages: pages,
		store: store,
		log:   log.WithField("component", "engine"),
	}
}

// Run reconciles every configured group in order and records the run. Unit
// failures become skips; the returned error is only set when the run could
// not start or the context was cancelled.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{StartedAt: time.Now().UTC(), Season: e.cfg.Season, Skips: []Skip{}}

	existing, err := e.store.ExistingTournamentIDs(ctx)
	if err != nil {
		return nil, err
	}
	noChampion, err := e.store.TournamentsWithoutChampion(ctx)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{existing: existing, noChampion: noChampion, claimed: make(map[int]string)}

	var runErr error
	for _, g := range e.cfg.Groups {
		if err := e.reconcile(ctx, g, snap, report); err != nil {
			runErr = err
			break
		}
	}
	report.FinishedAt = time.Now().UTC()

	e.log.WithFields(logrus.Fields{
		"added":     report.Added,
		"updated":   report.Updated,
		"unchanged": report.Unchanged,
		"champions": report.ChampionsUpdated,
		"dropped":   report.RowsDropped,
		"skipped":   len(report.Skips),
	}).Info("Refresh run finished")

	// The run history is written even when the run was cancelled.
	if err := e.store.RecordRun(context.WithoutCancel(ctx), report.record()); err != nil {
		e.log.WithError(err).Error("Failed to record refresh run")
	}
	return report, runErr
}

func (r *RunReport) record() *RefreshRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	skips, _ := json.Marshal(r.Skips)
	return &RefreshRun{
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		Season:           r.Season,
		Added:            r.Added,
		Updated:          r.Updated,
		Unchanged:        r.Unchanged,
		ChampionsUpdated: r.ChampionsUpdated,
		RowsDropped:      r.RowsDropped,
		Skips:            datatypes.JSON(skips),
	}
}

// reconcile processes one group: fetch its listing, split it into new and
// stored tournaments, then handle each tournament as an independent unit.
func (e *Engine) reconcile(ctx context.Context, g Group, snap *snapshot, report *RunReport) error {
	log := e.log.WithField("group", g.Label)

	markup, err := e.pages.TournamentList(ctx, g.TourID, e.cfg.Season)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("Skipping group, tournament list unavailable")
		report.skip(g.Label, 0, err)
		return nil
	}
	tournaments, stats, err := parseTournaments(markup)
	if err != nil {
		log.WithError(err).Warn("Skipping group, tournament list unreadable")
		report.skip(g.Label, 0, err)
		return nil
	}
	e.logDrops(log, stats)
	report.add(func(r *RunReport) { r.RowsDropped += stats.Dropped })

	var newCount int
	for _, t := range tournaments {
		if _, ok := snap.existing[t.ID]; !ok {
			newCount++
		}
	}
	log.WithFields(logrus.Fields{
		"tournaments": len(tournaments),
		"new":         newCount,
	}).Info("Tournament list parsed")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Workers)
	for _, t := range tournaments {
		if owner, ok := snap.claim(t.ID, g.Label); !ok {
			log.WithFields(logrus.Fields{
				"tournament_id": t.ID,
				"owner":         owner,
			}).Warn("Tournament listed by more than one group, ignoring")
			continue
		}
		t := t
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if _, ok := snap.existing[t.ID]; ok {
				return e.refreshPersisted(egCtx, g, t, snap, report)
			}
			return e.insertNew(egCtx, g, t, report)
		})
	}
	return eg.Wait()
}

// insertNew handles a tournament missing from the store: its leaderboard is
// fetched and written together with the tournament row. On failure nothing
// is written so the next run sees it as new again.
func (e *Engine) insertNew(ctx context.Context, g Group, t *Tournament, report *RunReport) error {
	log := e.log.WithFields(logrus.Fields{"group": g.Label, "tournament_id": t.ID})

	rows, err := e.fetchLeaderboard(ctx, g, t.ID, report)
	if err != nil {
		return e.skipOrAbort(ctx, log, g, t.ID, err, report)
	}
	if err := e.store.CreateTournament(ctx, t, rows); err != nil {
		// Another writer stored it after the snapshot was taken.
		if errors.Is(err, errTournamentExists) {
			log.Debug("Tournament stored concurrently")
			report.add(func(r *RunReport) { r.Unchanged++ })
			return nil
		}
		return e.skipOrAbort(ctx, log, g, t.ID, err, report)
	}
	log.WithFields(logrus.Fields{
		"tournament": t.TournamentName,
		"players":    len(rows),
	}).Info("Tournament added")
	report.add(func(r *RunReport) { r.Added++ })
	return nil
}

// refreshPersisted handles a stored tournament: backfill a champion that has
// appeared upstream, and replace the leaderboard when its top row still has
// no promotion marks.
func (e *Engine) refreshPersisted(ctx context.Context, g Group, t *Tournament, snap *snapshot, report *RunReport) error {
	log := e.log.WithFields(logrus.Fields{"group": g.Label, "tournament_id": t.ID})

	if _, blank := snap.noChampion[t.ID]; blank && t.Champion != "" {
		if err := e.store.UpdateChampion(ctx, t.ID, t.Champion); err != nil {
			if skipErr := e.skipOrAbort(ctx, log, g, t.ID, err, report); skipErr != nil {
				return skipErr
			}
		} else {
			log.WithField("champion", t.Champion).Info("Champion recorded")
			report.add(func(r *RunReport) { r.ChampionsUpdated++ })
		}
	}

	stored, err := e.store.Leaderboard(ctx, t.ID)
	if err != nil {
		return e.skipOrAbort(ctx, log, g, t.ID, err, report)
	}
	decision := refreshDecisionFor(stored)
	if decision == decisionStable {
		report.add(func(r *RunReport) { r.Unchanged++ })
		return nil
	}

	rows, err := e.fetchLeaderboard(ctx, g, t.ID, report)
	if err != nil {
		return e.skipOrAbort(ctx, log, g, t.ID, err, report)
	}
	if len(rows) == 0 {
		if len(stored) > 0 {
			report.skip(g.Label, t.ID, errors.New("upstream leaderboard has no player rows, keeping stored rows"))
		} else {
			report.add(func(r *RunReport) { r.Unchanged++ })
		}
		return nil
	}
	deleted, err := e.store.ReplaceLeaderboard(ctx, t.ID, rows)
	if err != nil {
		return e.skipOrAbort(ctx, log, g, t.ID, err, report)
	}
	log.WithFields(logrus.Fields{
		"decision": decision.String(),
		"deleted":  deleted,
		"inserted": len(rows),
	}).Info("Leaderboard replaced")
	report.add(func(r *RunReport) { r.Updated++ })
	return nil
}

// refreshDecisionFor marks a tournament stale when its best-placed stored
// row carries no promotion marks, or when it has no rows at all.
func refreshDecisionFor(stored []*PlayerResult) refreshDecision {
	top := topResult(stored)
	if top == nil || top.Promotion == "" {
		return decisionStalePromotion
	}
	return decisionStable
}

func (e *Engine) fetchLeaderboard(ctx context.Context, g Group, tournamentID int, report *RunReport) ([]*PlayerResult, error) {
	markup, err := e.pages.Leaderboard(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	rows, stats, err := parseLeaderboard(markup, tournamentID, g.Label)
	if err != nil {
		return nil, err
	}
	e.logDrops(e.log.WithFields(logrus.Fields{"group": g.Label, "tournament_id": tournamentID}), stats)
	report.add(func(r *RunReport) { r.RowsDropped += stats.Dropped })
	return rows, nil
}

// skipOrAbort records err as a skip for the tournament. Cancellation is
// not a skip: it is returned so the run stops.
func (e *Engine) skipOrAbort(ctx context.Context, log *logrus.Entry, g Group, tournamentID int, err error, report *RunReport) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.WithError(err).Warn("Skipping tournament")
	report.skip(g.Label, tournamentID, err)
	return nil
}

func (e *Engine) logDrops(log *logrus.Entry, stats *ParseStats) {
	if stats.Dropped == 0 {
		return
	}
	log.WithField("dropped", stats.Dropped).Info("Dropped malformed rows")
	for _, perr := range stats.Errors {
		log.WithError(perr).Debug("Dropped row")
	}
}
