package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

type ServerConfig struct {
	DevMode bool
	// RefreshLimit is the on-demand refresh rate in limiter format ("4-H").
	RefreshLimit string
}

// Server exposes the reporting reads and an on-demand refresh.
type Server struct {
	r              chi.Router
	store          *DBStore
	engine         *Engine
	refreshLimiter *limiter.Limiter
	log            *logrus.Entry
	devMode        bool

	// ctx bounds background refresh runs; it ends on shutdown.
	ctx        context.Context
	refreshing sync.Mutex
	wg         sync.WaitGroup
}

func NewServer(ctx context.Context, store *DBStore, engine *Engine, cfg ServerConfig, log *logrus.Logger) (*Server, error) {
	if cfg.RefreshLimit == "" {
		cfg.RefreshLimit = "4-H"
	}
	rate, err := limiter.NewRateFromFormatted(cfg.RefreshLimit)
	if err != nil {
		return nil, err
	}

	s := &Server{
		r:              chi.NewRouter(),
		store:          store,
		engine:         engine,
		refreshLimiter: limiter.New(memory.NewStore(), rate),
		log:            log.WithField("component", "server"),
		devMode:        cfg.DevMode,
		ctx:            ctx,
	}

	// Middleware
	s.r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}))
	s.r.Use(middleware.Recoverer)
	s.r.Use(s.corsHandler())

	s.r.Get("/api/groups", s.GETGroups)
	s.r.Get("/api/tournaments", s.GETTournaments)
	s.r.Get("/api/leaderboard", s.GETLeaderboard)
	s.r.Get("/api/runs", s.GETRuns)
	s.r.Post("/api/refresh", s.POSTRefresh)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

// Wait blocks until background refresh runs have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	origins := []string{"https://*"}
	if s.devMode {
		origins = []string{"https://*", "http://*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}

func (s *Server) GETGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.Groups(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to load groups")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) GETTournaments(w http.ResponseWriter, r *http.Request) {
	group, ok := parseGroup(r.URL.Query().Get("group"))
	if !ok {
		http.Error(w, "Malformed group", http.StatusBadRequest)
		return
	}

	tournaments, err := s.store.Tournaments(r.Context(), group)
	if err != nil {
		s.log.WithError(err).Error("Failed to load tournaments")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tournaments)
}

// GETLeaderboard returns ranked rows: complete rows by position, then
// incomplete rows without a position.
func (s *Server) GETLeaderboard(w http.ResponseWriter, r *http.Request) {
	group, ok := parseGroup(r.URL.Query().Get("group"))
	if !ok {
		http.Error(w, "Malformed group", http.StatusBadRequest)
		return
	}
	tournamentID, ok := parsePositiveInt(r.URL.Query().Get("tournament"))
	if !ok {
		http.Error(w, "Malformed tournament id", http.StatusBadRequest)
		return
	}

	rows, err := s.store.LeaderboardRows(r.Context(), LeaderboardFilter{
		Group:        group,
		TournamentID: tournamentID,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to load leaderboard")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if tournamentID != 0 && len(rows) == 0 {
		http.Error(w, "Tournament not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) GETRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parsePositiveInt(r.URL.Query().Get("limit"))
	if !ok {
		http.Error(w, "Malformed limit", http.StatusBadRequest)
		return
	}
	if limit == 0 || limit > 100 {
		limit = 20
	}

	runs, err := s.store.Runs(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to load runs")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// POSTRefresh starts a reconciliation run in the background. Only one run
// can be in flight and started runs are rate limited per client; a request
// turned away because a run is in flight does not count.
func (s *Server) POSTRefresh(w http.ResponseWriter, r *http.Request) {
	key := refreshRateLimitKey(r)
	lctx, err := s.refreshLimiter.Peek(r.Context(), key)
	if err != nil {
		http.Error(w, "Rate limiter error", http.StatusInternalServerError)
		return
	}
	// Peek does not count this request, so no remaining slot means the
	// limit is already used up.
	if lctx.Reached || lctx.Remaining == 0 {
		http.Error(w, "Too many refresh requests", http.StatusTooManyRequests)
		return
	}

	if !s.refreshing.TryLock() {
		http.Error(w, "Refresh already running", http.StatusConflict)
		return
	}
	if _, err := s.refreshLimiter.Increment(r.Context(), key, 1); err != nil {
		s.log.WithError(err).Warn("Failed to count refresh request")
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.refreshing.Unlock()

		start := time.Now()
		report, err := s.engine.Run(s.ctx)
		if err != nil {
			s.log.WithError(err).Error("Refresh run aborted")
			return
		}
		s.log.WithFields(logrus.Fields{
			"added":    report.Added,
			"updated":  report.Updated,
			"skipped":  len(report.Skips),
			"duration": time.Since(start),
		}).Info("On-demand refresh finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func refreshRateLimitKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "refresh:" + host
}
