package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	dataDir = ".tgcstats"
	dbName  = "tgc.db"
)

// Gateway is everything the reconciliation engine needs from storage.
// Leaderboard rows are keyed by (tournament id, player name); nothing
// outside the gateway depends on that.
type Gateway interface {
	ExistingTournamentIDs(ctx context.Context) (map[int]struct{}, error)
	TournamentsWithoutChampion(ctx context.Context) (map[int]struct{}, error)

	// CreateTournament inserts a tournament and its leaderboard atomically.
	CreateTournament(ctx context.Context, t *Tournament, rows []*PlayerResult) error
	// ReplaceLeaderboard deletes every row of the tournament and inserts
	// rows in one transaction. It returns the number of rows deleted.
	ReplaceLeaderboard(ctx context.Context, tournamentID int, rows []*PlayerResult) (int64, error)
	Leaderboard(ctx context.Context, tournamentID int) ([]*PlayerResult, error)
	UpdateChampion(ctx context.Context, tournamentID int, champion string) error
	RecordRun(ctx context.Context, run *RefreshRun) error
}

// DBStore is the gorm implementation of Gateway plus the reporting reads.
type DBStore struct {
	db *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// openDatabase opens the store named by dsn. postgres:// URLs use the
// postgres driver; anything else is a sqlite file, defaulting to
// ~/.tgcstats/tgc.db.
func openDatabase(dsn string, dev bool, log *logrus.Entry) (*gorm.DB, error) {
	level := logger.Warn
	if dev {
		level = logger.Info
	}
	cfg := &gorm.Config{
		Logger: logger.New(log.WithField("component", "gorm"), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	}

	if dsn == "" {
		// Get the OS specific home directory via the Go standard lib.
		var homeDir string
		usr, err := user.Current()
		if err == nil {
			homeDir = usr.HomeDir
		}
		// Fall back to HOME if the standard lib lookup failed.
		if err != nil || homeDir == "" {
			homeDir = os.Getenv("HOME")
		}
		dataDirPath := path.Join(homeDir, dataDir)
		if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
			return nil, err
		}
		dsn = path.Join(dataDirPath, dbName)
	}

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", dsn, err)
	}
	// sqlite allows one writer; in-memory databases are also per connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func applyMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&Tournament{}, &PlayerResult{}, &RefreshRun{})
}

func (s *DBStore) ExistingTournamentIDs(ctx context.Context) (map[int]struct{}, error) {
	var ids []int
	if err := s.db.WithContext(ctx).Model(&Tournament{}).Pluck("id", &ids).Error; err != nil {
		return nil, &PersistenceError{Op: "load tournament ids", Err: err}
	}
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

func (s *DBStore) TournamentsWithoutChampion(ctx context.Context) (map[int]struct{}, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&Tournament{}).
		Where("champion = ? OR champion IS NULL", "").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, &PersistenceError{Op: "load open tournaments", Err: err}
	}
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// InsertTournaments, InsertLeaderboard and DeleteLeaderboard are single
// statement writes for seeding and repair. The engine only writes through
// the transactional CreateTournament and ReplaceLeaderboard.

func (s *DBStore) InsertTournaments(ctx context.Context, tournaments []*Tournament) error {
	if len(tournaments) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&tournaments).Error; err != nil {
		return &PersistenceError{Op: "insert tournaments", Err: err}
	}
	return nil
}

func (s *DBStore) InsertLeaderboard(ctx context.Context, rows []*PlayerResult) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return &PersistenceError{Op: "insert leaderboard", TournamentID: rows[0].TournamentID, Err: err}
	}
	return nil
}

func (s *DBStore) DeleteLeaderboard(ctx context.Context, tournamentID int) (int64, error) {
	res := s.db.WithContext(ctx).Where("tournament_id = ?", tournamentID).Delete(&PlayerResult{})
	if res.Error != nil {
		return 0, &PersistenceError{Op: "delete leaderboard", TournamentID: tournamentID, Err: res.Error}
	}
	return res.RowsAffected, nil
}

func (s *DBStore) CreateTournament(ctx context.Context, t *Tournament, rows []*PlayerResult) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			if isUniqueConstraintError(err) {
				return errTournamentExists
			}
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return &PersistenceError{Op: "create tournament", TournamentID: t.ID, Err: err}
	}
	return nil
}

func (s *DBStore) ReplaceLeaderboard(ctx context.Context, tournamentID int, rows []*PlayerResult) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tournament_id = ?", tournamentID).Delete(&PlayerResult{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return 0, &PersistenceError{Op: "replace leaderboard", TournamentID: tournamentID, Err: err}
	}
	return deleted, nil
}

func (s *DBStore) Leaderboard(ctx context.Context, tournamentID int) ([]*PlayerResult, error) {
	var rows []*PlayerResult
	err := s.db.WithContext(ctx).
		Where("tournament_id = ?", tournamentID).
		Order("player ASC").
		Find(&rows).Error
	if err != nil {
		return nil, &PersistenceError{Op: "load leaderboard", TournamentID: tournamentID, Err: err}
	}
	return rows, nil
}

func (s *DBStore) UpdateChampion(ctx context.Context, tournamentID int, champion string) error {
	err := s.db.WithContext(ctx).Model(&Tournament{}).
		Where("id = ?", tournamentID).
		Update("champion", champion).Error
	if err != nil {
		return &PersistenceError{Op: "update champion", TournamentID: tournamentID, Err: err}
	}
	return nil
}

func (s *DBStore) RecordRun(ctx context.Context, run *RefreshRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return &PersistenceError{Op: "record run", Err: err}
	}
	return nil
}

// Reporting reads.

func groupIs(group string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "group"}, Value: group}
}

// Groups returns the tour group letters that have leaderboard rows.
func (s *DBStore) Groups(ctx context.Context) ([]string, error) {
	groups := make([]string, 0)
	if err := s.db.WithContext(ctx).Model(&PlayerResult{}).Distinct().Pluck("group", &groups).Error; err != nil {
		return nil, err
	}
	sort.Strings(groups)
	return groups, nil
}

// Tournaments lists tournaments ordered by week. A non-empty group limits
// the list to tournaments with rows in that group.
func (s *DBStore) Tournaments(ctx context.Context, group string) ([]*TournamentSummary, error) {
	q := s.db.WithContext(ctx).Model(&PlayerResult{}).Distinct("tournament_id", "group")
	if group != "" {
		q = q.Where(groupIs(group))
	}
	var pairs []PlayerResult
	if err := q.Find(&pairs).Error; err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return []*TournamentSummary{}, nil
	}

	groupOf := make(map[int]string, len(pairs))
	ids := make([]int, 0, len(pairs))
	for _, p := range pairs {
		if _, ok := groupOf[p.TournamentID]; !ok {
			ids = append(ids, p.TournamentID)
		}
		groupOf[p.TournamentID] = p.Group
	}

	var tournaments []*Tournament
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("week ASC, id ASC").Find(&tournaments).Error; err != nil {
		return nil, err
	}
	out := make([]*TournamentSummary, 0, len(tournaments))
	for _, t := range tournaments {
		out = append(out, &TournamentSummary{
			Tournament: *t,
			Group:      groupOf[t.ID],
			Label:      tournamentLabel(t),
		})
	}
	return out, nil
}

type LeaderboardFilter struct {
	Group        string
	TournamentID int
}

// LeaderboardRows joins leaderboard rows with their tournaments and ranks
// each tournament. Tournaments are ordered by week.
func (s *DBStore) LeaderboardRows(ctx context.Context, f LeaderboardFilter) ([]*LeaderboardRow, error) {
	q := s.db.WithContext(ctx).Model(&PlayerResult{})
	if f.Group != "" {
		q = q.Where(groupIs(f.Group))
	}
	if f.TournamentID != 0 {
		q = q.Where("tournament_id = ?", f.TournamentID)
	}
	var results []*PlayerResult
	if err := q.Order("tournament_id ASC, player ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []*LeaderboardRow{}, nil
	}

	seen := make(map[int]bool)
	ids := make([]int, 0)
	for _, r := range results {
		if !seen[r.TournamentID] {
			seen[r.TournamentID] = true
			ids = append(ids, r.TournamentID)
		}
	}
	var tournaments []*Tournament
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("week ASC, id ASC").Find(&tournaments).Error; err != nil {
		return nil, err
	}
	return buildLeaderboardRows(tournaments, results), nil
}

// Runs returns the most recent refresh runs, newest first.
func (s *DBStore) Runs(ctx context.Context, limit int) ([]*RefreshRun, error) {
	runs := make([]*RefreshRun, 0, limit)
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
