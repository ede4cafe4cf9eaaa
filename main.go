package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds everything a command needs. It is built from Options and passed
// down explicitly.
type app struct {
	log    *logrus.Logger
	db     *gorm.DB
	store  *DBStore
	engine *Engine
}

func newApp(opts *Options) (*app, error) {
	log := newLogger(opts.LogLevel, opts.LogFormat)
	entry := logrus.NewEntry(log)

	groups, err := opts.sortedGroups()
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(opts.DatabaseURL, opts.Dev, entry)
	if err != nil {
		return nil, err
	}
	if err := applyMigrations(db); err != nil {
		return nil, err
	}

	store := NewDBStore(db)
	fetcher := NewFetcher(opts.fetcherConfig(), entry)
	engine := NewEngine(EngineConfig{
		Season:  opts.Season,
		Groups:  groups,
		Workers: opts.Workers,
	}, fetcher, store, entry)

	return &app{log: log, db: db, store: store, engine: engine}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

type refreshCommand struct {
	opts *Options
}

func (c *refreshCommand) Execute(_ []string) error {
	a, err := newApp(c.opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.engine.Run(ctx)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(report)
	}
	return err
}

type migrateCommand struct {
	opts *Options
}

func (c *migrateCommand) Execute(_ []string) error {
	a, err := newApp(c.opts)
	if err != nil {
		return err
	}
	defer a.close()
	a.log.Info("Schema is up to date")
	return nil
}

type serveCommand struct {
	opts *Options

	Listen       string `long:"listen" env:"LISTEN_ADDR" default:":8080" description:"address to serve the API on"`
	RefreshLimit string `long:"refresh-limit" env:"TGC_REFRESH_LIMIT" default:"4-H" description:"rate of on-demand refreshes (limiter format, e.g. 4-H)"`
}

func (c *serveCommand) Execute(_ []string) error {
	a, err := newApp(c.opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := NewServer(ctx, a.store, a.engine, ServerConfig{
		DevMode:      c.opts.Dev,
		RefreshLimit: c.RefreshLimit,
	}, a.log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.log.WithField("addr", c.Listen).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.Wait()
	return nil
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("refresh",
		"Scrape new tournaments and refresh stale leaderboards",
		"Runs one reconciliation pass over every configured tour group and prints the run report.",
		&refreshCommand{opts: &opts})
	parser.AddCommand("serve",
		"Serve leaderboards as JSON",
		"Serves the reporting API and an on-demand refresh endpoint.",
		&serveCommand{opts: &opts})
	parser.AddCommand("migrate",
		"Create or upgrade the database schema",
		"Creates the tournaments, leaderboards and refresh_runs tables.",
		&migrateCommand{opts: &opts})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
