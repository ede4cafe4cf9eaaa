package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Options are shared by every command. Each can also be set through the
// environment or a .env file in the working directory.
type Options struct {
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"postgres:// connection string or sqlite file path (default ~/.tgcstats/tgc.db)"`
	Dev         bool   `long:"dev" env:"TGC_DEV" description:"log SQL statements and allow any CORS origin"`
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"log level"`
	LogFormat   string `long:"log-format" env:"LOG_FORMAT" default:"text" choice:"text" choice:"json" description:"log output format"`

	Season int            `long:"season" env:"TGC_SEASON" default:"2025" description:"season to scrape"`
	Groups map[string]int `long:"group" env:"TGC_GROUPS" env-delim:"," description:"tour group as LETTER:TOUR_ID, repeatable" default:"A:10" default:"B:11" default:"C:12" default:"D:13" default:"E:14" default:"F:19" default:"G:20" default:"H:22" default:"I:23" default:"J:24" default:"K:25" default:"L:26"`

	TournamentsURL string        `long:"tournaments-url" env:"TGC_TOURNAMENTS_URL" default:"https://www.tgctours.com/Tour/Tournaments?tourId=%d&season=%d" description:"tournament list URL template (tour id, season)"`
	LeaderboardURL string        `long:"leaderboard-url" env:"TGC_LEADERBOARD_URL" default:"https://www.tgctours.com/Tournament/Leaderboard/%d?showEarnings=True" description:"leaderboard URL template (tournament id)"`
	RequestTimeout time.Duration `long:"request-timeout" env:"TGC_REQUEST_TIMEOUT" default:"20s" description:"timeout for one page request"`
	Retries        int           `long:"retries" env:"TGC_RETRIES" default:"3" description:"retries for a failed page request"`
	RequestDelay   time.Duration `long:"request-delay" env:"TGC_REQUEST_DELAY" default:"500ms" description:"minimum delay between two upstream requests"`
	Workers        int           `long:"workers" env:"TGC_WORKERS" default:"1" description:"tournaments processed concurrently within a group"`
}

// sortedGroups returns the configured groups ordered by letter.
func (o *Options) sortedGroups() ([]Group, error) {
	groups := make([]Group, 0, len(o.Groups))
	for label, tourID := range o.Groups {
		label = strings.ToUpper(strings.TrimSpace(label))
		if label == "" || tourID <= 0 {
			return nil, fmt.Errorf("invalid group %q:%d", label, tourID)
		}
		groups = append(groups, Group{Label: label, TourID: tourID})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Label < groups[j].Label
	})
	return groups, nil
}

func (o *Options) fetcherConfig() FetcherConfig {
	return FetcherConfig{
		TournamentsURL: o.TournamentsURL,
		LeaderboardURL: o.LeaderboardURL,
		Timeout:        o.RequestTimeout,
		Retries:        o.Retries,
		Delay:          o.RequestDelay,
	}
}

// newLogger builds the process logger. Components receive entries derived
// from it rather than using the logrus package logger.
func newLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if lvl, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.InfoLevel)
		log.WithField("invalid_level", level).Warn("Invalid log level, using info")
	}

	if strings.ToLower(format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return log
}
