package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const chromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/115.0.0.0 Safari/537.36"

// Pages is the upstream source as seen by the reconciliation engine.
type Pages interface {
	TournamentList(ctx context.Context, tourID, season int) ([]byte, error)
	Leaderboard(ctx context.Context, tournamentID int) ([]byte, error)
}

type FetcherConfig struct {
	TournamentsURL string
	LeaderboardURL string
	Timeout        time.Duration
	Retries        int
	RetryWait      time.Duration
	// Delay is the minimum spacing between two requests to the upstream
	// site, shared by every caller of the fetcher.
	Delay time.Duration
}

// Fetcher downloads raw result pages. Every request waits on one shared
// token bucket, runs through a circuit breaker and is retried with
// exponential backoff when the failure is temporary.
type Fetcher struct {
	cfg     FetcherConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     *logrus.Entry
}

func NewFetcher(cfg FetcherConfig, log *logrus.Entry) *Fetcher {
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}
	f := &Fetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), 1),
		log:     log.WithField("component", "fetcher"),
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upstream",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A 404 means the site answered; only transport errors and 5xx
		// count against the upstream.
		IsSuccessful: func(err error) bool {
			var fe *FetchError
			if errors.As(err, &fe) {
				return !fe.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return f
}

func (f *Fetcher) TournamentList(ctx context.Context, tourID, season int) ([]byte, error) {
	return f.Fetch(ctx, fmt.Sprintf(f.cfg.TournamentsURL, tourID, season))
}

func (f *Fetcher) Leaderboard(ctx context.Context, tournamentID int) ([]byte, error) {
	return f.Fetch(ctx, fmt.Sprintf(f.cfg.LeaderboardURL, tournamentID))
}

// Fetch returns the body of url. Non-2xx responses and transport failures
// come back as *FetchError once retries are exhausted.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		out, err := f.breaker.Execute(func() (interface{}, error) {
			return f.visit(url)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(&FetchError{URL: url, Err: err})
			}
			var fe *FetchError
			if errors.As(err, &fe) && !fe.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = out.([]byte)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.cfg.RetryWait
	policy.MaxElapsedTime = 0
	retries := f.cfg.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		f.log.WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempt,
			"wait":    wait,
		}).WithError(err).Warn("Fetch failed, retrying")
	})
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{URL: url, Err: err}
	}
	return body, nil
}

func (f *Fetcher) visit(url string) ([]byte, error) {
	c := colly.NewCollector(
		colly.UserAgent(chromeUserAgent),
		colly.AllowURLRevisit(),
	)
	if f.cfg.Timeout > 0 {
		c.SetRequestTimeout(f.cfg.Timeout)
	}

	var (
		body   []byte
		status int
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
		f.log.WithField("url", r.URL.String()).Debug("Visiting")
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, _ error) {
		status = r.StatusCode
	})

	if err := c.Visit(url); err != nil {
		return nil, &FetchError{URL: url, StatusCode: status, Err: err}
	}
	if status < 200 || status > 299 {
		return nil, &FetchError{URL: url, StatusCode: status, Err: errors.New("unexpected status")}
	}
	return body, nil
}
