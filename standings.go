package main

import (
	"fmt"
	"sort"
)

// rankResults assigns competition-style positions ("1, 1, 3") to the rows
// that have all four rounds, ordered by strokes ascending. Incomplete rows
// get no position and follow every ranked row in their input order.
func rankResults(results []*PlayerResult) []*Standing {
	complete := make([]*Standing, 0, len(results))
	incomplete := make([]*Standing, 0)
	for _, r := range results {
		s := &Standing{PlayerResult: *r, Completo: r.Complete()}
		if s.Completo {
			complete = append(complete, s)
		} else {
			incomplete = append(incomplete, s)
		}
	}

	sort.SliceStable(complete, func(i, j int) bool {
		return rankingStrokes(&complete[i].PlayerResult) < rankingStrokes(&complete[j].PlayerResult)
	})
	for i, s := range complete {
		pos := i + 1
		if i > 0 && rankingStrokes(&complete[i-1].PlayerResult) == rankingStrokes(&s.PlayerResult) {
			pos = *complete[i-1].Position
		}
		s.Position = &pos
	}

	return append(complete, incomplete...)
}

// rankingStrokes is the recorded stroke total, or the sum of the four rounds
// when the total cell was blank.
func rankingStrokes(p *PlayerResult) int {
	if p.Strokes != nil {
		return *p.Strokes
	}
	sum := 0
	for _, r := range p.Rounds() {
		if r != nil {
			sum += *r
		}
	}
	return sum
}

// topResult returns the best-placed result of a tournament, or nil when it
// has no rows.
func topResult(results []*PlayerResult) *Standing {
	ranked := rankResults(results)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0]
}

// buildLeaderboardRows ranks each tournament's results and joins them with
// their tournament. Tournaments are emitted in the order given.
func buildLeaderboardRows(tournaments []*Tournament, results []*PlayerResult) []*LeaderboardRow {
	byTournament := make(map[int][]*PlayerResult, len(tournaments))
	for _, r := range results {
		byTournament[r.TournamentID] = append(byTournament[r.TournamentID], r)
	}

	rows := make([]*LeaderboardRow, 0, len(results))
	for _, t := range tournaments {
		for _, s := range rankResults(byTournament[t.ID]) {
			rows = append(rows, &LeaderboardRow{
				Position:       s.Position,
				Player:         s.Player,
				Group:          s.Group,
				Nationality:    s.Nationality,
				Platform:       s.Platform,
				R1:             s.R1,
				R2:             s.R2,
				R3:             s.R3,
				R4:             s.R4,
				Strokes:        s.Strokes,
				Total:          s.Total,
				Earnings:       s.Earnings,
				Promotion:      s.Promotion,
				TournamentID:   t.ID,
				TournamentName: t.TournamentName,
				Course:         t.Course,
				Purse:          t.Purse,
				Dates:          t.Dates,
				Week:           t.Week,
			})
		}
	}
	return rows
}

// tournamentLabel is the selector label used by the reporting surface.
func tournamentLabel(t *Tournament) string {
	return fmt.Sprintf("%02d - %s (%s)", t.Week, t.TournamentName, t.Dates)
}
