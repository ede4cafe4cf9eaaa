package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	minTournamentCells  = 6
	minLeaderboardCells = 12
)

// column locates a cell by its data-title attribute, falling back to a fixed
// position when no cell carries a matching title and the cell at that
// position carries no title of its own.
type column struct {
	titles []string
	index  int
}

var (
	colWeek     = column{[]string{"Week", "Wk"}, 0}
	colDates    = column{[]string{"Dates", "Date"}, 1}
	colName     = column{[]string{"Tournament", "Name"}, 2}
	colCourse   = column{[]string{"Course"}, 3}
	colPurse    = column{[]string{"Purse"}, 4}
	colChampion = column{[]string{"Champion", "Winner"}, 5}
	colLink     = column{[]string{"Leaderboard", "Results"}, 6}

	colNation   = column{[]string{"Country", "Nationality", "Nat"}, 1}
	colPlayer   = column{[]string{"Player"}, 2}
	colToPar    = column{[]string{"To Par", "ToPar", "+/-"}, 3}
	colRounds   = [4]column{{[]string{"R1"}, 4}, {[]string{"R2"}, 5}, {[]string{"R3"}, 6}, {[]string{"R4"}, 7}}
	colStrokes  = column{[]string{"Total", "Strokes"}, 8}
	colEarnings = column{[]string{"Earnings", "Money"}, 10}
	colMarks    = column{[]string{"Marks"}, 11}
)

var tournamentLinkRe = regexp.MustCompile(`(?i)/(?:Leaderboard|Tournament)/(\d+)`)

// markClasses maps icon classes to promotion marks. Order matters: an icon
// carrying several known classes maps to the first one listed.
var markClasses = []struct {
	class string
	mark  string
}{
	{"fe-icon-arrow-up-circle", MarkPromoted},
	{"fe-icon-arrow-down-circle", MarkRelegated},
	{"fe-icon-award", MarkWinner},
	{"fa-bolt", MarkFastTrack},
}

// ParseStats reports how many candidate rows were turned into records and
// how many were dropped, with the reason for each drop.
type ParseStats struct {
	Parsed  int
	Dropped int
	Errors  []*ParseError
}

func (s *ParseStats) drop(err *ParseError) {
	s.Dropped++
	s.Errors = append(s.Errors, err)
}

type row struct {
	tds    *goquery.Selection
	titled bool
}

func newRow(tr *goquery.Selection) row {
	tds := tr.ChildrenFiltered("td")
	return row{
		tds:    tds,
		titled: tds.Filter("[data-title]").Length() > 0,
	}
}

func (r row) cell(col column) *goquery.Selection {
	if r.titled {
		match := r.tds.FilterFunction(func(_ int, s *goquery.Selection) bool {
			title := strings.TrimSpace(s.AttrOr("data-title", ""))
			for _, t := range col.titles {
				if strings.EqualFold(title, t) {
					return true
				}
			}
			return false
		})
		if match.Length() > 0 {
			return match.First()
		}
		// Upstream titles only some cells. An untitled cell at the
		// column's position still belongs to it.
		if col.index >= r.tds.Length() {
			return nil
		}
		if c := r.tds.Eq(col.index); c.AttrOr("data-title", "") == "" {
			return c
		}
		return nil
	}
	if col.index >= r.tds.Length() {
		return nil
	}
	return r.tds.Eq(col.index)
}

func (r row) text(col column) string {
	c := r.cell(col)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

// parseTournaments extracts one Tournament per listing row. Rows with fewer
// than six cells are not tournament rows and are skipped silently; rows that
// fail any extraction step are dropped and counted.
func parseTournaments(markup []byte) ([]*Tournament, *ParseStats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing tournament list: %w", err)
	}

	stats := &ParseStats{}
	tournaments := make([]*Tournament, 0, 20)
	doc.Find("tr").Each(func(i int, tr *goquery.Selection) {
		r := newRow(tr)
		if r.tds.Length() < minTournamentCells {
			return
		}
		t, perr := parseTournamentRow(i, r, tr)
		if perr != nil {
			stats.drop(perr)
			return
		}
		stats.Parsed++
		tournaments = append(tournaments, t)
	})
	return tournaments, stats, nil
}

func parseTournamentRow(i int, r row, tr *goquery.Selection) (*Tournament, *ParseError) {
	weekText := r.text(colWeek)
	if !isDigits(weekText) {
		return nil, &ParseError{Row: i, Field: "week", Err: errNotNumeric}
	}
	week, err := strconv.Atoi(weekText)
	if err != nil {
		return nil, &ParseError{Row: i, Field: "week", Err: err}
	}
	if week < 1 {
		return nil, &ParseError{Row: i, Field: "week", Err: errWeekRange}
	}

	purse, ok := parseMoney(r.text(colPurse))
	if !ok {
		return nil, &ParseError{Row: i, Field: "purse", Err: errNotNumeric}
	}

	id, ok := tournamentLinkID(r, tr)
	if !ok {
		return nil, &ParseError{Row: i, Field: "id", Err: errNoLink}
	}

	return &Tournament{
		ID:             id,
		Week:           week,
		Dates:          r.text(colDates),
		TournamentName: r.text(colName),
		Course:         r.text(colCourse),
		Purse:          purse,
		Champion:       r.text(colChampion),
	}, nil
}

// tournamentLinkID reads the numeric id from the leaderboard link, preferring
// the dedicated link cell and otherwise any matching link in the row.
func tournamentLinkID(r row, tr *goquery.Selection) (int, bool) {
	candidates := tr.Find("a[href]")
	if c := r.cell(colLink); c != nil && c.Find("a[href]").Length() > 0 {
		candidates = c.Find("a[href]").AddSelection(candidates)
	}
	id, found := 0, false
	candidates.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		m := tournamentLinkRe.FindStringSubmatch(a.AttrOr("href", ""))
		if m == nil {
			return true
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return true
		}
		id, found = n, true
		return false
	})
	return id, found
}

// parseLeaderboard extracts one PlayerResult per player row. Separator rows
// (any colspanned cell) and rows with fewer than twelve cells are skipped;
// rows that fail extraction are dropped whole and counted.
func parseLeaderboard(markup []byte, tournamentID int, group string) ([]*PlayerResult, *ParseStats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing leaderboard %d: %w", tournamentID, err)
	}

	stats := &ParseStats{}
	seen := make(map[string]bool)
	results := make([]*PlayerResult, 0, 64)
	doc.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if tr.ChildrenFiltered("td[colspan]").Length() > 0 {
			return
		}
		r := newRow(tr)
		if r.tds.Length() < minLeaderboardCells {
			return
		}
		p, perr := parseLeaderboardRow(i, r)
		if perr != nil {
			stats.drop(perr)
			return
		}
		if seen[p.Player] {
			stats.drop(&ParseError{Row: i, Field: "player", Err: fmt.Errorf("%w: %q", errDuplicate, p.Player)})
			return
		}
		seen[p.Player] = true
		p.TournamentID = tournamentID
		p.Group = group
		stats.Parsed++
		results = append(results, p)
	})
	return results, stats, nil
}

func parseLeaderboardRow(i int, r row) (*PlayerResult, *ParseError) {
	p := &PlayerResult{}

	playerCell := r.cell(colPlayer)
	if playerCell == nil {
		return nil, &ParseError{Row: i, Field: "player", Err: errMissingCell}
	}
	link := playerCell.Find("a").First()
	if link.Length() == 0 {
		return nil, &ParseError{Row: i, Field: "player", Err: errNoPlayer}
	}
	p.Player = strings.TrimSpace(link.Text())
	if p.Player == "" {
		return nil, &ParseError{Row: i, Field: "player", Err: errNoPlayer}
	}
	p.Platform = splitPlatform(link.AttrOr("title", ""))

	if c := r.cell(colNation); c != nil {
		if title := strings.TrimSpace(c.Find("span").First().AttrOr("title", "")); title != "" {
			p.Nationality = &title
		}
	}

	rounds := [4]**int{&p.R1, &p.R2, &p.R3, &p.R4}
	for n, col := range colRounds {
		v, err := parseDigits(r.text(col))
		if err != nil {
			return nil, &ParseError{Row: i, Field: fmt.Sprintf("r%d", n+1), Err: err}
		}
		*rounds[n] = v
	}

	var err error
	if p.Strokes, err = parseDigits(r.text(colStrokes)); err != nil {
		return nil, &ParseError{Row: i, Field: "strokes", Err: err}
	}
	if p.Total, err = parseSigned(r.text(colToPar)); err != nil {
		return nil, &ParseError{Row: i, Field: "total", Err: err}
	}
	if earnings, ok := parseMoney(r.text(colEarnings)); ok {
		p.Earnings = earnings
	}
	if c := r.cell(colMarks); c != nil {
		p.Promotion = parseMarks(c)
	}
	return p, nil
}

// splitPlatform returns the part of a "<platform> - <rest>" descriptor before
// the first separator, or nil when there is no separator.
func splitPlatform(title string) *string {
	before, _, found := strings.Cut(title, " - ")
	if !found {
		return nil
	}
	platform := strings.TrimSpace(before)
	return &platform
}

func parseMarks(c *goquery.Selection) string {
	var marks []string
	c.Find("i").Each(func(_ int, icon *goquery.Selection) {
		for _, mc := range markClasses {
			if icon.HasClass(mc.class) {
				marks = append(marks, mc.mark)
				return
			}
		}
	})
	return strings.Join(marks, ",")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDigits returns nil for anything that is not a plain run of digits.
func parseDigits(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(s) {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// parseSigned is parseDigits with one optional leading minus sign.
func parseSigned(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if !isDigits(strings.TrimPrefix(s, "-")) {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// parseMoney strips currency symbols and thousands separators.
func parseMoney(s string) (int, bool) {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	if !isDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
