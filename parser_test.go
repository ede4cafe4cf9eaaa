package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	markup, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return markup
}

func Test_parseTournaments(t *testing.T) {
	tournaments, stats, err := parseTournaments(readTestdata(t, "tournaments.html"))
	require.NoError(t, err)

	require.Len(t, tournaments, 2)
	assert.Equal(t, 2, stats.Parsed)
	assert.Equal(t, 2, stats.Dropped)
	require.Len(t, stats.Errors, 2)
	assert.Equal(t, "week", stats.Errors[0].Field)
	assert.Equal(t, "purse", stats.Errors[1].Field)
	assert.ErrorIs(t, stats.Errors[1], errNotNumeric)

	first := tournaments[0]
	assert.Equal(t, 1001, first.ID)
	assert.Equal(t, 1, first.Week)
	assert.Equal(t, "Jan 06 - Jan 12", first.Dates)
	assert.Equal(t, "Harbour Town Classic", first.TournamentName)
	assert.Equal(t, "Harbour Town GL", first.Course)
	assert.Equal(t, 100000, first.Purse)
	assert.Equal(t, "Alex Stone", first.Champion)

	second := tournaments[1]
	assert.Equal(t, 1002, second.ID)
	assert.Equal(t, 150000, second.Purse)
	assert.Equal(t, "", second.Champion)
}

func Test_parseTournamentsPositional(t *testing.T) {
	markup := []byte(`<table>
<tr><td>3</td><td>Feb 03 - Feb 09</td><td>Coastal Open</td><td>Kiawah</td><td>$75,000</td><td></td><td><a href="https://www.tgctours.com/Tournament/Leaderboard/2042">Results</a></td></tr>
<tr><td>x</td><td>y</td><td>z</td></tr>
<tr><td>4</td><td>Feb 10 - Feb 16</td><td>No Link Classic</td><td>Bandon</td><td>$75,000</td><td></td></tr>
</table>`)

	tournaments, stats, err := parseTournaments(markup)
	require.NoError(t, err)
	require.Len(t, tournaments, 1)
	assert.Equal(t, 2042, tournaments[0].ID)
	assert.Equal(t, 3, tournaments[0].Week)
	assert.Equal(t, "Coastal Open", tournaments[0].TournamentName)
	assert.Equal(t, 75000, tournaments[0].Purse)

	// The three cell row is not a tournament row; the linkless row is dropped.
	assert.Equal(t, 1, stats.Dropped)
	assert.ErrorIs(t, stats.Errors[0], errNoLink)
}

func Test_parseLeaderboard(t *testing.T) {
	results, stats, err := parseLeaderboard(readTestdata(t, "leaderboard.html"), 1001, "A")
	require.NoError(t, err)

	require.Len(t, results, 4)
	assert.Equal(t, 4, stats.Parsed)
	assert.Equal(t, 1, stats.Dropped)
	assert.ErrorIs(t, stats.Errors[0], errNoPlayer)

	alex := results[0]
	assert.Equal(t, "Alex Stone", alex.Player)
	assert.Equal(t, 1001, alex.TournamentID)
	assert.Equal(t, "A", alex.Group)
	require.NotNil(t, alex.Nationality)
	assert.Equal(t, "United States", *alex.Nationality)
	require.NotNil(t, alex.Platform)
	assert.Equal(t, "Steam", *alex.Platform)
	assert.Equal(t, 68, *alex.R1)
	assert.Equal(t, 66, *alex.R4)
	assert.Equal(t, 272, *alex.Strokes)
	assert.Equal(t, -16, *alex.Total)
	assert.Equal(t, 12345, alex.Earnings)
	assert.Equal(t, "+1,winner", alex.Promotion)
	assert.True(t, alex.Complete())

	assert.Equal(t, "Xbox", *results[1].Platform)
	assert.Equal(t, "+1", results[1].Promotion)
	assert.Equal(t, "fast_track", results[2].Promotion)

	dan := results[3]
	assert.Equal(t, "Dan Eto", dan.Player)
	assert.Nil(t, dan.Nationality)
	assert.Nil(t, dan.Platform)
	assert.Nil(t, dan.R3)
	assert.Nil(t, dan.R4)
	assert.Equal(t, 146, *dan.Strokes)
	assert.Equal(t, 6, *dan.Total)
	assert.Equal(t, 0, dan.Earnings)
	assert.Equal(t, "-1", dan.Promotion)
	assert.False(t, dan.Complete())
}

func Test_parseLeaderboardSeparatorRow(t *testing.T) {
	markup := []byte(`<table>
<tr><td colspan="12">Projected cut</td></tr>
<tr><td>1</td><td><span title="Norway"></span></td><td><a title="Steam - PC">Erik Lund</a></td><td>-2</td><td>70</td><td>70</td><td>70</td><td>70</td><td>280</td><td>10</td><td>$1,000</td><td></td></tr>
</table>`)

	results, stats, err := parseLeaderboard(markup, 7, "B")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, stats.Dropped)
	assert.Equal(t, "Erik Lund", results[0].Player)
	assert.Equal(t, "Norway", *results[0].Nationality)
	assert.Equal(t, 1000, results[0].Earnings)
	assert.Equal(t, "", results[0].Promotion)
}

func Test_parseLeaderboardDuplicatePlayer(t *testing.T) {
	playerRow := `<tr><td>1</td><td></td><td><a title="Steam - PC">Erik Lund</a></td><td>E</td><td>72</td><td></td><td></td><td></td><td></td><td></td><td></td><td></td></tr>`
	markup := []byte("<table>" + playerRow + playerRow + "</table>")

	results, stats, err := parseLeaderboard(markup, 7, "B")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Total)
	assert.Equal(t, 1, stats.Dropped)
	assert.ErrorIs(t, stats.Errors[0], errDuplicate)
}

func Test_parseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"$12,345", 12345, true},
		{" $0 ", 0, true},
		{"1,000,000", 1000000, true},
		{"", 0, false},
		{"TBA", 0, false},
		{"$1.50", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseMoney(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func Test_parseSigned(t *testing.T) {
	v, err := parseSigned("-7")
	require.NoError(t, err)
	assert.Equal(t, -7, *v)

	for _, in := range []string{"", "E", "+3", "--1", "-"} {
		v, err := parseSigned(in)
		assert.NoError(t, err)
		assert.Nil(t, v, in)
	}
}

func Test_splitPlatform(t *testing.T) {
	p := splitPlatform("Steam - PC - Windows")
	require.NotNil(t, p)
	assert.Equal(t, "Steam", *p)
	assert.Nil(t, splitPlatform("Steam"))
	assert.Nil(t, splitPlatform(""))
}

func Test_parseLeaderboardPartialTitles(t *testing.T) {
	markup := []byte(`<table>
<tr><td>1</td><td><span title="Norway"></span></td><td data-title="Player"><a title="Steam - PC">Erik Lund</a></td><td>-6</td><td>70</td><td>68</td><td>69</td><td>67</td><td>274</td><td>40</td><td>$2,500</td><td data-title="Marks"><i class="fe fe-icon-arrow-up-circle"></i></td></tr>
<tr><td>2</td><td><span title="Chile"></span></td><td data-title="Player"><a title="Xbox - One">Tomas Vidal</a></td><td>-3</td><td>71</td><td>70</td><td>69</td><td>67</td><td>277</td><td>20</td><td>$1,200</td><td data-title="Marks"></td></tr>
</table>`)

	results, stats, err := parseLeaderboard(markup, 9, "C")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, stats.Dropped)

	erik := results[0]
	assert.Equal(t, "Erik Lund", erik.Player)
	require.NotNil(t, erik.Nationality)
	assert.Equal(t, "Norway", *erik.Nationality)
	require.True(t, erik.Complete())
	assert.Equal(t, 70, *erik.R1)
	assert.Equal(t, 67, *erik.R4)
	assert.Equal(t, 274, *erik.Strokes)
	assert.Equal(t, -6, *erik.Total)
	assert.Equal(t, 2500, erik.Earnings)
	assert.Equal(t, "+1", erik.Promotion)

	ranked := rankResults(results)
	assert.Equal(t, 1, *ranked[0].Position)
	assert.Equal(t, 2, *ranked[1].Position)
}

func Test_parseTournamentsWeek(t *testing.T) {
	tournamentRow := func(week string, id int) string {
		return `<tr><td>` + week + `</td><td>Mar 1</td><td>Open</td><td>Links</td><td>$1,000</td><td></td><td><a href="/Tournament/Leaderboard/` +
			strconv.Itoa(id) + `">Leaderboard</a></td></tr>`
	}
	markup := []byte("<table>" +
		tournamentRow("+3", 1) +
		tournamentRow("0", 2) +
		tournamentRow("-2", 3) +
		tournamentRow("5", 4) +
		"</table>")

	tournaments, stats, err := parseTournaments(markup)
	require.NoError(t, err)
	require.Len(t, tournaments, 1)
	assert.Equal(t, 4, tournaments[0].ID)
	assert.Equal(t, 5, tournaments[0].Week)

	require.Equal(t, 3, stats.Dropped)
	for _, perr := range stats.Errors {
		assert.Equal(t, "week", perr.Field)
	}
	assert.ErrorIs(t, stats.Errors[0], errNotNumeric)
	assert.ErrorIs(t, stats.Errors[1], errWeekRange)
	assert.ErrorIs(t, stats.Errors[2], errNotNumeric)
}
