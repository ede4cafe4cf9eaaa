package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, refreshLimit string) (*Server, *DBStore, *fakePages) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := newTestStore(t)
	pages := newFakePages()
	engine := NewEngine(EngineConfig{Season: 2025, Groups: []Group{{Label: "A", TourID: 10}}, Workers: 1}, pages, store, logrus.NewEntry(log))

	s, err := NewServer(context.Background(), store, engine, ServerConfig{RefreshLimit: refreshLimit}, log)
	require.NoError(t, err)
	return s, store, pages
}

func seedLeaderboard(t *testing.T, store *DBStore) {
	t.Helper()
	ctx := context.Background()
	rows := testResults(1001, "A", "Alex", "Ben")
	rows = append(rows, &PlayerResult{TournamentID: 1001, Group: "A", Player: "Cut", R1: intp(75)})
	require.NoError(t, store.CreateTournament(ctx, &Tournament{ID: 1001, Week: 1, TournamentName: "First", Dates: "Jan 1"}, rows))
	require.NoError(t, store.CreateTournament(ctx, &Tournament{ID: 2001, Week: 1, TournamentName: "Other", Dates: "Jan 1"}, testResults(2001, "B", "Erik")))
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_GETGroups(t *testing.T) {
	s, store, _ := newTestServer(t, "")
	seedLeaderboard(t, store)

	rec := doRequest(s, http.MethodGet, "/api/groups")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var groups []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&groups))
	assert.Equal(t, []string{"A", "B"}, groups)
}

func TestServer_GETTournaments(t *testing.T) {
	s, store, _ := newTestServer(t, "")
	seedLeaderboard(t, store)

	rec := doRequest(s, http.MethodGet, "/api/tournaments?group=b")
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []*TournamentSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, 2001, summaries[0].ID)
	assert.Equal(t, "01 - Other (Jan 1)", summaries[0].Label)

	rec = doRequest(s, http.MethodGet, "/api/tournaments?group=AB")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GETLeaderboard(t *testing.T) {
	s, store, _ := newTestServer(t, "")
	seedLeaderboard(t, store)

	rec := doRequest(s, http.MethodGet, "/api/leaderboard?tournament=1001")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []*LeaderboardRow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "Alex", rows[0].Player)
	assert.Equal(t, 1, *rows[0].Position)
	assert.Equal(t, "First", rows[0].TournamentName)
	assert.Equal(t, "Cut", rows[2].Player)
	assert.Nil(t, rows[2].Position)

	rec = doRequest(s, http.MethodGet, "/api/leaderboard?tournament=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/leaderboard?tournament=999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/leaderboard?group=B")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Erik", rows[0].Player)
}

func TestServer_POSTRefresh(t *testing.T) {
	s, store, pages := newTestServer(t, "1-H")
	pages.lists[10] = table(listRow(1, 1001, "First", "Alex"))
	pages.boards[1001] = table(boardRow("Alex", 270, iconUp))

	rec := doRequest(s, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.Wait()

	ids, err := store.ExistingTournamentIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, 1001)

	rec = doRequest(s, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []*RefreshRun
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Added)

	rec = doRequest(s, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestServer_POSTRefreshBusy(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	s.refreshing.Lock()
	defer s.refreshing.Unlock()

	rec := doRequest(s, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_GETRunsMalformedLimit(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rec := doRequest(s, http.MethodGet, "/api/runs?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestNewServerRejectsBadLimit(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	_, err := NewServer(context.Background(), nil, nil, ServerConfig{RefreshLimit: "often"}, log)
	assert.Error(t, err)
}

func TestServer_POSTRefreshConflictDoesNotCount(t *testing.T) {
	s, store, pages := newTestServer(t, "1-H")
	pages.lists[10] = table(listRow(1, 1001, "First", ""))
	pages.boards[1001] = table(boardRow("Alex", 270, iconUp))

	s.refreshing.Lock()
	for i := 0; i < 3; i++ {
		rec := doRequest(s, http.MethodPost, "/api/refresh")
		assert.Equal(t, http.StatusConflict, rec.Code)
	}
	s.refreshing.Unlock()

	rec := doRequest(s, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusAccepted, rec.Code)
	s.Wait()

	ids, err := store.ExistingTournamentIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, 1001)

	rec = doRequest(s, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
