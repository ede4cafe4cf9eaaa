package main

import (
	"time"

	"gorm.io/datatypes"
)

// Promotion marks as stored in the comma-joined promotion column.
const (
	MarkPromoted  = "+1"
	MarkRelegated = "-1"
	MarkWinner    = "winner"
	MarkFastTrack = "fast_track"
)

// Tournament is one row of a tour group's season listing. Rows are created
// once and never deleted; only Champion changes after creation.
type Tournament struct {
	ID             int    `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	Week           int    `json:"week" gorm:"column:week"`
	Dates          string `json:"dates" gorm:"column:dates"`
	TournamentName string `json:"tournamentName" gorm:"column:tournament_name"`
	Course         string `json:"course" gorm:"column:course"`
	Purse          int    `json:"purse" gorm:"column:purse"`
	Champion       string `json:"champion" gorm:"column:champion"`

	Leaderboard []PlayerResult `json:"-" gorm:"foreignKey:TournamentID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Tournament) TableName() string { return "tournaments" }

// PlayerResult is one player row of a tournament leaderboard. The upstream
// site has no stable player id, so (TournamentID, Player) is the identity.
type PlayerResult struct {
	TournamentID int     `json:"tournamentId" gorm:"column:tournament_id;not null;uniqueIndex:idx_leaderboard_player,priority:1"`
	Player       string  `json:"player" gorm:"column:player;not null;uniqueIndex:idx_leaderboard_player,priority:2"`
	Group        string  `json:"group" gorm:"column:group;index"`
	Nationality  *string `json:"nationality" gorm:"column:nationality"`
	Platform     *string `json:"platform" gorm:"column:platform"`
	R1           *int    `json:"r1" gorm:"column:r1"`
	R2           *int    `json:"r2" gorm:"column:r2"`
	R3           *int    `json:"r3" gorm:"column:r3"`
	R4           *int    `json:"r4" gorm:"column:r4"`
	Strokes      *int    `json:"strokes" gorm:"column:strokes"`
	Total        *int    `json:"total" gorm:"column:total"`
	Earnings     int     `json:"earnings" gorm:"column:earnings;not null;default:0"`
	Promotion    string  `json:"promotion" gorm:"column:promotion;not null;default:''"`
}

func (PlayerResult) TableName() string { return "leaderboards" }

// Rounds returns r1..r4 in order.
func (p *PlayerResult) Rounds() [4]*int {
	return [4]*int{p.R1, p.R2, p.R3, p.R4}
}

// Complete reports whether all four rounds have been played.
func (p *PlayerResult) Complete() bool {
	for _, r := range p.Rounds() {
		if r == nil {
			return false
		}
	}
	return true
}

// Standing is a PlayerResult with its derived rank. Position is nil for
// incomplete rows.
type Standing struct {
	PlayerResult
	Position *int `json:"position"`
	Completo bool `json:"completo"`
}

// LeaderboardRow is the row set handed to the reporting surface.
type LeaderboardRow struct {
	Position       *int    `json:"position"`
	Player         string  `json:"player"`
	Group          string  `json:"group"`
	Nationality    *string `json:"nationality"`
	Platform       *string `json:"platform"`
	R1             *int    `json:"r1"`
	R2             *int    `json:"r2"`
	R3             *int    `json:"r3"`
	R4             *int    `json:"r4"`
	Strokes        *int    `json:"strokes"`
	Total          *int    `json:"total"`
	Earnings       int     `json:"earnings"`
	Promotion      string  `json:"promotion"`
	TournamentID   int     `json:"tournamentId"`
	TournamentName string  `json:"tournamentName"`
	Course         string  `json:"course"`
	Purse          int     `json:"purse"`
	Dates          string  `json:"dates"`
	Week           int     `json:"week"`
}

// TournamentSummary feeds the tournament selector of the reporting surface.
type TournamentSummary struct {
	Tournament
	Group string `json:"group"`
	Label string `json:"label"`
}

// RefreshRun is the persisted history of one reconciliation run.
type RefreshRun struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	StartedAt        time.Time      `json:"startedAt"`
	FinishedAt       time.Time      `json:"finishedAt"`
	Season           int            `json:"season"`
	Added            int            `json:"added"`
	Updated          int            `json:"updated"`
	Unchanged        int            `json:"unchanged"`
	ChampionsUpdated int            `json:"championsUpdated"`
	RowsDropped      int            `json:"rowsDropped"`
	Skips            datatypes.JSON `json:"skips" gorm:"type:json"`
}
