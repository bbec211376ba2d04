// Package storage defines persistence contracts for lobby battle history.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ResultPlayer is one participant of a finished game.
type ResultPlayer struct {
	Name        string
	AllyNumber  int
	IsSpectator bool
	Won         bool
}

// BattleResult is the persisted outcome of one finished game.
type BattleResult struct {
	ID           int64
	BattleID     int
	BattleGUID   string
	Title        string
	Engine       string
	Game         string
	Map          string
	Mode         string
	StartedAt    time.Time
	EndedAt      time.Time
	Crashed      bool
	WinnerAllies []int
	Players      []ResultPlayer
}

// Kick records that a user was removed from a battle.
type Kick struct {
	BattleID int
	Name     string
	Reason   string
	KickedAt time.Time
}

// ResultStore persists finished games.
type ResultStore interface {
	SaveResult(ctx context.Context, result BattleResult) (int64, error)
	GetResult(ctx context.Context, id int64) (BattleResult, error)
	ListResults(ctx context.Context, battleID int, limit int) ([]BattleResult, error)
}

// KickStore audits kicks.
type KickStore interface {
	RecordKick(ctx context.Context, kick Kick) error
	ListKicks(ctx context.Context, battleID int) ([]Kick, error)
}
