// Package sqlite provides the SQLite-backed lobby history store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/storage/sqlitemigrate"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists battle results and kicks in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.ResultStore = (*Store)(nil)
	_ storage.KickStore   = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveResult stores a finished game and returns its id.
func (s *Store) SaveResult(ctx context.Context, result storage.BattleResult) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(result.BattleGUID) == "" {
		return 0, fmt.Errorf("battle guid is required")
	}
	ended := result.EndedAt
	if ended.IsZero() {
		ended = time.Now().UTC()
	}
	started := result.StartedAt
	if started.IsZero() {
		started = ended
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save result: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO battle_results (
		   battle_id, battle_guid, title, engine, game, map, mode,
		   started_at, ended_at, crashed, winner_allies
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.BattleID,
		result.BattleGUID,
		result.Title,
		result.Engine,
		result.Game,
		result.Map,
		result.Mode,
		toMillis(started),
		toMillis(ended),
		boolToInt(result.Crashed),
		joinInts(result.WinnerAllies),
	)
	if err != nil {
		return 0, fmt.Errorf("insert battle result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("battle result id: %w", err)
	}
	for _, p := range result.Players {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO battle_result_players (result_id, name, ally_number, is_spectator, won)
			 VALUES (?, ?, ?, ?, ?)`,
			id, p.Name, p.AllyNumber, boolToInt(p.IsSpectator), boolToInt(p.Won),
		); err != nil {
			return 0, fmt.Errorf("insert result player %s: %w", p.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save result: %w", err)
	}
	return id, nil
}

// GetResult loads one stored game.
func (s *Store) GetResult(ctx context.Context, id int64) (storage.BattleResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.BattleResult{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, selectResult+` WHERE id = ?`, id)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.BattleResult{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.BattleResult{}, fmt.Errorf("get battle result: %w", err)
	}
	players, err := s.resultPlayers(ctx, id)
	if err != nil {
		return storage.BattleResult{}, err
	}
	result.Players = players
	return result, nil
}

// ListResults returns the newest results of a battle. A battleID of zero
// lists every battle.
func (s *Store) ListResults(ctx context.Context, battleID int, limit int) ([]storage.BattleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := selectResult
	args := []any{}
	if battleID > 0 {
		query += ` WHERE battle_id = ?`
		args = append(args, battleID)
	}
	query += ` ORDER BY ended_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list battle results: %w", err)
	}
	defer rows.Close()

	var out []storage.BattleResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan battle result: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate battle results: %w", err)
	}
	for i := range out {
		players, err := s.resultPlayers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Players = players
	}
	return out, nil
}

const selectResult = `SELECT id, battle_id, battle_guid, title, engine, game, map, mode,
	started_at, ended_at, crashed, winner_allies FROM battle_results`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (storage.BattleResult, error) {
	var (
		r                storage.BattleResult
		started, ended   int64
		crashed          int
		winners          string
	)
	if err := row.Scan(
		&r.ID, &r.BattleID, &r.BattleGUID, &r.Title, &r.Engine, &r.Game, &r.Map, &r.Mode,
		&started, &ended, &crashed, &winners,
	); err != nil {
		return storage.BattleResult{}, err
	}
	r.StartedAt = fromMillis(started)
	r.EndedAt = fromMillis(ended)
	r.Crashed = crashed != 0
	r.WinnerAllies = splitInts(winners)
	return r, nil
}

func (s *Store) resultPlayers(ctx context.Context, id int64) ([]storage.ResultPlayer, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT name, ally_number, is_spectator, won FROM battle_result_players
		 WHERE result_id = ? ORDER BY is_spectator, ally_number, name`, id)
	if err != nil {
		return nil, fmt.Errorf("list result players: %w", err)
	}
	defer rows.Close()
	var out []storage.ResultPlayer
	for rows.Next() {
		var (
			p         storage.ResultPlayer
			spec, won int
		)
		if err := rows.Scan(&p.Name, &p.AllyNumber, &spec, &won); err != nil {
			return nil, fmt.Errorf("scan result player: %w", err)
		}
		p.IsSpectator = spec != 0
		p.Won = won != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordKick audits one kick.
func (s *Store) RecordKick(ctx context.Context, kick storage.Kick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(kick.Name) == "" {
		return fmt.Errorf("kicked user name is required")
	}
	at := kick.KickedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO battle_kicks (battle_id, name, reason, kicked_at) VALUES (?, ?, ?, ?)`,
		kick.BattleID, kick.Name, kick.Reason, toMillis(at),
	); err != nil {
		return fmt.Errorf("insert kick: %w", err)
	}
	return nil
}

// ListKicks returns the kicks of a battle in the order they happened.
func (s *Store) ListKicks(ctx context.Context, battleID int) ([]storage.Kick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT battle_id, name, reason, kicked_at FROM battle_kicks
		 WHERE battle_id = ? ORDER BY kicked_at, id`, battleID)
	if err != nil {
		return nil, fmt.Errorf("list kicks: %w", err)
	}
	defer rows.Close()
	var out []storage.Kick
	for rows.Next() {
		var (
			k  storage.Kick
			at int64
		)
		if err := rows.Scan(&k.BattleID, &k.Name, &k.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan kick: %w", err)
		}
		k.KickedAt = fromMillis(at)
		out = append(out, k)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(value string) []int {
	if value == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(part)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}
