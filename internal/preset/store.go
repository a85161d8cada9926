// Package preset コントロール値の組（プリセット）を SQLite に保存し、カメラに適用する
//
// # 仕様
// - プリセットはデバイス ID と名前の組で一意
// - 保存は上書き（upsert）
// - 適用は制御 ID 順に set_property をディスパッチし、失敗はまとめて返す
package preset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gencam/internal/control"
	"gencam/internal/preset/migrations"
	"gencam/internal/property"
)

// ErrNotFound はプリセットが存在しない場合のエラー
var ErrNotFound = errors.New("プリセットが見つかりません")

// Preset は名前付きのコントロール値の組
type Preset struct {
	Device    string                        `json:"device"`
	Name      string                        `json:"name"`
	Values    map[control.ID]property.Value `json:"values"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

// Store は SQLite によるプリセットの保存先
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open は SQLite ファイルを開いてマイグレーションを適用する。":memory:" も使える
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("プリセットの保存先パスが指定されていません")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("SQLite のオープンに失敗: %w", err)
	}
	// :memory: は接続ごとに別のデータベースになる
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("SQLite への接続に失敗: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベースを閉じる
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save はプリセットを保存する。同じデバイスと名前のプリセットは上書きする
func (s *Store) Save(ctx context.Context, p Preset) (Preset, error) {
	if err := validName(p.Name); err != nil {
		return Preset{}, err
	}
	if len(p.Values) == 0 {
		return Preset{}, fmt.Errorf("プリセット %s に値がありません", p.Name)
	}
	data, err := json.Marshal(p.Values)
	if err != nil {
		return Preset{}, fmt.Errorf("プリセット %s のエンコードに失敗: %w", p.Name, err)
	}
	p.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO presets (device, name, values_json, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (device, name) DO UPDATE SET values_json = excluded.values_json, updated_at = excluded.updated_at`,
		p.Device, p.Name, string(data), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return Preset{}, fmt.Errorf("プリセット %s の保存に失敗: %w", p.Name, err)
	}
	return p, nil
}

// Get はプリセットを取得する
func (s *Store) Get(ctx context.Context, device, name string) (Preset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT device, name, values_json, updated_at FROM presets WHERE device = ? AND name = ?`,
		device, name,
	)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Preset{}, fmt.Errorf("%w: %s/%s", ErrNotFound, device, name)
	}
	return p, err
}

// List はデバイスのプリセットを名前順に返す
func (s *Store) List(ctx context.Context, device string) ([]Preset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device, name, values_json, updated_at FROM presets WHERE device = ? ORDER BY name`,
		device,
	)
	if err != nil {
		return nil, fmt.Errorf("プリセットの列挙に失敗: %w", err)
	}
	defer rows.Close()

	var presets []Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// Delete はプリセットを削除する
func (s *Store) Delete(ctx context.Context, device, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE device = ? AND name = ?`, device, name)
	if err != nil {
		return fmt.Errorf("プリセット %s の削除に失敗: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, device, name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreset(row scanner) (Preset, error) {
	var (
		p       Preset
		data    string
		updated int64
	)
	if err := row.Scan(&p.Device, &p.Name, &data, &updated); err != nil {
		return Preset{}, err
	}
	if err := json.Unmarshal([]byte(data), &p.Values); err != nil {
		return Preset{}, fmt.Errorf("プリセット %s のデコードに失敗: %w", p.Name, err)
	}
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || len(name) > 64 {
		return fmt.Errorf("プリセット名は 1〜64 文字です: %q", name)
	}
	return nil
}

const migrationTable = "schema_migrations"

// applyMigrations は埋め込まれた .sql を名前順に一度だけ実行する
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("マイグレーションの読み込みに失敗: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("マイグレーション表の作成に失敗: %w", err)
	}

	for _, file := range files {
		var found int
		err := db.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("マイグレーション %s の確認に失敗: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("マイグレーション %s の読み込みに失敗: %w", file, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("マイグレーション %s の実行に失敗: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("マイグレーション %s の記録に失敗: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// upSection は "-- +migrate Up" と "-- +migrate Down" の間を返す
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	start := strings.Index(content, up)
	if start < 0 {
		return content
	}
	content = content[start+len(up):]
	if end := strings.Index(content, down); end >= 0 {
		content = content[:end]
	}
	return content
}
