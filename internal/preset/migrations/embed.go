package migrations

import "embed"

// FS はプリセット用の SQLite マイグレーション
//
//go:embed *.sql
var FS embed.FS
