package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open はPostgreSQLデータベース接続プールを開く。
// sql.Openは接続を試行しないため、実際の接続確認にはPingを使用すること。
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Pools はセッション用と管理者用の2つの接続プールを保持する。
// 管理者用URLが未指定の場合は同じプールを共有する。
type Pools struct {
	Session *sql.DB
	Admin   *sql.DB
}

// OpenPools は2つの接続プールを開く。adminURLが空またはsessionURLと同じ場合は共有する。
func OpenPools(sessionURL, adminURL string) (*Pools, error) {
	sessionDB, err := Open(sessionURL)
	if err != nil {
		return nil, err
	}
	if adminURL == "" || adminURL == sessionURL {
		return &Pools{Session: sessionDB, Admin: sessionDB}, nil
	}

	adminDB, err := Open(adminURL)
	if err != nil {
		sessionDB.Close()
		return nil, fmt.Errorf("failed to open admin database: %w", err)
	}
	return &Pools{Session: sessionDB, Admin: adminDB}, nil
}

// Shared は両方のプールが同一かどうかを返す。
func (p *Pools) Shared() bool {
	return p.Session == p.Admin
}

// Ping は両方のプールへの接続を確認する。
func (p *Pools) Ping(ctx context.Context) error {
	if err := p.Session.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if p.Shared() {
		return nil
	}
	if err := p.Admin.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping admin database: %w", err)
	}
	return nil
}

// Close は両方のプールを閉じる。
func (p *Pools) Close() error {
	err := p.Session.Close()
	if p.Shared() {
		return err
	}
	if adminErr := p.Admin.Close(); err == nil {
		err = adminErr
	}
	return err
}
