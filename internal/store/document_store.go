package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/naumanshiraz/collab-editor/internal/collab"
)

// WelcomeContent 文档首次访问时播种的初始版本内容（versionNumber=1, author=system）
const WelcomeContent = "<p>Welcome to the shared document. Start typing!</p>"

// DocumentStore 基于 MySQL 的持久层：
// - documents      每个 docId 一行（当前内容 + 版本号 + 最近更新时间）
// - document_versions  追加式版本日志，(doc_id, version_number) 唯一
type DocumentStore struct{ db *sql.DB }

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// EnsureSchema 开发环境建表用
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id         VARCHAR(128) NOT NULL PRIMARY KEY,
			content        MEDIUMTEXT   NOT NULL,
			version_number BIGINT       NOT NULL,
			last_update    DATETIME(3)  NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS document_versions (
			doc_id         VARCHAR(128) NOT NULL,
			version_number BIGINT       NOT NULL,
			content        MEDIUMTEXT   NOT NULL,
			author         VARCHAR(128) NOT NULL,
			created_at     DATETIME(3)  NOT NULL,
			PRIMARY KEY (doc_id, version_number)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *DocumentStore) GetOrCreate(ctx context.Context, docID string) (*collab.DocumentSnapshot, error) {
	snap, err := s.Read(ctx, docID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, content, version_number, last_update) VALUES (?, ?, ?, ?)`,
		docID, WelcomeContent, 1, now,
	)
	if err != nil {
		// 并发创建：另一个实例抢先插入了同一 docId，读已有的即可
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return s.Read(ctx, docID)
		}
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_versions (doc_id, version_number, content, author, created_at) VALUES (?, ?, ?, ?, ?)`,
		docID, 1, WelcomeContent, "system", now,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Read(ctx, docID)
}

// Read 返回包含全量版本列表的时点快照（sql.ErrNoRows 表示文档不存在）
func (s *DocumentStore) Read(ctx context.Context, docID string) (*collab.DocumentSnapshot, error) {
	snap := &collab.DocumentSnapshot{DocID: docID}
	err := s.db.QueryRowContext(ctx,
		`SELECT content, version_number, last_update FROM documents WHERE doc_id = ?`,
		docID,
	).Scan(&snap.Content, &snap.VersionNumber, &snap.LastUpdate)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT version_number, content, author, created_at
		 FROM document_versions WHERE doc_id = ? ORDER BY version_number ASC`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v collab.Version
		if err := rows.Scan(&v.VersionNumber, &v.Content, &v.Author, &v.Timestamp); err != nil {
			return nil, err
		}
		snap.Versions = append(snap.Versions, v)
	}
	return snap, rows.Err()
}

// Commit 单事务内推进版本号并追加版本行。
// SELECT ... FOR UPDATE + 版本表主键双保险：两个并发 Commit
// 不可能都算出同一个下一版本号。失败时事务回滚，无半截状态。
func (s *DocumentStore) Commit(ctx context.Context, docID string, content string, author string, ts time.Time) (collab.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return collab.Version{}, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version_number FROM documents WHERE doc_id = ? FOR UPDATE`,
		docID,
	).Scan(&current)
	if err != nil {
		return collab.Version{}, err
	}

	next := current + 1
	// last_update 用服务端时间：客户端时钟可能偏移，不能让它把
	// lastUpdate 往回拨。版本行保留客户端时间戳（作者视角的编辑时间）。
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET content = ?, version_number = ?, last_update = ? WHERE doc_id = ?`,
		content, next, time.Now(), docID,
	); err != nil {
		return collab.Version{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_versions (doc_id, version_number, content, author, created_at) VALUES (?, ?, ?, ?, ?)`,
		docID, next, content, author, ts,
	); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return collab.Version{}, fmt.Errorf("lost update on doc %s version %d: %w", docID, next, err)
		}
		return collab.Version{}, err
	}
	if err := tx.Commit(); err != nil {
		return collab.Version{}, err
	}
	return collab.Version{
		Content:       content,
		Author:        author,
		Timestamp:     ts,
		VersionNumber: next,
	}, nil
}

func (s *DocumentStore) VersionContent(ctx context.Context, docID string, versionNumber int64) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM document_versions WHERE doc_id = ? AND version_number = ?`,
		docID, versionNumber,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", collab.ErrVersionNotFound
	}
	return content, err
}
