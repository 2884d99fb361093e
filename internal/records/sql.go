package records

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	xerrors "FansDFS/internal/errors"
)

// SQLConfig 描述关系型存储的连接参数。Driver 支持 mysql 与 sqlite。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLRepository 使用关系型数据库保存回合记录。
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLRepository 建立连接并初始化表结构。
func NewSQLRepository(cfg SQLConfig) (*SQLRepository, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver != "mysql" && driver != "sqlite" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的记录存储驱动: "+driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "记录存储 DSN 不能为空")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接记录存储失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接记录存储")
	}

	repo := &SQLRepository{db: db, driver: driver}
	if err := repo.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (s *SQLRepository) initSchema(ctx context.Context) error {
	// MySQL 部署走版本化迁移，sqlite 直接自建表结构。
	if s.driver == "mysql" {
		return s.runMigrations(ctx)
	}

	const schema = `CREATE TABLE IF NOT EXISTS turn_records (
        id VARCHAR(64) PRIMARY KEY,
        thread_id VARCHAR(64) NOT NULL,
        signer_id VARCHAR(255) NOT NULL DEFAULT '',
        utterance TEXT,
        agent VARCHAR(32) NOT NULL,
        reply TEXT,
        hand_offs INT NOT NULL DEFAULT 0,
        failed TINYINT NOT NULL DEFAULT 0,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        created_at BIGINT NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 turn_records 表失败")
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_turn_thread ON turn_records (thread_id)",
		"CREATE INDEX IF NOT EXISTS idx_turn_created ON turn_records (created_at)",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 turn_records 索引失败")
		}
	}
	return nil
}

// Save 插入一条回合记录。
func (s *SQLRepository) Save(ctx context.Context, record *TurnRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO turn_records
        (id, thread_id, signer_id, utterance, agent, reply, hand_offs, failed, error_code, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		record.ID, record.ThreadID, record.SignerID, record.Utterance,
		record.Agent, record.Reply, record.HandOffs, boolToInt(record.Failed),
		record.ErrorCode, record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入回合记录失败")
	}
	return nil
}

// Recent 按时间倒序返回最近 limit 条记录。
func (s *SQLRepository) Recent(ctx context.Context, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const stmt = `SELECT id, thread_id, signer_id, utterance, agent, reply, hand_offs, failed, error_code, created_at
        FROM turn_records ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回合记录失败")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByThread 按时间正序返回某个线程的全部记录。
func (s *SQLRepository) ListByThread(ctx context.Context, threadID string) ([]TurnRecord, error) {
	const stmt = `SELECT id, thread_id, signer_id, utterance, agent, reply, hand_offs, failed, error_code, created_at
        FROM turn_records WHERE thread_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, stmt, threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询线程记录失败")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]TurnRecord, error) {
	var out []TurnRecord
	for rows.Next() {
		var record TurnRecord
		var failed int
		if err := rows.Scan(&record.ID, &record.ThreadID, &record.SignerID,
			&record.Utterance, &record.Agent, &record.Reply, &record.HandOffs,
			&failed, &record.ErrorCode, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析回合记录失败")
		}
		record.Failed = failed != 0
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历回合记录失败")
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close 关闭数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
