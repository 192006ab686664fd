package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"autosctype/pkg/contract"
)

// Store: 以 sqlite 持久化的应答缓存（键为提供方命名空间 + Prompt 摘要）。
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS responses (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	contract   TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

// Open 打开（必要时创建）缓存库；path 为空返回 ErrInvalidInput。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache: %w: empty path", contract.ErrInvalidInput)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache open: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path 返回缓存文件路径。
func (s *Store) Path() string { return s.path }

// Get 读取缓存；未命中返回 ok=false。
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var text string
	err := s.db.QueryRowContext(ctx, "SELECT text FROM responses WHERE key = ?", key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return text, true, nil
}

// Put 写入或覆盖缓存条目。
func (s *Store) Put(ctx context.Context, key, namespace, contractName, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO responses (key, namespace, contract, text, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET text = excluded.text, created_at = excluded.created_at`,
		key, namespace, contractName, text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Len 返回条目数量。
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM responses").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return n, nil
}

// Key 由命名空间与 Prompt 的 JSON 编码求 sha256。
func Key(namespace string, p contract.Prompt) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("cache key: %v: %w", err, contract.ErrInvalidInput)
	}
	h := sha256.New()
	h.Write([]byte(namespace))
	h.Write([]byte{0})
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Client 包装任意 LLMClient：命中直接返回，未命中调用下游并缓存非空应答。
type Client struct {
	inner     contract.LLMClient
	store     *Store
	namespace string

	hits   atomic.Int64
	misses atomic.Int64
}

// Wrap 构造缓存客户端；namespace 通常为提供方与模型名。
func Wrap(inner contract.LLMClient, store *Store, namespace string) *Client {
	return &Client{inner: inner, store: store, namespace: namespace}
}

// Invoke 实现 contract.LLMClient。缓存读写失败不影响调用结果。
func (c *Client) Invoke(ctx context.Context, s contract.Summary, p contract.Prompt) (contract.Raw, error) {
	key, err := Key(c.namespace, p)
	if err != nil {
		return contract.Raw{}, err
	}
	if text, ok, err := c.store.Get(ctx, key); err == nil && ok {
		c.hits.Add(1)
		return contract.Raw{Text: text}, nil
	}
	c.misses.Add(1)
	raw, err := c.inner.Invoke(ctx, s, p)
	if err != nil {
		return raw, err
	}
	if strings.TrimSpace(raw.Text) != "" {
		_ = c.store.Put(ctx, key, c.namespace, s.Contract.Name, raw.Text)
	}
	return raw, nil
}

// Stats 返回命中与未命中次数。
func (c *Client) Stats() (hits, misses int64) { return c.hits.Load(), c.misses.Load() }

var _ contract.LLMClient = (*Client)(nil)
