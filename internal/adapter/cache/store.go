// Package cache 提供带过期时间的缓存，数据以 JSON 信封的形式写入 blob 存储。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"portfolio-bff/internal/domain"

	"go.uber.org/zap"
)

// DefaultTTL 默认缓存 1 小时
const DefaultTTL = time.Hour

var (
	// ErrBlobNotFound blob 不存在。后端实现需要返回它 (或包装它)。
	ErrBlobNotFound = errors.New("blob not found")
	// ErrDisabled 缓存未启用
	ErrDisabled = errors.New("cache disabled")
)

// Blob 是一个平坦命名空间的持久化存储，一个 key 对应一个 blob
type Blob interface {
	// EnsureContainer 创建容器 (bucket/表)，已存在时不报错
	EnsureContainer(ctx context.Context) error
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// Store 实现了 port.Cache 接口
type Store struct {
	blob       Blob
	enabled    bool
	defaultTTL time.Duration
	logger     *zap.Logger
	nowFunc    func() time.Time
}

// Option 配置 Store
type Option func(*Store)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultTTL 设置 Put 传入 0 时使用的 TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock 便于测试注入当前时间
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

func newStore(blob Blob, opts ...Option) *Store {
	s := &Store{
		blob:       blob,
		defaultTTL: DefaultTTL,
		logger:     zap.NewNop(),
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open 初始化缓存并确保容器存在。
// blob 为 nil 或容器无法创建时返回一个禁用的 Store，而不是报错。
func Open(ctx context.Context, blob Blob, opts ...Option) *Store {
	s := newStore(blob, opts...)
	if blob == nil {
		s.logger.Warn("cache storage not configured, caching disabled")
		return s
	}
	if err := blob.EnsureContainer(ctx); err != nil {
		s.logger.Warn("failed to initialize cache storage, caching disabled", zap.Error(err))
		return s
	}
	s.enabled = true
	s.logger.Info("cache storage initialized")
	return s
}

// Disabled 返回一个永远未命中的 Store
func Disabled(opts ...Option) *Store {
	return newStore(nil, opts...)
}

// Enabled 缓存是否可用
func (s *Store) Enabled() bool {
	return s != nil && s.enabled && s.blob != nil
}

// Key 把 API 路径/标识转换成可以作为对象名的 key
func Key(identifier string) string {
	return keyReplacer.Replace(strings.TrimLeft(identifier, "/"))
}

var keyReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	"?", "_",
	"&", "_",
	"=", "_",
	":", "_",
	"#", "_",
	" ", "_",
)

// Get 读取未过期的条目。过期的条目会被删除；损坏的条目等同于不存在。
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if !s.Enabled() {
		return nil, false
	}

	name := Key(key)
	data, err := s.blob.Read(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrBlobNotFound) {
			s.logger.Warn("error reading from cache", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.ExpiresAt.IsZero() {
		s.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		s.remove(ctx, name)
		return nil, false
	}

	if !entry.ValidAt(s.nowFunc()) {
		s.logger.Debug("cache expired", zap.String("key", key), zap.Time("expires_at", entry.ExpiresAt))
		s.remove(ctx, name)
		return nil, false
	}

	s.logger.Debug("cache hit", zap.String("key", key))
	return entry.Data, true
}

// GetInto 命中并成功解析到 v 时返回 true
func (s *Store) GetInto(ctx context.Context, key string, v any) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("cached payload does not match target type", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Put 覆盖写入。ttl <= 0 时使用默认 TTL。失败只记录日志并返回 false。
func (s *Store) Put(ctx context.Context, key string, payload any, ttl time.Duration) bool {
	if !s.Enabled() {
		return false
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("error encoding cache payload", zap.String("key", key), zap.Error(err))
		return false
	}

	now := s.nowFunc()
	envelope, err := json.Marshal(domain.CacheEntry{
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		s.logger.Warn("error encoding cache entry", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := s.blob.Write(ctx, Key(key), envelope); err != nil {
		s.logger.Warn("error saving to cache", zap.String("key", key), zap.Error(err))
		return false
	}

	s.logger.Debug("saved to cache", zap.String("key", key), zap.Duration("ttl", ttl))
	return true
}

// Ping 检查底层存储连通性
func (s *Store) Ping(ctx context.Context) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	return s.blob.Ping(ctx)
}

func (s *Store) remove(ctx context.Context, name string) {
	if err := s.blob.Delete(ctx, name); err != nil && !errors.Is(err, ErrBlobNotFound) {
		s.logger.Warn("error deleting cache entry", zap.String("blob", name), zap.Error(err))
	}
}
