package repository

import (
	"context"
	"fmt"
	"time"

	"portfolio-bff/internal/adapter/cache"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// cacheBlob 一行对应一个缓存 blob
type cacheBlob struct {
	Name      string `gorm:"primaryKey;size:512"`
	Data      []byte
	UpdatedAt time.Time
}

func (cacheBlob) TableName() string {
	return "cache_blobs"
}

// BlobStore 实现了 cache.Blob 接口，把缓存写进关系数据库
type BlobStore struct {
	db *gorm.DB
}

// NewPostgresBlobStore 连接 PostgreSQL。表结构在 EnsureContainer 时才迁移。
func NewPostgresBlobStore(dsn string) (*BlobStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	return NewBlobStore(db), nil
}

// NewSQLiteBlobStore 打开本地 SQLite 文件，适合单机运行
func NewSQLiteBlobStore(path string) (*BlobStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}
	return NewBlobStore(db), nil
}

// NewBlobStore 使用已有的 gorm 连接
func NewBlobStore(db *gorm.DB) *BlobStore {
	return &BlobStore{db: db}
}

// EnsureContainer 自动迁移 cache_blobs 表，重复执行是安全的
func (s *BlobStore) EnsureContainer(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&cacheBlob{}); err != nil {
		return errors.Wrap(err, "migrate cache_blobs")
	}
	return nil
}

// Read 读取 blob，不存在时返回 cache.ErrBlobNotFound
func (s *BlobStore) Read(ctx context.Context, name string) ([]byte, error) {
	var row cacheBlob
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cache.ErrBlobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read blob %s", name)
	}
	return row.Data, nil
}

// Write 插入或覆盖 (Upsert)
func (s *BlobStore) Write(ctx context.Context, name string, data []byte) error {
	row := &cacheBlob{Name: name, Data: data}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return errors.Wrapf(err, "write blob %s", name)
	}
	return nil
}

// Delete 删除 blob，不存在时不报错
func (s *BlobStore) Delete(ctx context.Context, name string) error {
	if err := s.db.WithContext(ctx).Where("name = ?", name).Delete(&cacheBlob{}).Error; err != nil {
		return errors.Wrapf(err, "delete blob %s", name)
	}
	return nil
}

// Ping 检查数据库连接
func (s *BlobStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	return sqlDB.PingContext(ctx)
}
