// Package objectstore 把缓存 blob 存进 MinIO / S3 兼容的对象存储。
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"portfolio-bff/internal/adapter/cache"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// Config MinIO 连接配置
type Config struct {
	// Endpoint 例如 "localhost:9000"
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix 所有对象名的前缀，可选
	Prefix string
	// Client 预先构造好的客户端。提供时忽略 Endpoint/AccessKey/SecretKey。
	Client *minio.Client
}

// validate 要么提供 Client，要么提供完整的连接参数
func (c *Config) validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret key is required when client is not provided")
	}
	return nil
}

// MinioBlob 实现了 cache.Blob 接口
type MinioBlob struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioBlob 创建对象存储后端。不会发起网络请求，桶在 EnsureContainer 时创建。
func NewMinioBlob(cfg Config) (*MinioBlob, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	return &MinioBlob{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (m *MinioBlob) objectName(name string) string {
	if m.prefix == "" {
		return name
	}
	return m.prefix + "/" + name
}

// EnsureContainer 创建桶，桶已存在时不报错
func (m *MinioBlob) EnsureContainer(ctx context.Context) error {
	err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	// 部分网关不返回错误码，再确认一次
	if exists, errExists := m.client.BucketExists(ctx, m.bucket); errExists == nil && exists {
		return nil
	}
	return errors.Wrapf(translate(err), "create bucket %s", m.bucket)
}

// Read 读取整个对象
func (m *MinioBlob) Read(ctx context.Context, name string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(translate(err), "get object %s", name)
	}
	defer func() {
		_ = obj.Close()
	}()

	// GetObject 是惰性的，对象不存在的错误在第一次读取时才出现
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, errors.Wrapf(translate(err), "read object %s", name)
	}
	return data, nil
}

// Write 覆盖写入
func (m *MinioBlob) Write(ctx context.Context, name string, data []byte) error {
	_, err := m.client.PutObject(
		ctx,
		m.bucket,
		m.objectName(name),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return errors.Wrapf(translate(err), "put object %s", name)
	}
	return nil
}

// Delete 删除对象。S3 删除不存在的对象也是成功的。
func (m *MinioBlob) Delete(ctx context.Context, name string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.objectName(name), minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrapf(translate(err), "remove object %s", name)
	}
	return nil
}

// Ping 通过 BucketExists 检查连通性
func (m *MinioBlob) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return errors.Wrap(translate(err), "ping object store")
	}
	if !exists {
		return errors.Errorf("bucket %s does not exist", m.bucket)
	}
	return nil
}

// translate 把 MinIO 的错误码转换成 cache 包的哨兵错误
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return cache.ErrBlobNotFound
	}
	return err
}
