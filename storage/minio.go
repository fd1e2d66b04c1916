package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"RadioRoyal/config"
	"RadioRoyal/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Archive 把收到的推流原始数据归档到 MinIO
type Archive struct {
	client *minio.Client
	bucket string
	region string
}

// NewArchive 创建客户端并确保存储桶存在
func NewArchive(ctx context.Context, cfg *config.Config) (*Archive, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	a := &Archive{client: client, bucket: cfg.MinioBucket, region: cfg.MinioRegion}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("MinIO 归档已就绪", logger.String("endpoint", cfg.MinioEndpoint), logger.String("bucket", a.bucket))
	return a, nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("成功创建存储桶", logger.String("bucket", a.bucket))
	return nil
}

// Bucket returns the archive bucket name.
func (a *Archive) Bucket() string { return a.bucket }

// ObjectName 生成归档对象名: broadcasts/2006/01/02/<session>.<ext>
func ObjectName(sessionID, encoding string, at time.Time) string {
	ext := "webm"
	if strings.Contains(encoding, "ogg") {
		ext = "ogg"
	}
	return path.Join("broadcasts", at.Format("2006/01/02"), sessionID+"."+ext)
}

// Recording 正在上传的归档，Write 不会阻塞推流
type Recording struct {
	name    string
	pw      *io.PipeWriter
	done    chan struct{}
	err     error
	mu      sync.Mutex
	written int64
	broken  bool
}

// Begin 开始一个流式上传
func (a *Archive) Begin(ctx context.Context, sessionID, encoding string) *Recording {
	name := ObjectName(sessionID, encoding, time.Now())
	contentType := "audio/webm"
	if strings.HasSuffix(name, ".ogg") {
		contentType = "audio/ogg"
	}

	pr, pw := io.Pipe()
	rec := &Recording{name: name, pw: pw, done: make(chan struct{})}
	go func() {
		defer close(rec.done)
		_, err := a.client.PutObject(ctx, a.bucket, name, pr, -1, minio.PutObjectOptions{ContentType: contentType})
		if err != nil {
			logger.Warn("归档上传失败", logger.String("object", name), logger.ErrorField(err))
			pr.CloseWithError(err)
		}
		rec.err = err
	}()
	return rec
}

// Name returns the object key.
func (r *Recording) Name() string { return r.name }

// Write 写入一段数据；上传失败后静默丢弃
func (r *Recording) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.broken {
		return len(p), nil
	}
	n, err := r.pw.Write(p)
	r.written += int64(n)
	if err != nil {
		r.broken = true
	}
	return len(p), nil
}

// Close 结束上传并等待完成
func (r *Recording) Close() error {
	r.mu.Lock()
	r.pw.Close()
	r.mu.Unlock()
	<-r.done
	return r.err
}

// List 列出前缀下的归档对象
func (a *Archive) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo
	for object := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}
	return objects, stats, nil
}

// Delete 删除前缀下的所有归档，返回删除数量
func (a *Archive) Delete(ctx context.Context, prefix string) (int, error) {
	objects, _, err := a.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, o := range objects {
		objectsCh <- minio.ObjectInfo{Key: o.Key}
	}
	close(objectsCh)

	failed := 0
	var firstErr error
	for rErr := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		failed++
		if firstErr == nil {
			firstErr = fmt.Errorf("删除对象 %s 失败: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return len(objects) - failed, firstErr
}

// FormatSize 人类可读的大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
