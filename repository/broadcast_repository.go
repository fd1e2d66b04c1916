package repository

import (
	"context"
	"errors"
	"time"

	"RadioRoyal/model"

	"gorm.io/gorm"
)

// BroadcastRepository 推流会话日志数据访问接口
type BroadcastRepository interface {
	Create(ctx context.Context, session *model.BroadcastSession) error
	Finish(ctx context.Context, sessionID string, bytes, chunks int64, reason, archiveObject string) error
	GetBySessionID(ctx context.Context, sessionID string) (*model.BroadcastSession, error)
	ListRecent(ctx context.Context, limit int) ([]*model.BroadcastSession, error)
}

// gormBroadcastRepository GORM 实现
type gormBroadcastRepository struct {
	db *gorm.DB
}

// NewGormBroadcastRepository 创建 GORM 推流日志仓库
func NewGormBroadcastRepository(db *gorm.DB) BroadcastRepository {
	return &gormBroadcastRepository{db: db}
}

// Create 记录会话开始
func (r *gormBroadcastRepository) Create(ctx context.Context, session *model.BroadcastSession) error {
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// Finish 记录会话结束
func (r *gormBroadcastRepository) Finish(ctx context.Context, sessionID string, bytes, chunks int64, reason, archiveObject string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"ended_at":    now,
		"bytes":       bytes,
		"chunks":      chunks,
		"exit_reason": reason,
	}
	if archiveObject != "" {
		updates["archive_object"] = archiveObject
	}
	return r.db.WithContext(ctx).Model(&model.BroadcastSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

// GetBySessionID 根据会话ID查询，不存在时返回 nil
func (r *gormBroadcastRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.BroadcastSession, error) {
	var s model.BroadcastSession
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListRecent 最近的会话，按开始时间倒序
func (r *gormBroadcastRepository) ListRecent(ctx context.Context, limit int) ([]*model.BroadcastSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var sessions []*model.BroadcastSession
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
