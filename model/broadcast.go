package model

import "time"

// BroadcastSession 一次推流会话的记录
type BroadcastSession struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"sessionId"`
	Encoding      string     `gorm:"type:varchar(16)" json:"encoding"`
	RemoteAddr    string     `gorm:"type:varchar(128)" json:"remoteAddr"`
	Target        string     `gorm:"type:varchar(255)" json:"-"`
	StartedAt     time.Time  `gorm:"index" json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	Bytes         int64      `json:"bytes"`
	Chunks        int64      `json:"chunks"`
	ExitReason    string     `gorm:"type:varchar(255)" json:"exitReason,omitempty"`
	ArchiveObject string     `gorm:"type:varchar(255)" json:"archiveObject,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (BroadcastSession) TableName() string {
	return "broadcast_sessions"
}
