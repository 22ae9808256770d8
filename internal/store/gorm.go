package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CallSession is the persisted form of a room session.
type CallSession struct {
	SessionID string    `gorm:"primarykey;size:36"`
	RoomID    string    `gorm:"size:128;index;not null"`
	StartedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

// CallConnection is one persisted participant lifecycle event.
type CallConnection struct {
	ID        uint      `gorm:"primarykey"`
	SessionID string    `gorm:"size:36;index;not null"`
	RoomID    string    `gorm:"size:128;not null"`
	SocketID  string    `gorm:"size:36;not null"`
	UserID    string    `gorm:"size:128;index;not null"`
	UserName  string    `gorm:"size:256"`
	UserType  string    `gorm:"size:32"`
	Event     string    `gorm:"size:16;not null"`
	At        time.Time `gorm:"not null"`
}

// GormSink persists records to a SQLite database through GORM.
type GormSink struct {
	db *gorm.DB
}

// OpenGormSink opens (or creates) the database at dsn and runs migrations.
func OpenGormSink(dsn string) (*GormSink, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := db.AutoMigrate(&CallSession{}, &CallConnection{}); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return &GormSink{db: db}, nil
}

// RecordSession upserts the session row; rejoins update the timestamp only.
func (s *GormSink) RecordSession(ctx context.Context, rec SessionRecord) error {
	row := CallSession{
		SessionID: rec.SessionID,
		RoomID:    rec.RoomID,
		StartedAt: rec.StartedAt,
	}
	res := s.db.WithContext(ctx).
		Where(&CallSession{SessionID: rec.SessionID}).
		Assign(CallSession{RoomID: rec.RoomID}).
		FirstOrCreate(&row)
	return res.Error
}

func (s *GormSink) RecordConnection(ctx context.Context, rec ConnectionRecord) error {
	row := CallConnection{
		SessionID: rec.SessionID,
		RoomID:    rec.RoomID,
		SocketID:  rec.SocketID,
		UserID:    rec.UserID,
		UserName:  rec.UserName,
		UserType:  rec.UserType,
		Event:     rec.Event,
		At:        rec.At,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
