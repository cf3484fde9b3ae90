// Package archive stores completed stories in Postgres.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/taleforge-client/internal/engine"
	"github.com/DoyleJ11/taleforge-client/internal/story"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
)

// Story is one finished room.
type Story struct {
	ID          uint        `gorm:"primaryKey"`
	RoomCode    string      `gorm:"uniqueIndex;size:6;not null"`
	Title       string      `gorm:"size:100"`
	Description string      `gorm:"type:text"`
	Genre       string      `gorm:"size:32"`
	Duration    int
	CompletedAt time.Time   `gorm:"index"`
	Markdown    string      `gorm:"type:text"`
	Characters  []Character `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE"`
	Lines       []Line      `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Character struct {
	ID            uint   `gorm:"primaryKey"`
	StoryID       uint   `gorm:"index;not null"`
	PlayerID      string `gorm:"size:64"`
	PlayerName    string `gorm:"size:30"`
	CharacterName string `gorm:"size:50"`
	Role          string `gorm:"size:32"`
	TitleCreator  bool
}

// Line is one story contribution, in story order.
type Line struct {
	ID          uint   `gorm:"primaryKey"`
	StoryID     uint   `gorm:"index;not null"`
	Seq         int    `gorm:"not null"`
	MessageID   string `gorm:"size:64"`
	MessageType string `gorm:"size:16"`
	SenderID    string `gorm:"size:64"`
	SenderName  string `gorm:"size:30"`
	SenderRole  string `gorm:"size:32"`
	Content     string `gorm:"type:text"`
	Timestamp   time.Time
}

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to Postgres and migrates the archive tables.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("archive open: %w", err)
	}
	return New(ctx, db, log)
}

// New wraps an open gorm handle.
func New(ctx context.Context, db *gorm.DB, log *slog.Logger) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Story{}, &Character{}, &Line{}); err != nil {
		return nil, fmt.Errorf("archive migrate: %w", err)
	}
	return &Store{db: db, log: log.With(slog.String("component", "archive"))}, nil
}

// Save replaces the archived copy of a room's story.
func (s *Store) Save(ctx context.Context, doc story.Document, markdown []byte) error {
	rec := toRecord(doc, markdown)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "genre", "duration", "completed_at", "markdown", "updated_at"}),
		}).Omit("Characters", "Lines").Create(&rec).Error; err != nil {
			return err
		}

		// the conflict path may not hand back the id
		var id uint
		if err := tx.Model(&Story{}).Where("room_code = ?", rec.RoomCode).Pluck("id", &id).Error; err != nil {
			return err
		}
		if err := tx.Where("story_id = ?", id).Delete(&Character{}).Error; err != nil {
			return err
		}
		if err := tx.Where("story_id = ?", id).Delete(&Line{}).Error; err != nil {
			return err
		}
		for i := range rec.Characters {
			rec.Characters[i].StoryID = id
		}
		for i := range rec.Lines {
			rec.Lines[i].StoryID = id
		}
		if len(rec.Characters) > 0 {
			if err := tx.Create(&rec.Characters).Error; err != nil {
				return err
			}
		}
		if len(rec.Lines) > 0 {
			if err := tx.Create(&rec.Lines).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive save %s: %w", rec.RoomCode, err)
	}
	s.log.Info("story archived", slog.String("room", rec.RoomCode), slog.Int("lines", len(rec.Lines)))
	return nil
}

// Get loads an archived story with its characters and lines.
func (s *Store) Get(ctx context.Context, code string) (Story, error) {
	var rec Story
	err := s.db.WithContext(ctx).
		Preload("Characters", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Where("room_code = ?", code).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Story{}, fmt.Errorf("archive %s: %w", code, errs.ErrNotFound)
	}
	if err != nil {
		return Story{}, fmt.Errorf("archive get %s: %w", code, err)
	}
	return rec, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(doc story.Document, markdown []byte) Story {
	room := doc.Room
	rec := Story{
		RoomCode: room.RoomCode,
		Genre:    string(room.Genre),
		Duration: room.Duration,
		Markdown: string(markdown),
	}
	if room.Title != nil {
		rec.Title = *room.Title
	}
	if room.Description != nil {
		rec.Description = *room.Description
	}
	if room.CompletedAt != nil {
		rec.CompletedAt = room.CompletedAt.UTC()
	}

	for _, p := range doc.Players {
		c := Character{PlayerID: p.ID, PlayerName: p.PlayerName, TitleCreator: p.IsTitleCreator}
		if p.CharacterName != nil {
			c.CharacterName = *p.CharacterName
		}
		if p.Role != nil {
			c.Role = string(*p.Role)
		}
		rec.Characters = append(rec.Characters, c)
	}

	for i, m := range engine.StoryLines(doc.Transcript) {
		l := Line{
			Seq:         i,
			MessageID:   m.ID,
			MessageType: string(m.MessageType),
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			Content:     m.Content,
			Timestamp:   m.Timestamp.UTC(),
		}
		if m.SenderRole != nil {
			l.SenderRole = string(*m.SenderRole)
		}
		rec.Lines = append(rec.Lines, l)
	}
	return rec
}

var _ story.Archiver = (*Store)(nil)

