package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Track is an archived generated track.
type Track struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	TaskID string `gorm:"index;not null;default:''"`
	Title  string `gorm:"not null;default:''"`
	Type   string `gorm:"index;not null;default:''"`
	Prompt string `gorm:"not null;default:''"`

	// Comma separated tags.
	Genres string `gorm:"not null;default:''"`
	Moods  string `gorm:"not null;default:''"`

	Duration int     `gorm:"not null;default:0"`
	Measured float32 `gorm:"not null;default:0"`

	Audio  string `gorm:"not null;default:''"`
	Source string `gorm:"not null;default:''"`
}

func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func SplitTags(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func (s *Store) GetTrack(ctx context.Context, id string) (*Track, error) {
	var v Track
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get track %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetTrack(ctx context.Context, v *Track) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set track %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) DeleteTrack(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Track{ID: id}, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("storage: failed to delete track %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListTracks(ctx context.Context, page, size int, orderBy string, filter ...Filter) ([]*Track, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*Track{}

	q := s.db.WithContext(ctx).Offset(offset).Limit(size)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list tracks: %w", err)
	}
	return vs, nil
}
