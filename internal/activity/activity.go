// Package activity keeps a short per-user feed of what the user has done.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/creator-crew/internal/models"
	"github.com/xaenox/creator-crew/internal/storage"
	"go.uber.org/zap"
)

// MaxEntries is how many entries are kept per user.
const MaxEntries = 50

// Recorder receives best-effort activity entries.
type Recorder interface {
	Record(ctx context.Context, userID, summary, icon string)
}

func Key(userID string) string {
	return "activity:" + userID
}

// Log stores entries in the persistence medium, newest first.
type Log struct {
	kv     storage.Storage
	logger *zap.Logger
	now    func() time.Time

	// serializes read-modify-write of a feed
	mu sync.Mutex
}

func NewLog(kv storage.Storage, logger *zap.Logger) *Log {
	return &Log{kv: kv, logger: logger, now: time.Now}
}

func (l *Log) Record(ctx context.Context, userID, summary, icon string) {
	l.logger.Info("Activity",
		zap.String("user_id", userID),
		zap.String("icon", icon),
		zap.String("summary", summary))

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx, userID)
	if err != nil {
		l.logger.Warn("Failed to load activity feed", zap.Error(err), zap.String("user_id", userID))
		return
	}
	entries = append([]models.ActivityEntry{{Summary: summary, Icon: icon, CreatedAt: l.now()}}, entries...)
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		l.logger.Warn("Failed to encode activity feed", zap.Error(err), zap.String("user_id", userID))
		return
	}
	if err := l.kv.Put(ctx, Key(userID), raw); err != nil {
		l.logger.Warn("Failed to save activity feed", zap.Error(err), zap.String("user_id", userID))
	}
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(ctx context.Context, userID string, n int) ([]models.ActivityEntry, error) {
	entries, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (l *Log) load(ctx context.Context, userID string) ([]models.ActivityEntry, error) {
	raw, err := l.kv.Get(ctx, Key(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	var entries []models.ActivityEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return entries, nil
}

// Preview shortens text to at most limit runes for use as a summary.
func Preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
