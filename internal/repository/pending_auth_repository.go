package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPendingAuthNotFound = errors.New("pending auth not found")

type PendingAuthRepository interface {
	Upsert(p *domain.PendingAuth) error
	FindByUser(userID int64) (*domain.PendingAuth, error)
	DeleteByUser(userID int64) error
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

type GormPendingAuthRepository struct{ db *gorm.DB }

func NewPendingAuthRepository(db *gorm.DB) PendingAuthRepository {
	return &GormPendingAuthRepository{db: db}
}

// Upsert keeps at most one in-progress login per user; a retry supersedes the
// previous attempt, including its created_at, so the abandonment sweep counts
// from the latest attempt.
func (r *GormPendingAuthRepository) Upsert(p *domain.PendingAuth) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"phone", "api_id", "api_hash", "session_name", "state", "created_at", "updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "pending_auth", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "pending_auth", "upsert", "success")
	return nil
}

func (r *GormPendingAuthRepository) FindByUser(userID int64) (*domain.PendingAuth, error) {
	var p domain.PendingAuth
	err := r.db.Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "pending_auth", "find_by_user", "not_found")
			return nil, ErrPendingAuthNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "pending_auth", "find_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "pending_auth", "find_by_user", "success")
	return &p, nil
}

func (r *GormPendingAuthRepository) DeleteByUser(userID int64) error {
	err := r.db.Where("user_id = ?", userID).Delete(&domain.PendingAuth{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "pending_auth", "delete_by_user", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "pending_auth", "delete_by_user", "success")
	return nil
}

func (r *GormPendingAuthRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := r.db.Where("created_at < ?", cutoff).Delete(&domain.PendingAuth{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "pending_auth", "delete_older_than", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "pending_auth", "delete_older_than", "success")
	return res.RowsAffected, nil
}
