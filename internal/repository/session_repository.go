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

var ErrSessionNotFound = errors.New("account session not found")

type SessionRepository interface {
	ListActiveByOwner(ownerID int64) ([]domain.AccountSession, error)
	ListAllActive() ([]domain.AccountSession, error)
	FindByIDForOwner(ownerID int64, sessionID uint) (*domain.AccountSession, error)
	Upsert(s *domain.AccountSession) error
	MarkInactive(sessionID uint) error
	Delete(ownerID int64, sessionID uint) (bool, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) ListActiveByOwner(ownerID int64) ([]domain.AccountSession, error) {
	var sessions []domain.AccountSession
	err := r.db.Where("owner_id = ? AND is_active = ?", ownerID, true).
		Order("created_at ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account_session", "list_active_by_owner", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "account_session", "list_active_by_owner", "success")
	return sessions, nil
}

func (r *GormSessionRepository) ListAllActive() ([]domain.AccountSession, error) {
	var sessions []domain.AccountSession
	err := r.db.Where("is_active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account_session", "list_all_active", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "account_session", "list_all_active", "success")
	return sessions, nil
}

func (r *GormSessionRepository) FindByIDForOwner(ownerID int64, sessionID uint) (*domain.AccountSession, error) {
	var s domain.AccountSession
	err := r.db.Where("owner_id = ? AND id = ?", ownerID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "account_session", "find_by_id_for_owner", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "account_session", "find_by_id_for_owner", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "account_session", "find_by_id_for_owner", "success")
	return &s, nil
}

// Upsert inserts the session or, on an (owner_id, phone) conflict, replaces
// the credentials and session name and reactivates the row. Single statement,
// safe against a concurrent batch invalidating the same phone.
func (r *GormSessionRepository) Upsert(s *domain.AccountSession) error {
	s.IsActive = true
	s.UpdatedAt = time.Now().UTC()
	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"api_id", "api_hash", "session_name", "is_active", "updated_at",
		}),
	}).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account_session", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "account_session", "upsert", "success")
	return nil
}

// MarkInactive is idempotent; marking an already inactive session is a no-op.
func (r *GormSessionRepository) MarkInactive(sessionID uint) error {
	err := r.db.Model(&domain.AccountSession{}).
		Where("id = ?", sessionID).
		Update("is_active", false).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "account_session", "mark_inactive", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "account_session", "mark_inactive", "success")
	return nil
}

func (r *GormSessionRepository) Delete(ownerID int64, sessionID uint) (bool, error) {
	res := r.db.Where("owner_id = ? AND id = ?", ownerID, sessionID).Delete(&domain.AccountSession{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "account_session", "delete", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "account_session", "delete", "success")
	return res.RowsAffected > 0, nil
}
