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

var (
	ErrKnownUserNotFound = errors.New("known user not found")
	ErrKnownUserExists   = errors.New("known user already exists")
)

type KnownUserRepository interface {
	FindByDigits(digits string) (*domain.KnownUser, error)
	Create(u *domain.KnownUser) error
	Update(u *domain.KnownUser) error
	DeleteByDigits(digits string) (bool, error)
	Count() (int64, error)
	List(limit int) ([]domain.KnownUser, error)
}

type GormKnownUserRepository struct{ db *gorm.DB }

func NewKnownUserRepository(db *gorm.DB) KnownUserRepository {
	return &GormKnownUserRepository{db: db}
}

func (r *GormKnownUserRepository) FindByDigits(digits string) (*domain.KnownUser, error) {
	var u domain.KnownUser
	err := r.db.Where("phone_digits = ?", digits).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "known_user", "find_by_digits", "not_found")
			return nil, ErrKnownUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "known_user", "find_by_digits", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "known_user", "find_by_digits", "success")
	return &u, nil
}

// Create inserts the user and reports ErrKnownUserExists when another row
// already holds the same phone_digits. Conflict detection goes through an
// ON CONFLICT DO NOTHING so it behaves the same on sqlite and postgres.
func (r *GormKnownUserRepository) Create(u *domain.KnownUser) error {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone_digits"}},
		DoNothing: true,
	}).Create(u)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "create", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "create", "conflict")
		return ErrKnownUserExists
	}
	observability.RecordRepositoryOperation(context.Background(), "known_user", "create", "success")
	return nil
}

func (r *GormKnownUserRepository) Update(u *domain.KnownUser) error {
	u.UpdatedAt = time.Now().UTC()
	res := r.db.Model(&domain.KnownUser{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"phone":        u.Phone,
			"phone_digits": u.PhoneDigits,
			"first_name":   u.FirstName,
			"last_name":    u.LastName,
			"updated_at":   u.UpdatedAt,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "update", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "update", "not_found")
		return ErrKnownUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "known_user", "update", "success")
	return nil
}

func (r *GormKnownUserRepository) DeleteByDigits(digits string) (bool, error) {
	res := r.db.Where("phone_digits = ?", digits).Delete(&domain.KnownUser{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "delete_by_digits", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "known_user", "delete_by_digits", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormKnownUserRepository) Count() (int64, error) {
	var n int64
	if err := r.db.Model(&domain.KnownUser{}).Count(&n).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "known_user", "count", "success")
	return n, nil
}

// List returns the most recently added users first.
func (r *GormKnownUserRepository) List(limit int) ([]domain.KnownUser, error) {
	var users []domain.KnownUser
	err := r.db.Order("id DESC").Limit(limit).Find(&users).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "known_user", "list", "error")
		return users, err
	}
	observability.RecordRepositoryOperation(context.Background(), "known_user", "list", "success")
	return users, nil
}
