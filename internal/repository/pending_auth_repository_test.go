package repository

import (
	"testing"
	"time"

	"github.com/tgscan-bot/tgscan/internal/domain"
)

func TestPendingAuthUpsertSupersedes(t *testing.T) {
	repo := NewPendingAuthRepository(newDBForTest(t))

	first := &domain.PendingAuth{
		UserID:      7,
		Phone:       "+380991234567",
		APIID:       1111,
		APIHash:     "hash-a",
		SessionName: "session_7_380991234567",
		State:       domain.PendingStateWaitingCode,
	}
	if err := repo.Upsert(first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second := &domain.PendingAuth{
		UserID:      7,
		Phone:       "+380997654321",
		APIID:       2222,
		APIHash:     "hash-b",
		SessionName: "session_7_380997654321",
		State:       domain.PendingStateWaitingTwoFactor,
	}
	if err := repo.Upsert(second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.FindByUser(7)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Phone != "+380997654321" || got.State != domain.PendingStateWaitingTwoFactor {
		t.Fatalf("expected superseded row, got %+v", got)
	}

	var count int64
	if err := newDBForTest(t).Model(&domain.PendingAuth{}).Count(&count).Error; err == nil && count > 1 {
		t.Fatalf("expected at most one pending row per user, got %d", count)
	}
}

func TestPendingAuthDeleteByUser(t *testing.T) {
	repo := NewPendingAuthRepository(newDBForTest(t))

	p := &domain.PendingAuth{
		UserID:      9,
		Phone:       "+380991234567",
		APIID:       1,
		APIHash:     "h",
		SessionName: "session_9_380991234567",
		State:       domain.PendingStateWaitingCode,
	}
	if err := repo.Upsert(p); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.DeleteByUser(9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByUser(9); err != ErrPendingAuthNotFound {
		t.Fatalf("expected ErrPendingAuthNotFound, got %v", err)
	}
	// Deleting an absent row is not an error.
	if err := repo.DeleteByUser(9); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestPendingAuthDeleteOlderThan(t *testing.T) {
	db := newDBForTest(t)
	repo := NewPendingAuthRepository(db)

	stale := &domain.PendingAuth{
		UserID:      1,
		Phone:       "+380991111111",
		APIID:       1,
		APIHash:     "h",
		SessionName: "session_1_380991111111",
		State:       domain.PendingStateWaitingCode,
	}
	fresh := &domain.PendingAuth{
		UserID:      2,
		Phone:       "+380992222222",
		APIID:       1,
		APIHash:     "h",
		SessionName: "session_2_380992222222",
		State:       domain.PendingStateWaitingCode,
	}
	if err := repo.Upsert(stale); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}
	if err := repo.Upsert(fresh); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}
	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := db.Model(&domain.PendingAuth{}).Where("user_id = ?", 1).Update("created_at", old).Error; err != nil {
		t.Fatalf("age stale row: %v", err)
	}

	n, err := repo.DeleteOlderThan(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}
	if _, err := repo.FindByUser(2); err != nil {
		t.Fatalf("fresh row should survive sweep: %v", err)
	}
}
