package service

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/repository"
	"github.com/tgscan-bot/tgscan/internal/transport"
)

// SessionPoolService manages the set of usable account sessions. Reads are
// advisory snapshots; all mutations are single statements at the storage
// layer, so concurrent batches may invalidate and re-auth flows reactivate
// the same phone without coordination (last writer wins).
type SessionPoolService struct {
	repo       repository.SessionRepository
	sessionDir string
	logger     *slog.Logger
}

func NewSessionPoolService(repo repository.SessionRepository, sessionDir string, logger *slog.Logger) *SessionPoolService {
	return &SessionPoolService{repo: repo, sessionDir: sessionDir, logger: logger}
}

// List returns the owner's active sessions in creation order.
func (s *SessionPoolService) List(ownerID int64) ([]domain.AccountSession, error) {
	return s.repo.ListActiveByOwner(ownerID)
}

// ListAllActive returns every active session regardless of owner, in
// creation order. This is the snapshot the verifier rotates over.
func (s *SessionPoolService) ListAllActive() ([]domain.AccountSession, error) {
	return s.repo.ListAllActive()
}

// Invalidate marks a session unusable. Idempotent.
func (s *SessionPoolService) Invalidate(sessionID uint) error {
	return s.repo.MarkInactive(sessionID)
}

// Upsert records a freshly authorized session, reactivating and replacing
// credentials if the (owner, phone) pair already exists.
func (s *SessionPoolService) Upsert(ownerID int64, phone string, creds transport.Credentials, sessionName string) (*domain.AccountSession, error) {
	sess := &domain.AccountSession{
		OwnerID:     ownerID,
		Phone:       phone,
		APIID:       creds.APIID,
		APIHash:     creds.APIHash,
		SessionName: sessionName,
	}
	if err := s.repo.Upsert(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Remove hard-deletes the session row and its persisted connection state.
func (s *SessionPoolService) Remove(ownerID int64, sessionID uint) error {
	sess, err := s.repo.FindByIDForOwner(ownerID, sessionID)
	if err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ownerID, sessionID)
	if err != nil {
		return err
	}
	if !deleted {
		return repository.ErrSessionNotFound
	}
	path := filepath.Join(s.sessionDir, sess.SessionName+".session")
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("session state file not removed", "path", path, "error", err)
	}
	return nil
}
