package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/observability"
	"github.com/tgscan-bot/tgscan/internal/repository"
	"github.com/tgscan-bot/tgscan/internal/statestore"
	"github.com/tgscan-bot/tgscan/internal/transport"
)

// Conversation phases owned by the login flow. The tag is advisory front-end
// state; the durable flow state lives in the pending_auth row.
const (
	PhaseAwaitingPhone     = "awaiting_phone"
	PhaseAwaitingAPIID     = "awaiting_api_id"
	PhaseAwaitingAPIHash   = "awaiting_api_hash"
	PhaseAwaitingCode      = "awaiting_code"
	PhaseAwaitingTwoFactor = "awaiting_2fa"
)

var (
	// ErrPhoneFormat is a re-prompt, not an abort: the flow stays in place.
	ErrPhoneFormat = errors.New("phone number must start with +")
	ErrAPIIDFormat = errors.New("api id must be an integer")
	// ErrNoFlow means the in-memory flow context is gone (restart, sweep);
	// the user has to start over or resume from the pending row.
	ErrNoFlow = errors.New("no login flow in progress")
)

// Notifier delivers out-of-band flow events (QR confirmation) back to the
// user through the front-end.
type Notifier interface {
	Notify(userID int64, text string)
}

type flowContext struct {
	phone       string
	apiID       int
	apiHash     string
	sessionName string
	client      transport.Client
	touched     time.Time
}

func (f *flowContext) credentials() transport.Credentials {
	return transport.Credentials{APIID: f.apiID, APIHash: f.apiHash}
}

// AuthFlowService drives a user's session onboarding from credentials to an
// authorized pool entry, through the code, two-factor, or QR branch. Each
// user has at most one in-flight flow; its durable half is the pending_auth
// row, its live half (the open connection) this service's context map.
type AuthFlowService struct {
	pool        *SessionPoolService
	pending     repository.PendingAuthRepository
	dialer      transport.Dialer
	states      statestore.Store
	logger      *slog.Logger
	phaseTTL    time.Duration
	idleTimeout time.Duration
	pendingTTL  time.Duration

	mu       sync.Mutex
	flows    map[int64]*flowContext
	notifier Notifier
	now      func() time.Time
}

func NewAuthFlowService(
	pool *SessionPoolService,
	pending repository.PendingAuthRepository,
	dialer transport.Dialer,
	states statestore.Store,
	logger *slog.Logger,
	phaseTTL, idleTimeout, pendingTTL time.Duration,
) *AuthFlowService {
	return &AuthFlowService{
		pool:        pool,
		pending:     pending,
		dialer:      dialer,
		states:      states,
		logger:      logger,
		phaseTTL:    phaseTTL,
		idleTimeout: idleTimeout,
		pendingTTL:  pendingTTL,
		flows:       make(map[int64]*flowContext),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthFlowService) SetNotifier(n Notifier) { s.notifier = n }

func (s *AuthFlowService) Phase(ctx context.Context, userID int64) (string, error) {
	return s.states.Get(ctx, userID)
}

// Begin starts a fresh flow, discarding any previous attempt.
func (s *AuthFlowService) Begin(ctx context.Context, userID int64) error {
	s.dropFlow(userID)
	if err := s.pending.DeleteByUser(userID); err != nil {
		return err
	}
	s.setFlow(userID, &flowContext{})
	return s.states.Set(ctx, userID, PhaseAwaitingPhone, s.phaseTTL)
}

// Resume reattaches to an interrupted flow from its pending_auth row: the
// connection is rebuilt from the persisted credentials and the code request
// re-issued, instead of abandoning the platform-side verification already in
// flight. Returns the phone a code was re-sent to, or ErrNoFlow when there
// is nothing to resume.
func (s *AuthFlowService) Resume(ctx context.Context, userID int64) (string, error) {
	p, err := s.pending.FindByUser(userID)
	if err != nil {
		if errors.Is(err, repository.ErrPendingAuthNotFound) {
			return "", ErrNoFlow
		}
		return "", err
	}

	flow := &flowContext{
		phone:       p.Phone,
		apiID:       p.APIID,
		apiHash:     p.APIHash,
		sessionName: p.SessionName,
	}
	client := s.dialer.Dial(flow.credentials(), flow.sessionName)
	if err := client.Connect(ctx); err != nil {
		observability.RecordAuthFlow("resume", "error")
		return "", fmt.Errorf("reconnect pending session: %w", err)
	}
	if err := client.SendCode(ctx, p.Phone); err != nil {
		_ = client.Close()
		if delErr := s.pending.DeleteByUser(userID); delErr != nil {
			s.logger.Error("clear pending auth failed", "user_id", userID, "error", delErr)
		}
		observability.RecordAuthFlow("resume", "error")
		return "", fmt.Errorf("re-send code: %w", err)
	}

	flow.client = client
	s.setFlow(userID, flow)
	p.State = domain.PendingStateWaitingCode
	if err := s.pending.Upsert(p); err != nil {
		s.logger.Error("persist pending state failed", "user_id", userID, "error", err)
	}
	observability.RecordAuthFlow("resume", "success")
	return p.Phone, s.states.Set(ctx, userID, PhaseAwaitingCode, s.phaseTTL)
}

func (s *AuthFlowService) SubmitPhone(ctx context.Context, userID int64, text string) error {
	phone := strings.TrimSpace(text)
	if !strings.HasPrefix(phone, "+") {
		return ErrPhoneFormat
	}
	flow := s.flow(userID)
	if flow == nil {
		flow = &flowContext{}
	}
	flow.phone = phone
	s.setFlow(userID, flow)
	return s.states.Set(ctx, userID, PhaseAwaitingAPIID, s.phaseTTL)
}

func (s *AuthFlowService) SubmitAPIID(ctx context.Context, userID int64, text string) error {
	apiID, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return ErrAPIIDFormat
	}
	flow := s.flow(userID)
	if flow == nil || flow.phone == "" {
		return ErrNoFlow
	}
	flow.apiID = apiID
	s.setFlow(userID, flow)
	return s.states.Set(ctx, userID, PhaseAwaitingAPIHash, s.phaseTTL)
}

// SubmitAPIHash completes credential collection and requests a login code.
// The pending row is persisted before the code request so the flow survives
// a process restart between the two.
func (s *AuthFlowService) SubmitAPIHash(ctx context.Context, userID int64, text string) error {
	flow := s.flow(userID)
	if flow == nil || flow.phone == "" || flow.apiID == 0 {
		return ErrNoFlow
	}
	flow.apiHash = strings.TrimSpace(text)
	flow.sessionName = sessionNameFor(userID, flow.phone)

	if err := s.pending.Upsert(&domain.PendingAuth{
		UserID:      userID,
		Phone:       flow.phone,
		APIID:       flow.apiID,
		APIHash:     flow.apiHash,
		SessionName: flow.sessionName,
		State:       domain.PendingStateWaitingCode,
	}); err != nil {
		return err
	}

	client := s.dialer.Dial(flow.credentials(), flow.sessionName)
	if err := client.Connect(ctx); err != nil {
		s.abandon(ctx, userID, nil)
		observability.RecordAuthFlow("send_code", "error")
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.SendCode(ctx, flow.phone); err != nil {
		s.abandon(ctx, userID, client)
		observability.RecordAuthFlow("send_code", "error")
		return err
	}

	flow.client = client
	s.setFlow(userID, flow)
	observability.RecordAuthFlow("send_code", "success")
	return s.states.Set(ctx, userID, PhaseAwaitingCode, s.phaseTTL)
}

// SubmitCode attempts sign-in with the delivered code. On
// transport.ErrPasswordRequired the flow moves to the two-factor branch and
// the caller should prompt for the password; any other error leaves the flow
// in place for a retry.
func (s *AuthFlowService) SubmitCode(ctx context.Context, userID int64, code string) (*transport.Profile, error) {
	flow := s.flow(userID)
	if flow == nil || flow.client == nil {
		return nil, ErrNoFlow
	}
	err := flow.client.SignInCode(ctx, flow.phone, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, transport.ErrPasswordRequired) {
			if upErr := s.pending.Upsert(&domain.PendingAuth{
				UserID:      userID,
				Phone:       flow.phone,
				APIID:       flow.apiID,
				APIHash:     flow.apiHash,
				SessionName: flow.sessionName,
				State:       domain.PendingStateWaitingTwoFactor,
			}); upErr != nil {
				s.logger.Error("persist 2fa state failed", "user_id", userID, "error", upErr)
			}
			observability.RecordAuthFlow("sign_in_code", "password_required")
			if stErr := s.states.Set(ctx, userID, PhaseAwaitingTwoFactor, s.phaseTTL); stErr != nil {
				return nil, stErr
			}
			return nil, err
		}
		observability.RecordAuthFlow("sign_in_code", "error")
		return nil, err
	}
	observability.RecordAuthFlow("sign_in_code", "success")
	return s.complete(ctx, userID, flow)
}

// SubmitPassword finishes the two-factor branch. A wrong password keeps the
// connection and the flow alive for another attempt.
func (s *AuthFlowService) SubmitPassword(ctx context.Context, userID int64, password string) (*transport.Profile, error) {
	flow := s.flow(userID)
	if flow == nil || flow.client == nil {
		return nil, ErrNoFlow
	}
	if err := flow.client.SignInPassword(ctx, password); err != nil {
		observability.RecordAuthFlow("sign_in_password", "error")
		return nil, err
	}
	observability.RecordAuthFlow("sign_in_password", "success")
	return s.complete(ctx, userID, flow)
}

// BeginQR issues a QR login token for the collected credentials and awaits
// its confirmation in a background task, so one user's scan wait never
// blocks another's messages. The outcome is delivered via the Notifier.
func (s *AuthFlowService) BeginQR(ctx context.Context, userID int64) (string, error) {
	flow := s.flow(userID)
	if flow == nil || flow.apiID == 0 || flow.apiHash == "" {
		return "", ErrNoFlow
	}
	if flow.sessionName == "" {
		flow.sessionName = fmt.Sprintf("session_qr_%d", userID)
	}
	if flow.client == nil {
		client := s.dialer.Dial(flow.credentials(), flow.sessionName)
		if err := client.Connect(ctx); err != nil {
			return "", fmt.Errorf("connect: %w", err)
		}
		flow.client = client
		s.setFlow(userID, flow)
	}

	qr, err := flow.client.QRLogin(ctx)
	if err != nil {
		observability.RecordAuthFlow("qr_issue", "error")
		return "", err
	}
	observability.RecordAuthFlow("qr_issue", "success")

	go s.awaitQR(userID, qr)
	return qr.URL(), nil
}

// awaitQR blocks on the token confirmation. No local timeout: the platform
// expires the token itself, and the idle sweeper reclaims the connection if
// the user walks away.
func (s *AuthFlowService) awaitQR(userID int64, qr transport.QRLogin) {
	ctx := context.Background()
	err := qr.Wait(ctx)
	flow := s.flow(userID)
	if flow == nil {
		return
	}
	switch {
	case err == nil:
		profile, compErr := s.complete(ctx, userID, flow)
		if compErr != nil {
			observability.RecordAuthFlow("qr_confirm", "error")
			s.notify(userID, fmt.Sprintf("❌ QR authorization failed: %v", compErr))
			return
		}
		observability.RecordAuthFlow("qr_confirm", "success")
		s.notify(userID, fmt.Sprintf("✅ QR authorization successful! Session for %s added.", profile.Phone))
	case errors.Is(err, transport.ErrPasswordRequired):
		// Without a collected phone the row cannot be resumed (Resume would
		// re-send a code to ""), so the flow stays in-memory only.
		if flow.phone != "" {
			if upErr := s.pending.Upsert(&domain.PendingAuth{
				UserID:      userID,
				Phone:       flow.phone,
				APIID:       flow.apiID,
				APIHash:     flow.apiHash,
				SessionName: flow.sessionName,
				State:       domain.PendingStateWaitingTwoFactor,
			}); upErr != nil {
				s.logger.Error("persist 2fa state failed", "user_id", userID, "error", upErr)
			}
		}
		if stErr := s.states.Set(ctx, userID, PhaseAwaitingTwoFactor, s.phaseTTL); stErr != nil {
			s.logger.Error("set phase failed", "user_id", userID, "error", stErr)
		}
		observability.RecordAuthFlow("qr_confirm", "password_required")
		s.notify(userID, "🔐 Two-factor authentication is enabled. Please send your password:")
	default:
		observability.RecordAuthFlow("qr_confirm", "error")
		s.logger.Warn("qr login failed", "user_id", userID, "error", err)
		s.notify(userID, fmt.Sprintf("❌ QR authorization failed: %v", err))
	}
}

// Cancel abandons the flow and releases everything it holds.
func (s *AuthFlowService) Cancel(ctx context.Context, userID int64) error {
	s.dropFlow(userID)
	if err := s.pending.DeleteByUser(userID); err != nil {
		return err
	}
	return s.states.Delete(ctx, userID)
}

// SweepIdle releases connections of flows idle beyond the configured timeout
// and pending rows older than their TTL. Returns how many of each went.
func (s *AuthFlowService) SweepIdle(ctx context.Context) (flows int, rows int64) {
	now := s.now()
	s.mu.Lock()
	var stale []int64
	for userID, flow := range s.flows {
		if now.Sub(flow.touched) > s.idleTimeout {
			stale = append(stale, userID)
		}
	}
	s.mu.Unlock()

	for _, userID := range stale {
		s.dropFlow(userID)
		if err := s.states.Delete(ctx, userID); err != nil {
			s.logger.Error("clear phase during sweep failed", "user_id", userID, "error", err)
		}
		s.logger.Info("idle login flow released", "user_id", userID)
	}

	rows, err := s.pending.DeleteOlderThan(now.Add(-s.pendingTTL))
	if err != nil {
		s.logger.Error("pending auth sweep failed", "error", err)
	}
	return len(stale), rows
}

// complete promotes the flow into an active pool session and tears the flow
// down. The session identity comes from the collected phone, or from the
// account itself on the QR branch where no phone was ever typed.
func (s *AuthFlowService) complete(ctx context.Context, userID int64, flow *flowContext) (*transport.Profile, error) {
	profile, err := flow.client.Self(ctx)
	if err != nil {
		if flow.phone == "" {
			return nil, fmt.Errorf("resolve account identity: %w", err)
		}
		s.logger.Warn("self lookup failed after sign-in", "user_id", userID, "error", err)
		profile = &transport.Profile{Phone: flow.phone}
	}
	phone := flow.phone
	if phone == "" {
		phone = profile.Phone
		if !strings.HasPrefix(phone, "+") {
			phone = "+" + phone
		}
	}
	if profile.Phone == "" {
		profile.Phone = phone
	}

	if _, err := s.pool.Upsert(userID, phone, flow.credentials(), flow.sessionName); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if err := s.pending.DeleteByUser(userID); err != nil {
		s.logger.Error("clear pending auth failed", "user_id", userID, "error", err)
	}
	s.dropFlow(userID)
	if err := s.states.Delete(ctx, userID); err != nil {
		s.logger.Error("clear phase failed", "user_id", userID, "error", err)
	}
	return profile, nil
}

// abandon clears all flow state after an unrecoverable auth step failure.
func (s *AuthFlowService) abandon(ctx context.Context, userID int64, client transport.Client) {
	if client != nil {
		if err := client.Close(); err != nil {
			s.logger.Warn("close abandoned connection failed", "user_id", userID, "error", err)
		}
	}
	s.dropFlow(userID)
	if err := s.pending.DeleteByUser(userID); err != nil {
		s.logger.Error("clear pending auth failed", "user_id", userID, "error", err)
	}
	if err := s.states.Delete(ctx, userID); err != nil {
		s.logger.Error("clear phase failed", "user_id", userID, "error", err)
	}
}

func (s *AuthFlowService) flow(userID int64) *flowContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[userID]
	if !ok {
		return nil
	}
	flow.touched = s.now()
	return flow
}

func (s *AuthFlowService) setFlow(userID int64, flow *flowContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow.touched = s.now()
	s.flows[userID] = flow
}

func (s *AuthFlowService) dropFlow(userID int64) {
	s.mu.Lock()
	flow, ok := s.flows[userID]
	delete(s.flows, userID)
	s.mu.Unlock()
	if ok && flow.client != nil {
		if err := flow.client.Close(); err != nil {
			s.logger.Warn("close flow connection failed", "user_id", userID, "error", err)
		}
	}
}

func (s *AuthFlowService) notify(userID int64, text string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(userID, text)
}

// sessionNameFor derives the persisted-state key deterministically from user
// and phone so re-authenticating the same pair reuses the same state file.
func sessionNameFor(userID int64, phone string) string {
	digits := strings.NewReplacer("+", "", " ", "").Replace(phone)
	return fmt.Sprintf("session_%d_%s", userID, digits)
}
