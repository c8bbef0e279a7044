package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/repository"
	"github.com/tgscan-bot/tgscan/internal/statestore"
	"github.com/tgscan-bot/tgscan/internal/transport"
	"gorm.io/gorm"
)

type scriptedClient struct {
	codesSent    []string
	signInErrs   []error
	passwordErrs []error
	self         transport.Profile
	closeCalls   int
}

func (c *scriptedClient) Connect(context.Context) error            { return nil }
func (c *scriptedClient) Close() error                             { c.closeCalls++; return nil }
func (c *scriptedClient) IsAuthorized(context.Context) (bool, error) { return true, nil }

func (c *scriptedClient) SendCode(_ context.Context, phone string) error {
	c.codesSent = append(c.codesSent, phone)
	return nil
}

func (c *scriptedClient) SignInCode(context.Context, string, string) error {
	if len(c.signInErrs) == 0 {
		return nil
	}
	err := c.signInErrs[0]
	c.signInErrs = c.signInErrs[1:]
	return err
}

func (c *scriptedClient) SignInPassword(context.Context, string) error {
	if len(c.passwordErrs) == 0 {
		return nil
	}
	err := c.passwordErrs[0]
	c.passwordErrs = c.passwordErrs[1:]
	return err
}

func (c *scriptedClient) QRLogin(context.Context) (transport.QRLogin, error) {
	return nil, errors.New("not scripted")
}

func (c *scriptedClient) Self(context.Context) (*transport.Profile, error) {
	p := c.self
	return &p, nil
}

func (c *scriptedClient) ImportContact(context.Context, int64, string, string, string) (*transport.Contact, error) {
	return nil, nil
}
func (c *scriptedClient) DeleteContact(context.Context, *transport.Contact) error { return nil }

type scriptedDialer struct {
	client *scriptedClient
	dials  int
}

func (d *scriptedDialer) Dial(transport.Credentials, string) transport.Client {
	d.dials++
	return d.client
}

type flowFixture struct {
	svc     *AuthFlowService
	dialer  *scriptedDialer
	pending repository.PendingAuthRepository
	pool    *SessionPoolService
	db      *gorm.DB
}

func newFlowFixture(t *testing.T, client *scriptedClient) *flowFixture {
	t.Helper()
	db := newDBForTest(t)
	sessRepo := repository.NewSessionRepository(db)
	pendRepo := repository.NewPendingAuthRepository(db)
	pool := NewSessionPoolService(sessRepo, t.TempDir(), testLogger())
	dialer := &scriptedDialer{client: client}
	svc := NewAuthFlowService(pool, pendRepo, dialer, statestore.NewInMemoryStore(), testLogger(),
		30*time.Minute, 15*time.Minute, 24*time.Hour)
	return &flowFixture{svc: svc, dialer: dialer, pending: pendRepo, pool: pool, db: db}
}

func (f *flowFixture) runToCode(t *testing.T, ctx context.Context, userID int64) {
	t.Helper()
	if err := f.svc.Begin(ctx, userID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.svc.SubmitPhone(ctx, userID, "+380991234567"); err != nil {
		t.Fatalf("submit phone: %v", err)
	}
	if err := f.svc.SubmitAPIID(ctx, userID, "12345"); err != nil {
		t.Fatalf("submit api id: %v", err)
	}
	if err := f.svc.SubmitAPIHash(ctx, userID, "abcdef"); err != nil {
		t.Fatalf("submit api hash: %v", err)
	}
}

func TestAuthFlowPhoneFormatKeepsState(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, &scriptedClient{})

	if err := f.svc.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.svc.SubmitPhone(ctx, 1, "380991234567"); err != ErrPhoneFormat {
		t.Fatalf("expected ErrPhoneFormat, got %v", err)
	}
	phase, err := f.svc.Phase(ctx, 1)
	if err != nil {
		t.Fatalf("phase: %v", err)
	}
	if phase != PhaseAwaitingPhone {
		t.Fatalf("format error must not advance the flow, got phase %q", phase)
	}
}

func TestAuthFlowAPIIDValidation(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, &scriptedClient{})

	if err := f.svc.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.svc.SubmitPhone(ctx, 1, "+380991234567"); err != nil {
		t.Fatalf("submit phone: %v", err)
	}
	if err := f.svc.SubmitAPIID(ctx, 1, "not-a-number"); err != ErrAPIIDFormat {
		t.Fatalf("expected ErrAPIIDFormat, got %v", err)
	}
}

func TestAuthFlowCodeSuccessUpsertsSession(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{self: transport.Profile{FirstName: "Ivan", Phone: "380991234567"}}
	f := newFlowFixture(t, client)

	f.runToCode(t, ctx, 1)
	if len(client.codesSent) != 1 {
		t.Fatalf("expected one code request, got %d", len(client.codesSent))
	}
	if _, err := f.pending.FindByUser(1); err != nil {
		t.Fatalf("pending row must exist before sign-in: %v", err)
	}

	profile, err := f.svc.SubmitCode(ctx, 1, "12345")
	if err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if profile.FirstName != "Ivan" {
		t.Fatalf("expected account profile, got %+v", profile)
	}

	sessions, err := f.pool.ListAllActive()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Phone != "+380991234567" {
		t.Fatalf("expected one active session for the phone, got %+v", sessions)
	}
	if sessions[0].SessionName != "session_1_380991234567" {
		t.Fatalf("expected deterministic session name, got %s", sessions[0].SessionName)
	}
	if _, err := f.pending.FindByUser(1); !errors.Is(err, repository.ErrPendingAuthNotFound) {
		t.Fatalf("pending row must be cleared on success, got %v", err)
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected connection released after completion, got %d closes", client.closeCalls)
	}
}

func TestAuthFlowRepeatAuthIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{self: transport.Profile{Phone: "380991234567"}}
	f := newFlowFixture(t, client)

	for i := 0; i < 2; i++ {
		f.runToCode(t, ctx, 1)
		if _, err := f.svc.SubmitCode(ctx, 1, "12345"); err != nil {
			t.Fatalf("submit code round %d: %v", i, err)
		}
	}

	sessions, err := f.pool.ListAllActive()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session row after re-auth, got %d", len(sessions))
	}
}

func TestAuthFlowTwoFactorBranch(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{
		signInErrs:   []error{transport.ErrPasswordRequired},
		passwordErrs: []error{errors.New("PASSWORD_HASH_INVALID")},
		self:         transport.Profile{Phone: "380991234567"},
	}
	f := newFlowFixture(t, client)

	f.runToCode(t, ctx, 1)
	if _, err := f.svc.SubmitCode(ctx, 1, "12345"); !errors.Is(err, transport.ErrPasswordRequired) {
		t.Fatalf("expected password-required signal, got %v", err)
	}

	p, err := f.pending.FindByUser(1)
	if err != nil {
		t.Fatalf("pending row: %v", err)
	}
	if p.State != domain.PendingStateWaitingTwoFactor {
		t.Fatalf("expected persisted 2fa state, got %q", p.State)
	}

	// Wrong password: retry allowed, connection kept.
	if _, err := f.svc.SubmitPassword(ctx, 1, "wrong"); err == nil {
		t.Fatal("expected password failure")
	}
	if client.closeCalls != 0 {
		t.Fatal("failed password must not drop the connection")
	}

	if _, err := f.svc.SubmitPassword(ctx, 1, "right"); err != nil {
		t.Fatalf("second password attempt: %v", err)
	}
	sessions, err := f.pool.ListAllActive()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected session after 2fa, got %d", len(sessions))
	}
}

type scriptedQR struct {
	url  string
	wait error
}

func (q *scriptedQR) URL() string                { return q.url }
func (q *scriptedQR) Wait(context.Context) error { return q.wait }

func TestQRTwoFactorWithoutPhoneKeepsFlowInMemory(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{self: transport.Profile{Phone: "380991234567"}}
	f := newFlowFixture(t, client)

	// QR-only flow: credentials present, no phone ever typed.
	f.svc.setFlow(1, &flowContext{apiID: 12345, apiHash: "abcdef", sessionName: "session_qr_1", client: client})
	f.svc.awaitQR(1, &scriptedQR{wait: transport.ErrPasswordRequired})

	if _, err := f.pending.FindByUser(1); !errors.Is(err, repository.ErrPendingAuthNotFound) {
		t.Fatalf("a phoneless flow must not leave a resumable row, got %v", err)
	}
	phase, err := f.svc.Phase(ctx, 1)
	if err != nil {
		t.Fatalf("phase: %v", err)
	}
	if phase != PhaseAwaitingTwoFactor {
		t.Fatalf("expected 2fa prompt phase, got %q", phase)
	}
	if _, err := f.svc.SubmitPassword(ctx, 1, "secret"); err != nil {
		t.Fatalf("password after qr: %v", err)
	}
}

func TestAuthFlowResumability(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{self: transport.Profile{Phone: "380991234567"}}
	f := newFlowFixture(t, client)
	f.runToCode(t, ctx, 1)

	// Simulate a process restart: a fresh service over the same storage.
	client2 := &scriptedClient{self: transport.Profile{Phone: "380991234567"}}
	dialer2 := &scriptedDialer{client: client2}
	svc2 := NewAuthFlowService(f.pool, f.pending, dialer2, statestore.NewInMemoryStore(), testLogger(),
		30*time.Minute, 15*time.Minute, 24*time.Hour)

	phone, err := svc2.Resume(ctx, 1)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if phone != "+380991234567" {
		t.Fatalf("expected resumed phone, got %s", phone)
	}
	if len(client2.codesSent) != 1 {
		t.Fatalf("expected code re-issued on resume, got %d", len(client2.codesSent))
	}

	var count int64
	if err := f.db.Model(&domain.PendingAuth{}).Count(&count).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if count != 1 {
		t.Fatalf("resume must not duplicate the pending row, got %d", count)
	}

	if _, err := svc2.SubmitCode(ctx, 1, "12345"); err != nil {
		t.Fatalf("submit code after resume: %v", err)
	}
}

func TestAuthFlowResumeWithoutPending(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, &scriptedClient{})
	if _, err := f.svc.Resume(ctx, 1); err != ErrNoFlow {
		t.Fatalf("expected ErrNoFlow, got %v", err)
	}
}

func TestAuthFlowSweepIdle(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{}
	f := newFlowFixture(t, client)
	f.runToCode(t, ctx, 1)

	// Nothing is idle yet.
	flows, _ := f.svc.SweepIdle(ctx)
	if flows != 0 {
		t.Fatalf("expected no flows swept, got %d", flows)
	}

	f.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	flows, _ = f.svc.SweepIdle(ctx)
	if flows != 1 {
		t.Fatalf("expected idle flow swept, got %d", flows)
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected swept flow's connection closed, got %d", client.closeCalls)
	}
	if _, err := f.svc.SubmitCode(ctx, 1, "12345"); err != ErrNoFlow {
		t.Fatalf("expected ErrNoFlow after sweep, got %v", err)
	}
}

func TestAuthFlowCancel(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{}
	f := newFlowFixture(t, client)
	f.runToCode(t, ctx, 1)

	if err := f.svc.Cancel(ctx, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected connection closed on cancel, got %d", client.closeCalls)
	}
	if _, err := f.pending.FindByUser(1); !errors.Is(err, repository.ErrPendingAuthNotFound) {
		t.Fatalf("expected pending cleared on cancel, got %v", err)
	}
}
