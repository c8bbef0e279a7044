package verifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/transport"
)

func profileNamed(first string) transport.Profile {
	return transport.Profile{FirstName: first}
}

type fakeClient struct {
	authorized   bool
	connectErr   error
	importErr    error
	contact      *transport.Contact
	deleteCalls  int
	closeCalls   int
	connectCalls int
}

func (c *fakeClient) Connect(context.Context) error { c.connectCalls++; return c.connectErr }
func (c *fakeClient) Close() error                  { c.closeCalls++; return nil }
func (c *fakeClient) IsAuthorized(context.Context) (bool, error) {
	return c.authorized, nil
}
func (c *fakeClient) SendCode(context.Context, string) error           { return nil }
func (c *fakeClient) SignInCode(context.Context, string, string) error { return nil }
func (c *fakeClient) SignInPassword(context.Context, string) error     { return nil }
func (c *fakeClient) QRLogin(context.Context) (transport.QRLogin, error) {
	return nil, errors.New("not supported")
}
func (c *fakeClient) Self(context.Context) (*transport.Profile, error) {
	return &transport.Profile{}, nil
}
func (c *fakeClient) ImportContact(context.Context, int64, string, string, string) (*transport.Contact, error) {
	return c.contact, c.importErr
}
func (c *fakeClient) DeleteContact(context.Context, *transport.Contact) error {
	c.deleteCalls++
	return nil
}

type fakeDialer struct{ client *fakeClient }

func (d *fakeDialer) Dial(transport.Credentials, string) transport.Client { return d.client }

func testSession() domain.AccountSession {
	return domain.AccountSession{ID: 1, OwnerID: 1, Phone: "+380991111111", SessionName: "s"}
}

func newTestProber(client *fakeClient) *TransportProber {
	return NewTransportProber(&fakeDialer{client: client}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProbeRegisteredCleansUpContact(t *testing.T) {
	client := &fakeClient{
		authorized: true,
		contact: &transport.Contact{
			UserID:  100,
			Profile: transport.Profile{FirstName: "Ivan", Username: "ivanp"},
		},
	}
	p := newTestProber(client)

	res := p.Probe(context.Background(), testSession(), "+380991234567")
	if res.Kind != ProbeRegistered {
		t.Fatalf("expected registered, got %v", res.Kind)
	}
	if res.Profile.Username != "ivanp" {
		t.Fatalf("expected profile carried through, got %+v", res.Profile)
	}
	if client.deleteCalls != 1 {
		t.Fatalf("expected contact import reversed exactly once, got %d", client.deleteCalls)
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected one close per connect, got %d", client.closeCalls)
	}
}

func TestProbeNotRegistered(t *testing.T) {
	client := &fakeClient{authorized: true}
	p := newTestProber(client)

	res := p.Probe(context.Background(), testSession(), "+380991234567")
	if res.Kind != ProbeNotRegistered {
		t.Fatalf("expected not registered, got %v", res.Kind)
	}
	if client.deleteCalls != 0 {
		t.Fatal("nothing to reverse when the import resolves no user")
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected close on the success path, got %d", client.closeCalls)
	}
}

func TestProbeUnauthorizedSession(t *testing.T) {
	client := &fakeClient{authorized: false}
	p := newTestProber(client)

	res := p.Probe(context.Background(), testSession(), "+380991234567")
	if res.Kind != ProbeSessionInvalid {
		t.Fatalf("expected session invalid, got %v", res.Kind)
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected close on the invalid-session path, got %d", client.closeCalls)
	}
}

func TestProbeFloodWait(t *testing.T) {
	client := &fakeClient{
		authorized: true,
		importErr:  &transport.FloodWaitError{Wait: 42 * time.Second},
	}
	p := newTestProber(client)

	res := p.Probe(context.Background(), testSession(), "+380991234567")
	if res.Kind != ProbeRateLimited {
		t.Fatalf("expected rate limited, got %v", res.Kind)
	}
	if res.Wait != 42*time.Second {
		t.Fatalf("expected platform wait carried through, got %v", res.Wait)
	}
	if client.closeCalls != 1 {
		t.Fatalf("expected close on the flood path, got %d", client.closeCalls)
	}
}

func TestProbeUnauthorizedDuringImport(t *testing.T) {
	client := &fakeClient{authorized: true, importErr: transport.ErrUnauthorized}
	p := newTestProber(client)

	res := p.Probe(context.Background(), testSession(), "+380991234567")
	if res.Kind != ProbeSessionInvalid {
		t.Fatalf("expected session invalid on mid-probe logout, got %v", res.Kind)
	}
}

func TestProbeConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("dial tcp: refused")}
	p := newTestProber(client)

	res := p.Probe(context.Background(), testSession(), "+380991234567")
	if res.Kind != ProbeTransient {
		t.Fatalf("expected transient error, got %v", res.Kind)
	}
	if client.closeCalls != 0 {
		t.Fatal("close must not run when connect failed")
	}
}
