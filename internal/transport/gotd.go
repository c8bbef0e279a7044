package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// GotdDialer builds MTProto clients backed by gotd/td, with per-session file
// storage under SessionDir.
type GotdDialer struct {
	SessionDir string
	Logger     *slog.Logger
}

func NewGotdDialer(sessionDir string, logger *slog.Logger) *GotdDialer {
	return &GotdDialer{SessionDir: sessionDir, Logger: logger}
}

func (d *GotdDialer) Dial(creds Credentials, sessionName string) Client {
	dispatcher := tg.NewUpdateDispatcher()
	client := telegram.NewClient(creds.APIID, creds.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{
			Path: filepath.Join(d.SessionDir, sessionName+".session"),
		},
		UpdateHandler: dispatcher,
		Device: telegram.DeviceConfig{
			DeviceModel:   "Samsung Galaxy S21",
			SystemVersion: "Android 12",
			AppVersion:    "8.4.1",
		},
	})
	return &gotdClient{client: client, dispatcher: dispatcher, logger: d.Logger}
}

type gotdClient struct {
	client     *telegram.Client
	dispatcher tg.UpdateDispatcher
	logger     *slog.Logger

	runCtx   context.Context
	cancel   context.CancelFunc
	runErr   chan error
	api      *tg.Client
	codeHash string
}

// Connect starts the client's run loop and returns once the connection is
// initialized. The loop keeps the connection alive until Close.
func (c *gotdClient) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	errC := make(chan error, 1)
	go func() {
		errC <- c.client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	select {
	case <-ready:
		c.runCtx = runCtx
		c.cancel = cancel
		c.runErr = errC
		c.api = c.client.API()
		return nil
	case err := <-errC:
		cancel()
		if err == nil {
			err = errors.New("connection closed before initialization")
		}
		return fmt.Errorf("connect: %w", err)
	case <-ctx.Done():
		cancel()
		<-errC
		return ctx.Err()
	}
}

func (c *gotdClient) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	err := <-c.runErr
	c.cancel = nil
	c.api = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *gotdClient) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, mapError(err)
	}
	return status.Authorized, nil
}

func (c *gotdClient) SendCode(ctx context.Context, phone string) error {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return mapError(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return fmt.Errorf("unexpected sent code type %T", sent)
	}
	c.codeHash = code.PhoneCodeHash
	return nil
}

func (c *gotdClient) SignInCode(ctx context.Context, phone, code string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, c.codeHash)
	return mapError(err)
}

func (c *gotdClient) SignInPassword(ctx context.Context, password string) error {
	_, err := c.client.Auth().Password(ctx, password)
	return mapError(err)
}

func (c *gotdClient) QRLogin(ctx context.Context) (QRLogin, error) {
	if c.runCtx == nil {
		return nil, errors.New("qr login requires a connected client")
	}
	loggedIn := qrlogin.OnLoginToken(c.dispatcher)
	tokenC := make(chan string, 1)
	done := make(chan error, 1)
	// The auth exchange is tied to the connection's lifetime, not to the
	// caller's ctx: the token wait continues after this call returns.
	go func() {
		_, err := c.client.QR().Auth(c.runCtx, loggedIn, func(ctx context.Context, token qrlogin.Token) error {
			select {
			case tokenC <- token.URL():
			default:
			}
			return nil
		})
		done <- err
	}()
	select {
	case url := <-tokenC:
		return &gotdQRLogin{url: url, done: done}, nil
	case err := <-done:
		return nil, mapError(err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type gotdQRLogin struct {
	url  string
	done chan error
}

func (q *gotdQRLogin) URL() string { return q.url }

func (q *gotdQRLogin) Wait(ctx context.Context) error {
	select {
	case err := <-q.done:
		return mapError(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *gotdClient) Self(ctx context.Context) (*Profile, error) {
	me, err := c.client.Self(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &Profile{
		FirstName: me.FirstName,
		LastName:  me.LastName,
		Username:  me.Username,
		Phone:     me.Phone,
	}, nil
}

func (c *gotdClient) ImportContact(ctx context.Context, clientID int64, phone, firstName, lastName string) (*Contact, error) {
	res, err := c.api.ContactsImportContacts(ctx, []tg.InputPhoneContact{{
		ClientID:  clientID,
		Phone:     phone,
		FirstName: firstName,
		LastName:  lastName,
	}})
	if err != nil {
		return nil, mapError(err)
	}
	if len(res.Users) == 0 {
		return nil, nil
	}
	user, ok := res.Users[0].(*tg.User)
	if !ok {
		return nil, nil
	}
	return &Contact{
		UserID:     user.ID,
		AccessHash: user.AccessHash,
		Profile: Profile{
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Username:  user.Username,
			Phone:     user.Phone,
		},
	}, nil
}

func (c *gotdClient) DeleteContact(ctx context.Context, contact *Contact) error {
	_, err := c.api.ContactsDeleteContacts(ctx, []tg.InputUserClass{
		&tg.InputUser{UserID: contact.UserID, AccessHash: contact.AccessHash},
	})
	return mapError(err)
}

// mapError translates gotd errors into the package taxonomy. Anything not
// recognized passes through for the caller to treat as transient.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, auth.ErrPasswordAuthNeeded) || tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
		return ErrPasswordRequired
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Wait: wait}
	}
	if tgerr.Is(err, "PHONE_NUMBER_INVALID") {
		return ErrInvalidPhone
	}
	if auth.IsUnauthorized(err) {
		return ErrUnauthorized
	}
	return err
}
