// Package transport defines the narrow capability surface the rest of the
// service needs from a Telegram MTProto client, plus the error taxonomy the
// auth flow and the verifier branch on. One adapter exists per underlying
// client library.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPasswordRequired signals the account has two-factor auth enabled and
	// sign-in must continue with the account password.
	ErrPasswordRequired = errors.New("two-factor password required")
	// ErrInvalidPhone signals the platform rejected the phone number itself.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrUnauthorized signals the platform no longer recognizes the session
	// as logged in.
	ErrUnauthorized = errors.New("session not authorized")
)

// FloodWaitError carries the platform-reported pause before the session may
// retry the operation.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.Wait)
}

// Credentials is the api_id/api_hash pair a session was created with. The
// pair is bound to the persisted connection state; it must never be swapped
// under an existing session name.
type Credentials struct {
	APIID   int
	APIHash string
}

// Profile is the best-effort identity the platform resolves for a user.
type Profile struct {
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// Contact is a resolved entry from a contact import, kept long enough to
// reverse the import.
type Contact struct {
	UserID     int64
	AccessHash int64
	Profile    Profile
}

// QRLogin is an issued QR login token. Wait blocks until the token is
// scanned and confirmed, the token expires platform-side, or ctx is done.
type QRLogin interface {
	URL() string
	Wait(ctx context.Context) error
}

// Client is one connection bound to a session's persisted state. Connect must
// be paired with exactly one Close on every exit path.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	IsAuthorized(ctx context.Context) (bool, error)
	SendCode(ctx context.Context, phone string) error
	SignInCode(ctx context.Context, phone, code string) error
	SignInPassword(ctx context.Context, password string) error
	QRLogin(ctx context.Context) (QRLogin, error)
	Self(ctx context.Context) (*Profile, error)
	ImportContact(ctx context.Context, clientID int64, phone, firstName, lastName string) (*Contact, error)
	DeleteContact(ctx context.Context, contact *Contact) error
}

// Dialer constructs clients. The session name keys the persisted
// cryptographic state, so dialing the same name resumes the same identity.
type Dialer interface {
	Dial(creds Credentials, sessionName string) Client
}
