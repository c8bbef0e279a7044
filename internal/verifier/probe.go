package verifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tgscan-bot/tgscan/internal/domain"
	"github.com/tgscan-bot/tgscan/internal/observability"
	"github.com/tgscan-bot/tgscan/internal/transport"
)

type ProbeKind int

const (
	ProbeRegistered ProbeKind = iota
	ProbeNotRegistered
	ProbeRateLimited
	ProbeSessionInvalid
	ProbeTransient
)

func (k ProbeKind) String() string {
	switch k {
	case ProbeRegistered:
		return "registered"
	case ProbeNotRegistered:
		return "not_registered"
	case ProbeRateLimited:
		return "rate_limited"
	case ProbeSessionInvalid:
		return "session_invalid"
	default:
		return "transient_error"
	}
}

// ProbeResult is the outcome of one lookup against one session.
type ProbeResult struct {
	Kind    ProbeKind
	Profile transport.Profile
	Wait    time.Duration
	Err     error
}

// Prober executes a single "is this phone known" lookup using one session.
type Prober interface {
	Probe(ctx context.Context, sess domain.AccountSession, phone string) ProbeResult
}

// TransportProber probes by importing the target as a contact and reversing
// the import immediately, whatever the outcome, so no stray contact is left
// in the session's address book.
type TransportProber struct {
	Dialer transport.Dialer
	Logger *slog.Logger
}

func NewTransportProber(dialer transport.Dialer, logger *slog.Logger) *TransportProber {
	return &TransportProber{Dialer: dialer, Logger: logger}
}

func (p *TransportProber) Probe(ctx context.Context, sess domain.AccountSession, phone string) ProbeResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "verify.probe")
	defer span.End()
	res := p.probe(ctx, sess, phone)
	span.SetAttributes(attribute.String("probe.outcome", res.Kind.String()))
	return res
}

func (p *TransportProber) probe(ctx context.Context, sess domain.AccountSession, phone string) ProbeResult {
	client := p.Dialer.Dial(transport.Credentials{APIID: sess.APIID, APIHash: sess.APIHash}, sess.SessionName)
	if err := client.Connect(ctx); err != nil {
		return p.record(ProbeResult{Kind: ProbeTransient, Err: err})
	}
	defer func() {
		if err := client.Close(); err != nil {
			p.Logger.Warn("probe client close failed", "session", sess.SessionName, "error", err)
		}
	}()

	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		return p.record(p.classify(err))
	}
	if !authorized {
		return p.record(ProbeResult{Kind: ProbeSessionInvalid})
	}

	contact, err := client.ImportContact(ctx, int64(uuid.New().ID()), phone, "Check", "User")
	if err != nil {
		return p.record(p.classify(err))
	}
	if contact == nil {
		return p.record(ProbeResult{Kind: ProbeNotRegistered})
	}
	// Reverse the import before anything can short-circuit the return path.
	if err := client.DeleteContact(ctx, contact); err != nil {
		p.Logger.Warn("contact cleanup failed", "session", sess.SessionName, "error", err)
	}
	return p.record(ProbeResult{Kind: ProbeRegistered, Profile: contact.Profile})
}

func (p *TransportProber) classify(err error) ProbeResult {
	var flood *transport.FloodWaitError
	switch {
	case errors.As(err, &flood):
		return ProbeResult{Kind: ProbeRateLimited, Wait: flood.Wait}
	case errors.Is(err, transport.ErrUnauthorized):
		return ProbeResult{Kind: ProbeSessionInvalid}
	default:
		return ProbeResult{Kind: ProbeTransient, Err: err}
	}
}

func (p *TransportProber) record(res ProbeResult) ProbeResult {
	observability.RecordProbe(res.Kind.String())
	return res
}
