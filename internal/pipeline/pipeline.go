package pipeline

import (
	"context"
	"errors"
	"net/http"

	"formauth-service/internal/friendlyform"
	"formauth-service/internal/models"
	"formauth-service/internal/ticket"
	"formauth-service/internal/util"

	"go.uber.org/zap"
)

// RequestMeta carries the client facts the authenticator records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Authenticator is the backend the pipeline authenticates against.
type Authenticator interface {
	Authenticate(ctx context.Context, creds *friendlyform.Credentials, meta RequestMeta) (*models.Identity, error)
	IdentityFromTicket(ctx context.Context, t *ticket.Ticket) (*models.Identity, error)
	Logout(ctx context.Context, identity *models.Identity, meta RequestMeta) error
}

// Pipeline wires the friendly form plugin, the ticket cookie and the
// authenticator into a single middleware: identification on the way
// in, challenge decision on the way out.
type Pipeline struct {
	form    *friendlyform.Plugin
	tickets *ticket.Plugin
	auth    Authenticator
	logger  *zap.Logger
}

func New(form *friendlyform.Plugin, tickets *ticket.Plugin, auth Authenticator, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		form:    form,
		tickets: tickets,
		auth:    auth,
		logger:  logger,
	}
}

type identityKeyType int

const identityKey identityKeyType = 0

// IdentityFrom returns the authenticated identity attached to the
// request context, if any.
func IdentityFrom(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*models.Identity)
	return identity, ok
}

func withIdentity(r *http.Request, identity *models.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityKey, identity))
}

// Middleware runs the identification/challenge pipeline around next.
func (pl *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pl.form.LoginHandlerURL():
			pl.handleLogin(w, r)
		case pl.form.LogoutHandlerURL():
			pl.handleLogout(w, r)
		default:
			pl.handleRequest(w, r, next)
		}
	})
}

// handleLogin processes a login-form submission. Whatever the outcome
// the response is a redirect to the destination the plugin computed;
// a failed attempt only bumps the counter on the next challenge, when
// the destination page turns out to still be unauthorized.
func (pl *Pipeline) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, r := pl.form.Identify(r)

	dest, _ := friendlyform.Destination(r.Context())
	if dest == "" {
		dest = "/"
	}

	if creds == nil {
		pl.tickets.Forget(w)
		http.Redirect(w, r, dest, http.StatusFound)
		return
	}

	identity, err := pl.auth.Authenticate(r.Context(), creds, metaFrom(r))
	if err != nil {
		pl.logger.Info("Login attempt rejected",
			util.String("login", creds.Login),
			util.String("remote_addr", r.RemoteAddr),
			util.ErrorField(err),
		)
		pl.tickets.Forget(w)
		http.Redirect(w, r, dest, http.StatusFound)
		return
	}

	pl.tickets.Remember(w, identity.SessionID, identity.Login)
	pl.logger.Info("Login succeeded",
		util.String("login", identity.Login),
		util.String("session_id", identity.SessionID.String()),
	)
	http.Redirect(w, r, dest, http.StatusFound)
}

// handleLogout tears the session down and delegates the redirect to
// the plugin, which never challenges on logout.
func (pl *Pipeline) handleLogout(w http.ResponseWriter, r *http.Request) {
	if t, err := pl.tickets.Identify(r); err == nil {
		if identity, err := pl.auth.IdentityFromTicket(r.Context(), t); err == nil {
			if err := pl.auth.Logout(r.Context(), identity, metaFrom(r)); err != nil {
				pl.logger.Warn("Failed to destroy session on logout",
					util.String("session_id", identity.SessionID.String()),
					util.ErrorField(err),
				)
			}
		}
	}

	pl.tickets.Forget(w)
	pl.form.Challenge(w, r)
}

// handleRequest resolves identity for ordinary requests and converts a
// downstream 401 into a challenge.
func (pl *Pipeline) handleRequest(w http.ResponseWriter, r *http.Request, next http.Handler) {
	_, r = pl.form.Identify(r)

	if t, err := pl.tickets.Identify(r); err == nil {
		identity, err := pl.auth.IdentityFromTicket(r.Context(), t)
		if err == nil {
			r = withIdentity(r, identity)
		} else if !errors.Is(err, ErrNoSession) {
			pl.logger.Debug("Ticket did not resolve to a session",
				util.String("session_id", t.SessionID.String()),
				util.ErrorField(err),
			)
		}
	}

	cw := &challengeWriter{ResponseWriter: w}
	next.ServeHTTP(cw, r)

	if cw.challenged {
		pl.tickets.Forget(w)
		pl.form.Challenge(w, r)
	}
}

// ErrNoSession is returned by authenticators when a ticket's session
// no longer exists.
var ErrNoSession = errors.New("session not found")

func metaFrom(r *http.Request) RequestMeta {
	return RequestMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// challengeWriter swallows a downstream 401 response so the pipeline
// can answer with a login-form redirect instead.
type challengeWriter struct {
	http.ResponseWriter
	challenged  bool
	wroteHeader bool
}

func (cw *challengeWriter) WriteHeader(code int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	if code == http.StatusUnauthorized {
		cw.challenged = true
		return
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *challengeWriter) Write(b []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.challenged {
		// Discard the 401 body; the challenge response replaces it.
		return len(b), nil
	}
	return cw.ResponseWriter.Write(b)
}
