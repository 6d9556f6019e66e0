package ticket

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoTicket      = errors.New("no ticket cookie present")
	ErrInvalidTicket = errors.New("invalid ticket")
	ErrExpiredTicket = errors.New("expired ticket")
)

// Ticket is the authenticated state carried by the remember cookie.
type Ticket struct {
	SessionID uuid.UUID
	Login     string
	ExpiresAt time.Time
}

// Plugin signs and verifies remember cookies. The cookie value is an
// HMAC-SHA256 signed payload, so it cannot be forged or extended
// without the signing secret.
type Plugin struct {
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

func New(cookieName string, secret []byte, ttl time.Duration, secure bool) *Plugin {
	if cookieName == "" {
		cookieName = "formauth_tkt"
	}
	return &Plugin{
		cookieName: cookieName,
		secret:     secret,
		ttl:        ttl,
		secure:     secure,
	}
}

// Remember sets the signed ticket cookie for a freshly created session.
func (p *Plugin) Remember(w http.ResponseWriter, sessionID uuid.UUID, login string) {
	expires := time.Now().Add(p.ttl)
	http.SetCookie(w, &http.Cookie{
		Name:     p.cookieName,
		Value:    p.encode(sessionID, login, expires),
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Forget clears the ticket cookie.
func (p *Plugin) Forget(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     p.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Identify parses and verifies the ticket cookie on the request.
func (p *Plugin) Identify(r *http.Request) (*Ticket, error) {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoTicket
	}

	t, err := p.decode(cookie.Value)
	if err != nil {
		return nil, err
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, ErrExpiredTicket
	}
	return t, nil
}

func (p *Plugin) encode(sessionID uuid.UUID, login string, expires time.Time) string {
	payload := fmt.Sprintf("%d|%s|%s", expires.Unix(), sessionID, login)
	mac := p.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + hex.EncodeToString(mac)
}

func (p *Plugin) decode(value string) (*Ticket, error) {
	encodedPayload, macHex, found := strings.Cut(value, ".")
	if !found {
		return nil, ErrInvalidTicket
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, ErrInvalidTicket
	}
	mac, err := hex.DecodeString(macHex)
	if err != nil {
		return nil, ErrInvalidTicket
	}
	if subtle.ConstantTimeCompare(p.sign(string(payload)), mac) != 1 {
		return nil, ErrInvalidTicket
	}

	parts := strings.SplitN(string(payload), "|", 3)
	if len(parts) != 3 {
		return nil, ErrInvalidTicket
	}

	expiresUnix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidTicket
	}
	sessionID, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, ErrInvalidTicket
	}

	return &Ticket{
		SessionID: sessionID,
		Login:     parts[2],
		ExpiresAt: time.Unix(expiresUnix, 0),
	}, nil
}

func (p *Plugin) sign(payload string) []byte {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
