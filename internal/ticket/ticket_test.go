package ticket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithCookies(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestRememberThenIdentify(t *testing.T) {
	p := New("tkt", []byte("secret"), time.Hour, false)
	sessionID := uuid.New()

	rec := httptest.NewRecorder()
	p.Remember(rec, sessionID, "rms")

	got, err := p.Identify(requestWithCookies(t, rec))
	require.NoError(t, err)
	assert.Equal(t, sessionID, got.SessionID)
	assert.Equal(t, "rms", got.Login)
	assert.WithinDuration(t, time.Now().Add(time.Hour), got.ExpiresAt, 5*time.Second)
}

func TestIdentifyWithoutCookie(t *testing.T) {
	p := New("tkt", []byte("secret"), time.Hour, false)
	_, err := p.Identify(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoTicket)
}

func TestIdentifyRejectsTampering(t *testing.T) {
	p := New("tkt", []byte("secret"), time.Hour, false)

	rec := httptest.NewRecorder()
	p.Remember(rec, uuid.New(), "rms")
	cookie := rec.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "tkt", Value: "x" + cookie.Value})

	_, err := p.Identify(r)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestIdentifyRejectsForeignSecret(t *testing.T) {
	signer := New("tkt", []byte("secret-a"), time.Hour, false)
	verifier := New("tkt", []byte("secret-b"), time.Hour, false)

	rec := httptest.NewRecorder()
	signer.Remember(rec, uuid.New(), "rms")

	_, err := verifier.Identify(requestWithCookies(t, rec))
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestIdentifyRejectsExpired(t *testing.T) {
	p := New("tkt", []byte("secret"), -time.Minute, false)

	rec := httptest.NewRecorder()
	p.Remember(rec, uuid.New(), "rms")

	_, err := p.Identify(requestWithCookies(t, rec))
	assert.ErrorIs(t, err, ErrExpiredTicket)
}

func TestIdentifyRejectsGarbage(t *testing.T) {
	p := New("tkt", []byte("secret"), time.Hour, false)

	for _, value := range []string{"garbage", "a.b", "!!!.zz"} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "tkt", Value: value})
		_, err := p.Identify(r)
		assert.ErrorIs(t, err, ErrInvalidTicket, "value %q", value)
	}
}

func TestForgetClearsCookie(t *testing.T) {
	p := New("tkt", []byte("secret"), time.Hour, false)

	rec := httptest.NewRecorder()
	p.Forget(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestLoginMayContainSeparator(t *testing.T) {
	p := New("tkt", []byte("secret"), time.Hour, false)
	login := "odd|login|name"

	rec := httptest.NewRecorder()
	p.Remember(rec, uuid.New(), login)

	got, err := p.Identify(requestWithCookies(t, rec))
	require.NoError(t, err)
	assert.True(t, strings.EqualFold(login, got.Login))
}
