package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"formauth-service/internal/friendlyform"
	"formauth-service/internal/models"
	"formauth-service/internal/pipeline"
	"formauth-service/internal/ticket"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAuth struct {
	password  string
	sessions  map[uuid.UUID]*models.Identity
	loggedOut int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		password: "s3cret",
		sessions: make(map[uuid.UUID]*models.Identity),
	}
}

func (f *fakeAuth) Authenticate(_ context.Context, creds *friendlyform.Credentials, _ pipeline.RequestMeta) (*models.Identity, error) {
	if creds.Password != f.password {
		return nil, pipeline.ErrNoSession
	}
	identity := &models.Identity{
		UserID:    uuid.New(),
		Login:     creds.Login,
		SessionID: uuid.New(),
	}
	f.sessions[identity.SessionID] = identity
	return identity, nil
}

func (f *fakeAuth) IdentityFromTicket(_ context.Context, t *ticket.Ticket) (*models.Identity, error) {
	identity, ok := f.sessions[t.SessionID]
	if !ok {
		return nil, pipeline.ErrNoSession
	}
	return identity, nil
}

func (f *fakeAuth) Logout(_ context.Context, identity *models.Identity, _ pipeline.RequestMeta) error {
	delete(f.sessions, identity.SessionID)
	f.loggedOut++
	return nil
}

func protectedApp(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		identity, ok := pipeline.IdentityFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("hello " + identity.Login))
	})
	return mux
}

func newPipeline(t *testing.T, auth pipeline.Authenticator) http.Handler {
	t.Helper()
	form := friendlyform.New(friendlyform.Options{})
	tickets := ticket.New("tkt", []byte("test-secret"), time.Hour, false)
	return pipeline.New(form, tickets, auth, zap.NewNop()).Middleware(protectedApp(t))
}

func postLogin(t *testing.T, handler http.Handler, target, login, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"login": {login}, "password": {password}}
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	return rec
}

func TestLoginSuccessSetsTicketAndRedirects(t *testing.T) {
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	rec := postLogin(t, handler, "/login_handler?came_from=%2Faccount", "rms", "s3cret")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/account?__logins=0", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "tkt", cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestLoginFailureRedirectsWithoutIncrement(t *testing.T) {
	// The failed submission still redirects to the destination with the
	// counter unchanged; the increment happens on the next challenge.
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	rec := postLogin(t, handler, "/login_handler?came_from=%2Faccount", "rms", "wrong")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/account?__logins=0", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value, "failed login must clear the ticket")
}

func TestFailedLoginRoundTripIncrementsCounter(t *testing.T) {
	// Following the post-failure redirect to a protected page bounces
	// back to the form with the counter incremented.
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	r := httptest.NewRequest(http.MethodGet, "http://example.org/account?__logins=0", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusFound, rec.Code)
	cameFrom := url.QueryEscape("http://example.org/account")
	assert.Equal(t, "/login?__logins=1&came_from="+cameFrom, rec.Header().Get("Location"))
}

func TestProtectedPageChallengesAnonymous(t *testing.T) {
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	r := httptest.NewRequest(http.MethodGet, "http://example.org/account", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusFound, rec.Code)
	cameFrom := url.QueryEscape("http://example.org/account")
	assert.Equal(t, "/login?came_from="+cameFrom, rec.Header().Get("Location"))
}

func TestProtectedPageWithTicket(t *testing.T) {
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	loginRec := postLogin(t, handler, "/login_handler?came_from=%2Faccount", "rms", "s3cret")
	authCookie := loginRec.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodGet, "/account", nil)
	r.AddCookie(authCookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello rms", rec.Body.String())
}

func TestLogoutDestroysSessionWithoutChallenge(t *testing.T) {
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	loginRec := postLogin(t, handler, "/login_handler", "rms", "s3cret")
	authCookie := loginRec.Result().Cookies()[0]

	r := httptest.NewRequest(http.MethodGet, "/logout_handler?came_from=%2Fbye", nil)
	r.AddCookie(authCookie)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/bye", rec.Header().Get("Location"))
	assert.Equal(t, 1, auth.loggedOut)
	assert.Empty(t, auth.sessions)
}

func TestLoginFormPassesThrough(t *testing.T) {
	auth := newFakeAuth()
	handler := newPipeline(t, auth)

	r := httptest.NewRequest(http.MethodGet, "/login?__logins=2", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}
