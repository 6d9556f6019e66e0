package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"formauth-service/internal/config"
	"formauth-service/internal/friendlyform"
	"formauth-service/internal/models"
	"formauth-service/internal/pipeline"
	"formauth-service/internal/service"
	"formauth-service/internal/util"
)

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
{{if gt .FailedAttempts 0}}
<p class="error">Login failed. Attempts so far: {{.FailedAttempts}}.</p>
{{end}}
<form method="post" action="{{.HandlerPath}}">
  <input type="hidden" name="came_from" value="{{.CameFrom}}">
  <label>Login <input type="text" name="login"></label>
  <label>Password <input type="password" name="password"></label>
  <button type="submit">Sign in</button>
</form>
</body>
</html>
`))

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Heading}}</h1>
{{if gt .FailedAttempts 0}}<p>It took you {{.FailedAttempts}} failed attempts to sign in.</p>{{end}}
{{if .Login}}<p>Signed in as {{.Login}}.</p>
<form method="post" action="{{.LogoutPath}}"><button type="submit">Sign out</button></form>{{end}}
</body>
</html>
`))

// AuditSearcher is the slice of the audit indexer the handler needs.
type AuditSearcher interface {
	SearchByLogin(ctx context.Context, login string, size int) ([]models.SecurityEvent, error)
}

// AuthHandler serves the login pages and the JSON API.
type AuthHandler struct {
	authService *service.AuthService
	auditor     AuditSearcher
	form        *friendlyform.Plugin
	config      *config.Config
	logger      *zap.Logger
}

func NewAuthHandler(
	authService *service.AuthService,
	auditor AuditSearcher,
	form *friendlyform.Plugin,
	cfg *config.Config,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		auditor:     auditor,
		form:        form,
		config:      cfg,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

// RegisterPages registers the HTML pages. The login handler and logout
// handler paths are intercepted by the pipeline before they reach the
// router.
func (h *AuthHandler) RegisterPages(router chi.Router) {
	ff := h.config.FriendlyForm

	router.Get(ff.LoginFormPath, h.LoginForm)
	router.Get("/see_you_later", h.SeeYouLater)

	// Pages below require a signed-in user; a 401 here becomes a
	// redirect to the login form.
	router.Get("/welcome_back", h.WelcomeBack)
	router.Get("/account", h.Account)
}

// RegisterAPI registers the JSON routes under /api/v1.
func (h *AuthHandler) RegisterAPI(router chi.Router) {
	router.Post("/users", h.CreateUser)
	router.Get("/session", h.SessionInfo)
	router.Get("/audit/logins", h.AuditLogins)
}

// LoginForm renders the sign-in page. The failed attempt count was
// stashed on the request context by the form plugin after it stripped
// the counter from the URL.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	count, _ := friendlyform.LoginCount(r.Context())

	data := struct {
		FailedAttempts int
		HandlerPath    string
		CameFrom       string
	}{
		FailedAttempts: count,
		HandlerPath:    h.form.LoginHandlerURL(),
		CameFrom:       util.SanitizeInput(r.URL.Query().Get("came_from")),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, data); err != nil {
		h.logger.Error("failed to render login form", zap.Error(err))
	}
}

// WelcomeBack is the default post-login page. The login-handler
// redirect carries the failed-attempt counter, which the form plugin
// has already moved from the query string into the request context.
func (h *AuthHandler) WelcomeBack(w http.ResponseWriter, r *http.Request) {
	identity, ok := pipeline.IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	count, _ := friendlyform.LoginCount(r.Context())
	h.renderCountedPage(w, "Welcome back", "Welcome back!", identity.Login, count)
}

// SeeYouLater is the post-logout page.
func (h *AuthHandler) SeeYouLater(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, "Goodbye", "See you later!", "")
}

// Account is a protected page used to exercise the challenge flow.
func (h *AuthHandler) Account(w http.ResponseWriter, r *http.Request) {
	identity, ok := pipeline.IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h.renderPage(w, "Account", "Your account", identity.Login)
}

func (h *AuthHandler) renderPage(w http.ResponseWriter, title, heading, login string) {
	h.renderCountedPage(w, title, heading, login, 0)
}

func (h *AuthHandler) renderCountedPage(w http.ResponseWriter, title, heading, login string, failedAttempts int) {
	data := struct {
		Title          string
		Heading        string
		Login          string
		LogoutPath     string
		FailedAttempts int
	}{
		Title:          title,
		Heading:        heading,
		Login:          login,
		LogoutPath:     h.form.LogoutHandlerURL(),
		FailedAttempts: failedAttempts,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
	}
}

// UserCreateRequest is the registration payload.
type UserCreateRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// CreateUser handles user registration
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req UserCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	req.Login = util.SanitizeInput(req.Login)
	if req.Login == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("login and password are required"), "Invalid request")
		return
	}
	if util.ContainsSuspicious(req.Login) {
		h.respondWithError(w, http.StatusBadRequest,
			errors.New("login contains invalid characters"), "Invalid request")
		return
	}

	user, err := h.authService.RegisterUser(ctx, req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			h.respondWithError(w, http.StatusConflict, err, "User already exists")
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to create user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"user_id": user.UserID,
		"login":   user.Login,
	}, "User created successfully"))

	h.logger.Info("User created via HTTP",
		util.String("user_id", user.UserID.String()),
		util.Duration("duration", time.Since(startTime)),
	)
}

// SessionInfo returns the caller's live session
func (h *AuthHandler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	identity, ok := pipeline.IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	session, err := h.authService.SessionInfo(r.Context(), identity)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoSession) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to load session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(session, ""))
}

// AuditLogins searches the audit index for a login's recent events
func (h *AuthHandler) AuditLogins(w http.ResponseWriter, r *http.Request) {
	identity, ok := pipeline.IdentityFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	login := util.SanitizeInput(r.URL.Query().Get("login"))
	if login == "" {
		login = identity.Login
	}

	size := 50
	if s := r.URL.Query().Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			size = n
		}
	}

	events, err := h.auditor.SearchByLogin(r.Context(), login, size)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Audit search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(events, ""))
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, errorResponse(err, message))
}
