package friendlyform

import (
	"context"
	"net/http"
	"strconv"
)

// LoginCounterParam is the query-string parameter carrying the number
// of consecutive failed logins. The name is fixed: renaming it broke
// downstream integrations in the past, so any configured value is
// ignored in favor of this literal.
const LoginCounterParam = "__logins"

// cameFromParam carries the URL the user originally requested.
const cameFromParam = "came_from"

// Credentials are the login-form fields submitted to the login handler.
type Credentials struct {
	Login    string
	Password string
}

// Options configures the plugin. Zero-valued paths fall back to the
// conventional defaults. LoginCounterName is accepted for backwards
// compatibility with older deployments and ignored.
type Options struct {
	LoginFormPath     string
	LoginHandlerPath  string
	LogoutHandlerPath string
	PostLoginPath     string
	PostLogoutPath    string
	MountPoint        string
	LoginCounterName  string
}

// Plugin challenges unauthenticated requests with a redirect to the
// login form, redirects back to the originally requested page after
// login, and threads the failed-login counter through redirect URLs.
//
// Users are never challenged on the logout handler, and developers may
// configure post-login/post-logout pages which receive the referrer as
// a "came_from" query variable.
type Plugin struct {
	loginFormPath     string
	loginHandlerPath  string
	logoutHandlerPath string
	postLoginPath     string
	postLogoutPath    string
	mountPoint        string
	counterParam      string
}

// New builds a Plugin from opts, pinning the counter parameter name.
func New(opts Options) *Plugin {
	p := &Plugin{
		loginFormPath:     opts.LoginFormPath,
		loginHandlerPath:  opts.LoginHandlerPath,
		logoutHandlerPath: opts.LogoutHandlerPath,
		postLoginPath:     opts.PostLoginPath,
		postLogoutPath:    opts.PostLogoutPath,
		mountPoint:        opts.MountPoint,
		// The counter name is not negotiable, whatever the option says.
		counterParam: LoginCounterParam,
	}

	if p.loginFormPath == "" {
		p.loginFormPath = "/login"
	}
	if p.loginHandlerPath == "" {
		p.loginHandlerPath = "/login_handler"
	}
	if p.logoutHandlerPath == "" {
		p.logoutHandlerPath = "/logout_handler"
	}

	return p
}

// CounterParam returns the query parameter name used for the counter.
func (p *Plugin) CounterParam() string {
	return p.counterParam
}

// LoginFormURL returns the mount-adjusted login form path.
func (p *Plugin) LoginFormURL() string {
	return p.fullPath(p.loginFormPath)
}

// LoginHandlerURL returns the mount-adjusted login handler path.
func (p *Plugin) LoginHandlerURL() string {
	return p.fullPath(p.loginHandlerPath)
}

// LogoutHandlerURL returns the mount-adjusted logout handler path.
func (p *Plugin) LogoutHandlerURL() string {
	return p.fullPath(p.logoutHandlerPath)
}

type contextKey int

const (
	loginCountKey contextKey = iota
	destinationKey
)

// LoginCount returns the failed-login count stashed by Identify, and
// whether one was stashed at all.
func LoginCount(ctx context.Context) (int, bool) {
	count, ok := ctx.Value(loginCountKey).(int)
	return count, ok
}

// Destination returns the post-login redirect target computed by
// Identify on the login handler path.
func Destination(ctx context.Context) (string, bool) {
	dest, ok := ctx.Value(destinationKey).(string)
	return dest, ok
}

// Identify inspects the request and returns submitted credentials (only
// on the login handler path) together with a possibly replaced request.
//
// On the login handler path the post-login destination, counter
// included, is stashed in the request context. On the login form path,
// and on any request whose query string carries the counter, the count
// is stashed in the context and the counter is stripped from the query
// string so downstream handlers never see the unexpected variable.
func (p *Plugin) Identify(r *http.Request) (*Credentials, *http.Request) {
	switch {
	case r.URL.Path == p.fullPath(p.loginHandlerPath):
		dest := p.loginDestination(r)
		r = r.WithContext(context.WithValue(r.Context(), destinationKey, dest))
		return p.formCredentials(r), r

	case r.URL.Path == p.fullPath(p.loginFormPath) || r.URL.Query().Has(p.counterParam):
		count := p.countFromQuery(r)
		r = r.WithContext(context.WithValue(r.Context(), loginCountKey, count))

		query := r.URL.Query()
		if query.Has(p.counterParam) {
			query.Del(p.counterParam)
			r.URL.RawQuery = query.Encode()
		}
	}

	return nil, r
}

// Challenge redirects an unauthenticated request.
//
// On the logout handler the user is never challenged: they are sent to
// the post-logout page or back where they came from. When the request
// context carries a login count the previous login failed, so the count
// is incremented and the user returns to the form. Otherwise it is a
// plain challenge carrying only the referrer.
func (p *Plugin) Challenge(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == p.fullPath(p.logoutHandlerPath) {
		p.challengeLogout(w, r)
		return
	}

	dest := setQueryVar(p.fullPath(p.loginFormPath), cameFromParam, requestURL(r))
	if count, ok := LoginCount(r.Context()); ok {
		dest = setQueryVar(dest, p.counterParam, strconv.Itoa(count+1))
	}

	http.Redirect(w, r, dest, http.StatusFound)
}

func (p *Plugin) challengeLogout(w http.ResponseWriter, r *http.Request) {
	cameFrom := r.FormValue(cameFromParam)

	var dest string
	switch {
	case p.postLogoutPath != "":
		dest = p.fullPath(p.postLogoutPath)
		if cameFrom != "" {
			dest = setQueryVar(dest, cameFromParam, cameFrom)
		}
	case cameFrom != "":
		dest = cameFrom
	case p.mountPoint != "":
		dest = p.mountPoint
	default:
		dest = "/"
	}

	http.Redirect(w, r, dest, http.StatusFound)
}

// loginDestination computes where the login handler redirects to,
// whatever the authentication outcome. The counter keeps its current
// value here; a failed login only increments it on the next challenge.
func (p *Plugin) loginDestination(r *http.Request) string {
	cameFrom := r.FormValue(cameFromParam)

	var dest string
	switch {
	case p.postLoginPath != "":
		dest = p.fullPath(p.postLoginPath)
		if cameFrom != "" {
			dest = setQueryVar(dest, cameFromParam, cameFrom)
		}
	case cameFrom != "":
		dest = cameFrom
	case p.mountPoint != "":
		dest = p.mountPoint
	default:
		dest = "/"
	}

	return setQueryVar(dest, p.counterParam, strconv.Itoa(p.countFromQuery(r)))
}

// countFromQuery reads the counter from the query string, coercing
// invalid or absent values to zero.
func (p *Plugin) countFromQuery(r *http.Request) int {
	count, err := strconv.Atoi(r.URL.Query().Get(p.counterParam))
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func (p *Plugin) formCredentials(r *http.Request) *Credentials {
	login := r.PostFormValue("login")
	if login == "" {
		return nil
	}
	return &Credentials{
		Login:    login,
		Password: r.PostFormValue("password"),
	}
}

// fullPath prepends the mount point to absolute paths. Full URLs pass
// through untouched.
func (p *Plugin) fullPath(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return p.mountPoint + path
	}
	return path
}
