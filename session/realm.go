package session

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/andrebq/secrets/internal/logutil"
)

type (
	Realm struct {
		store          Store
		ttl            time.Duration
		insecureCookie bool
		loginPath      string
	}

	ctxKey byte
)

const (
	CookieName = "secrets_session"
	// FlowCookieName holds the binding of a federated login in progress.
	FlowCookieName = "secrets_flow"
	flowPath       = "/auth/"

	recordIDKey = ctxKey(1)
)

var (
	bearerTokenRE = regexp.MustCompile(`^Bearer ([^\s]+)$`)
)

// NewRealm guards handlers with sessions kept in store. ttl should match the
// store's. allowHTTPCookie drops the Secure flag, only for local development.
func NewRealm(store Store, ttl time.Duration, allowHTTPCookie bool) *Realm {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Realm{
		store:          store,
		ttl:            ttl,
		insecureCookie: allowHTTPCookie,
		loginPath:      "/login",
	}
}

// CurrentIdentity returns the record id of the logged in user, if any.
func CurrentIdentity(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(recordIDKey).(string)
	return id, ok && id != ""
}

// Authenticate resolves the session (if any) and lets every request through.
func (s *Realm) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, s.resolve(r))
	})
}

// RequireLogin redirects anonymous requests to the login page.
func (s *Realm) RequireLogin(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = s.resolve(r)
		if _, ok := CurrentIdentity(r.Context()); !ok {
			http.Redirect(w, r, s.loginPath, http.StatusSeeOther)
			return
		}
		sensitive.ServeHTTP(w, r)
	})
}

// Protect answers 401 to anonymous requests, for API endpoints.
func (s *Realm) Protect(sensitive http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = s.resolve(r)
		if _, ok := CurrentIdentity(r.Context()); !ok {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		sensitive.ServeHTTP(w, r)
	})
}

// Login starts a session for recordID and hands its token to the browser.
// The token is returned for API clients.
func (s *Realm) Login(w http.ResponseWriter, r *http.Request, recordID string) (string, error) {
	if old, ok := s.token(r); ok {
		// never reuse a token that existed before authentication
		s.store.Clear(r.Context(), old)
	}
	token, err := s.store.Establish(r.Context(), recordID)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, s.cookie(token, int(s.ttl/time.Second)))
	return token, nil
}

// Logout ends the current session, if any.
func (s *Realm) Logout(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, s.cookie("", -1))
	token, ok := s.token(r)
	if !ok {
		return nil
	}
	return s.store.Clear(r.Context(), token)
}

// BindFlow hands the browser the binding of a federated login it started.
// Only requests under /auth/ carry it back.
func (s *Realm) BindFlow(w http.ResponseWriter, binding string, ttl time.Duration) {
	c := s.cookie(binding, int(ttl/time.Second))
	c.Name = FlowCookieName
	c.Path = flowPath
	http.SetCookie(w, c)
}

// TakeFlow returns the binding kept by BindFlow and tells the browser to
// drop it, a binding is good for a single callback.
func (s *Realm) TakeFlow(w http.ResponseWriter, r *http.Request) string {
	c := s.cookie("", -1)
	c.Name = FlowCookieName
	c.Path = flowPath
	http.SetCookie(w, c)
	v, err := r.Cookie(FlowCookieName)
	if err != nil {
		return ""
	}
	binding, err := url.QueryUnescape(v.Value)
	if err != nil {
		return ""
	}
	return binding
}

func (s *Realm) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    url.QueryEscape(value),
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Realm) resolve(r *http.Request) *http.Request {
	if _, ok := CurrentIdentity(r.Context()); ok {
		return r
	}
	token, ok := s.token(r)
	if !ok {
		return r
	}
	ctx := r.Context()
	id, found, err := s.store.Lookup(ctx, token)
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Error().Err(err).Msg("Unexpected error when checking for token in session store")
		return r
	} else if !found {
		return r
	}
	return r.WithContext(context.WithValue(ctx, recordIDKey, id))
}

func (s *Realm) token(r *http.Request) (string, bool) {
	if groups := bearerTokenRE.FindStringSubmatch(r.Header.Get("Authorization")); len(groups) > 0 {
		return groups[1], true
	}
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	v, err := url.QueryUnescape(c.Value)
	if err != nil {
		return "", false
	}
	return v, true
}
