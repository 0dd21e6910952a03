// Package webapp exposes the verifier as a small web site: register, login,
// read the shared secrets and submit your own.
package webapp

import (
	"context"
	"errors"
	"net/http"

	"github.com/andrebq/secrets/federated"
	"github.com/andrebq/secrets/internal/logutil"
	"github.com/andrebq/secrets/session"
	"github.com/andrebq/secrets/userstore"
	"github.com/andrebq/secrets/verifier"
	"github.com/julienschmidt/httprouter"
)

type (
	Verifier interface {
		Register(ctx context.Context, identity, secret string) (userstore.Record, error)
		Login(ctx context.Context, identity, secret string) (userstore.Record, error)
		FederatedLogin(ctx context.Context, provider, subject string) (userstore.Record, bool, error)
		Lookup(ctx context.Context, recordID string) (userstore.Record, error)
		SubmitSecret(ctx context.Context, recordID, text string) error
		Secrets(ctx context.Context) ([]string, error)
	}

	Federation interface {
		Providers() []string
		Begin(provider string) (federated.Authorization, error)
		Complete(ctx context.Context, provider, state, binding, code string) (federated.Identity, error)
	}

	app struct {
		verifier Verifier
		realm    *session.Realm
		fed      Federation
		pages    pages
	}
)

const (
	msgInvalidLogin   = "Invalid username or password."
	msgDuplicate      = "That email is already registered, try to login instead."
	msgMissingFields  = "Both email and password are required."
	msgEmptySecret    = "Your secret cannot be empty."
	msgProviderFailed = "Unable to sign in with that provider, please try again."
)

// AsHandler returns the full web application. fed may be nil when no
// federated provider is configured.
func AsHandler(ctx context.Context, v Verifier, realm *session.Realm, fed Federation) (http.Handler, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	a := &app{verifier: v, realm: realm, fed: fed, pages: p}

	router := httprouter.New()
	router.Handler("GET", "/", realm.Authenticate(http.HandlerFunc(a.home)))
	router.HandlerFunc("GET", "/register", a.showRegister)
	router.HandlerFunc("POST", "/register", a.register)
	router.HandlerFunc("GET", "/login", a.showLogin)
	router.HandlerFunc("POST", "/login", a.login)
	router.HandlerFunc("GET", "/logout", a.logout)
	router.Handler("GET", "/secrets", realm.RequireLogin(http.HandlerFunc(a.secrets)))
	router.Handler("GET", "/submit", realm.RequireLogin(http.HandlerFunc(a.showSubmit)))
	router.Handler("POST", "/submit", realm.RequireLogin(http.HandlerFunc(a.submit)))
	router.HandlerFunc("GET", "/auth/:provider", a.beginFederated)
	router.HandlerFunc("GET", "/auth/:provider/callback", a.completeFederated)
	router.HandlerFunc("POST", "/api/login", a.apiLogin)
	router.Handler("GET", "/api/whoami", realm.Protect(http.HandlerFunc(a.whoami)))
	router.HandlerFunc("GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return logutil.Middleware(logutil.GetOrDefault(ctx), router), nil
}

func (a *app) providers() []string {
	if a.fed == nil {
		return nil
	}
	return a.fed.Providers()
}

func (a *app) render(w http.ResponseWriter, r *http.Request, status int, name string, data page) {
	data.Providers = a.providers()
	if err := a.pages.render(w, status, name, data); err != nil {
		log := logutil.GetOrDefault(r.Context())
		log.Error().Err(err).Str("page", name).Msg("Unable to render page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (a *app) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := logutil.GetOrDefault(r.Context())
	log.Error().Err(err).Msg(msg)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (a *app) home(w http.ResponseWriter, r *http.Request) {
	_, loggedIn := session.CurrentIdentity(r.Context())
	a.render(w, r, http.StatusOK, "home", page{LoggedIn: loggedIn})
}

func (a *app) showRegister(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "register", page{})
}

func (a *app) register(w http.ResponseWriter, r *http.Request) {
	identity, secret, ok := credentialsFromForm(r)
	if !ok {
		a.render(w, r, http.StatusBadRequest, "register", page{Identity: identity, Error: msgMissingFields})
		return
	}
	rec, err := a.verifier.Register(r.Context(), identity, secret)
	switch {
	case errors.As(err, &verifier.DuplicateIdentity{}):
		a.render(w, r, http.StatusConflict, "register", page{Identity: identity, Error: msgDuplicate})
		return
	case errors.As(err, &verifier.InvalidInput{}):
		a.render(w, r, http.StatusBadRequest, "register", page{Identity: identity, Error: msgMissingFields})
		return
	case err != nil:
		a.internalError(w, r, err, "Unable to register identity")
		return
	}
	a.startSession(w, r, rec.ID)
}

func (a *app) showLogin(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "login", page{})
}

func (a *app) login(w http.ResponseWriter, r *http.Request) {
	identity, secret, _ := credentialsFromForm(r)
	rec, err := a.verifier.Login(r.Context(), identity, secret)
	if errors.Is(err, verifier.Rejected{}) {
		a.render(w, r, http.StatusUnauthorized, "login", page{Identity: identity, Error: msgInvalidLogin})
		return
	} else if err != nil {
		a.internalError(w, r, err, "Unable to verify login")
		return
	}
	a.startSession(w, r, rec.ID)
}

func (a *app) startSession(w http.ResponseWriter, r *http.Request, recordID string) {
	if _, err := a.realm.Login(w, r, recordID); err != nil {
		a.internalError(w, r, err, "Unable to start session")
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusSeeOther)
}

func (a *app) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.realm.Logout(w, r); err != nil {
		log := logutil.GetOrDefault(r.Context())
		log.Warn().Err(err).Msg("Unable to clear session")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *app) secrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := a.verifier.Secrets(r.Context())
	if err != nil {
		a.internalError(w, r, err, "Unable to list secrets")
		return
	}
	a.render(w, r, http.StatusOK, "secrets", page{LoggedIn: true, Secrets: secrets})
}

func (a *app) showSubmit(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "submit", page{LoggedIn: true})
}

func (a *app) submit(w http.ResponseWriter, r *http.Request) {
	id, _ := session.CurrentIdentity(r.Context())
	text := r.PostFormValue("secret")
	err := a.verifier.SubmitSecret(r.Context(), id, text)
	switch {
	case errors.As(err, &verifier.InvalidInput{}):
		a.render(w, r, http.StatusBadRequest, "submit", page{LoggedIn: true, Error: msgEmptySecret})
		return
	case errors.As(err, &userstore.RecordNotFound{}):
		// session outlived its record
		a.logout(w, r)
		return
	case err != nil:
		a.internalError(w, r, err, "Unable to store secret")
		return
	}
	http.Redirect(w, r, "/secrets", http.StatusSeeOther)
}

func (a *app) beginFederated(w http.ResponseWriter, r *http.Request) {
	if a.fed == nil {
		http.NotFound(w, r)
		return
	}
	provider := httprouter.ParamsFromContext(r.Context()).ByName("provider")
	auth, err := a.fed.Begin(provider)
	if errors.As(err, &federated.UnknownProvider{}) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		a.internalError(w, r, err, "Unable to start federated login")
		return
	}
	a.realm.BindFlow(w, auth.Binding, federated.DefaultStateTTL)
	http.Redirect(w, r, auth.URL, http.StatusFound)
}

func (a *app) completeFederated(w http.ResponseWriter, r *http.Request) {
	if a.fed == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx)
	provider := httprouter.ParamsFromContext(ctx).ByName("provider")
	binding := a.realm.TakeFlow(w, r)
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		// the user refused consent or the provider gave up
		log.Info().Str("provider", provider).Str("reason", reason).Msg("Federated login cancelled")
		a.render(w, r, http.StatusUnauthorized, "login", page{Error: msgProviderFailed})
		return
	}
	id, err := a.fed.Complete(ctx, provider, query.Get("state"), binding, query.Get("code"))
	switch {
	case errors.As(err, &federated.UnknownProvider{}):
		http.NotFound(w, r)
		return
	case errors.As(err, &federated.InvalidState{}):
		log.Warn().Err(err).Str("provider", provider).Msg("Federated callback with invalid state")
		a.render(w, r, http.StatusBadRequest, "login", page{Error: msgProviderFailed})
		return
	case err != nil:
		log.Error().Err(err).Str("provider", provider).Msg("Federated login failed")
		a.render(w, r, http.StatusBadGateway, "login", page{Error: msgProviderFailed})
		return
	}
	rec, _, err := a.verifier.FederatedLogin(ctx, id.Provider, id.Subject)
	if err != nil {
		a.internalError(w, r, err, "Unable to resolve federated identity")
		return
	}
	a.startSession(w, r, rec.ID)
}

func credentialsFromForm(r *http.Request) (identity, secret string, ok bool) {
	identity = r.PostFormValue("username")
	secret = r.PostFormValue("password")
	return identity, secret, identity != "" && secret != ""
}
