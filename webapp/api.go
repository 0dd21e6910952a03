package webapp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/andrebq/secrets/internal/logutil"
	"github.com/andrebq/secrets/session"
	"github.com/andrebq/secrets/userstore"
	"github.com/andrebq/secrets/verifier"
)

type (
	loginRequest struct {
		Identity string `json:"identity"`
		Secret   string `json:"secret"`
	}

	loginResponse struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}

	whoamiResponse struct {
		ID        string    `json:"id"`
		Identity  string    `json:"identity"`
		Provider  string    `json:"provider,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

const maxAPIBody = 64 << 10

func (a *app) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAPIBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	rec, err := a.verifier.Login(r.Context(), req.Identity, req.Secret)
	if errors.Is(err, verifier.Rejected{}) {
		writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	} else if err != nil {
		a.internalError(w, r, err, "Unable to verify login")
		return
	}
	token, err := a.realm.Login(w, r, rec.ID)
	if err != nil {
		a.internalError(w, r, err, "Unable to start session")
		return
	}
	writeJSON(w, r, http.StatusOK, loginResponse{ID: rec.ID, Token: token})
}

func (a *app) whoami(w http.ResponseWriter, r *http.Request) {
	id, _ := session.CurrentIdentity(r.Context())
	rec, err := a.verifier.Lookup(r.Context(), id)
	if errors.As(err, &userstore.RecordNotFound{}) {
		writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: "session no longer valid"})
		return
	} else if err != nil {
		a.internalError(w, r, err, "Unable to load record for session")
		return
	}
	writeJSON(w, r, http.StatusOK, whoamiResponse{
		ID:        rec.ID,
		Identity:  rec.Identity,
		Provider:  rec.Provider,
		CreatedAt: rec.CreatedAt,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log := logutil.GetOrDefault(r.Context())
		log.Warn().Err(err).Msg("Unable to write response")
	}
}
