// Package federated runs the redirect and callback exchange with external
// identity providers and yields the (provider, subject) pair they vouch for.
package federated

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

type (
	Identity struct {
		Provider string
		Subject  string
	}

	// Authorization is the start of a flow. The browser goes to URL and
	// keeps Binding (in a cookie) until the callback presents it back.
	Authorization struct {
		URL     string
		Binding string
	}

	Broker struct {
		providers map[string]Provider
		stateKey  []byte
		stateTTL  time.Duration
		client    *http.Client
		now       func() time.Time
	}

	stateClaims struct {
		jwt.RegisteredClaims
		Provider string `json:"prv"`
		// Binding is the sha256 of the value held by the browser
		Binding string `json:"bnd"`
	}
)

const (
	DefaultStateTTL = 10 * time.Minute
	stateIssuer     = "secrets"
	maxUserInfo     = 1 << 20
	bindingLen      = 32
)

// NewBroker serves the given providers. stateKey signs the state parameter,
// it must be kept secret and at least 32 bytes long.
func NewBroker(stateKey []byte, providers ...Provider) (*Broker, error) {
	if len(stateKey) < 32 {
		return nil, errors.New("federated: state key must have at least 32 bytes")
	}
	b := &Broker{
		providers: make(map[string]Provider, len(providers)),
		stateKey:  append([]byte(nil), stateKey...),
		stateTTL:  DefaultStateTTL,
		client:    &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
	for _, p := range providers {
		b.providers[p.Name] = p
	}
	return b, nil
}

// Providers lists the configured provider names, sorted.
func (b *Broker) Providers() []string {
	names := make([]string, 0, len(b.providers))
	for n := range b.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Begin returns the provider URL the browser must be redirected to and the
// binding that browser must present to Complete.
func (b *Broker) Begin(provider string) (Authorization, error) {
	p, ok := b.providers[provider]
	if !ok {
		return Authorization{}, UnknownProvider{Name: provider}
	}
	raw := make([]byte, bindingLen)
	if _, err := rand.Read(raw); err != nil {
		return Authorization{}, fmt.Errorf("unable to generate flow binding, cause %w", err)
	}
	binding := base64.RawURLEncoding.EncodeToString(raw)
	now := b.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.stateTTL)),
		},
		Provider: provider,
		Binding:  bindingDigest(binding),
	})
	state, err := token.SignedString(b.stateKey)
	if err != nil {
		return Authorization{}, fmt.Errorf("unable to sign state, cause %w", err)
	}
	return Authorization{URL: p.OAuth.AuthCodeURL(state), Binding: binding}, nil
}

// Complete validates state against the binding returned by Begin, exchanges
// code for a token and asks the provider who the token belongs to.
func (b *Broker) Complete(ctx context.Context, provider, state, binding, code string) (Identity, error) {
	p, ok := b.providers[provider]
	if !ok {
		return Identity{}, UnknownProvider{Name: provider}
	}
	if err := b.checkState(provider, state, binding); err != nil {
		return Identity{}, err
	}
	if code == "" {
		return Identity{}, ProviderFailure{Provider: provider, Step: "exchange code", Cause: errors.New("empty code")}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.client)
	tk, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, ProviderFailure{Provider: provider, Step: "exchange code", Cause: err}
	}
	subject, err := b.subject(ctx, p, tk)
	if err != nil {
		return Identity{}, ProviderFailure{Provider: provider, Step: "fetch userinfo", Cause: err}
	}
	return Identity{Provider: provider, Subject: subject}, nil
}

func (b *Broker) checkState(provider, state, binding string) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		return b.stateKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(b.now))
	if err != nil {
		return InvalidState{Reason: err.Error()}
	}
	if claims.Provider != provider {
		return InvalidState{Reason: fmt.Sprintf("issued for %q", claims.Provider)}
	}
	if binding == "" {
		return InvalidState{Reason: "callback without flow binding"}
	}
	if subtle.ConstantTimeCompare([]byte(bindingDigest(binding)), []byte(claims.Binding)) != 1 {
		return InvalidState{Reason: "issued to another browser"}
	}
	return nil
}

func bindingDigest(binding string) string {
	sum := sha256.Sum256([]byte(binding))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (b *Broker) subject(ctx context.Context, p Provider, tk *oauth2.Token) (string, error) {
	client := p.OAuth.Client(ctx, tk)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %v", res.Status)
	}
	var info map[string]interface{}
	dec := json.NewDecoder(io.LimitReader(res.Body, maxUserInfo))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return "", fmt.Errorf("unable to decode userinfo, cause %w", err)
	}
	// facebook ids are strings, but be lenient with numbers
	switch v := info[p.SubjectField].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case json.Number:
		return v.String(), nil
	}
	return "", fmt.Errorf("userinfo without %q", p.SubjectField)
}
