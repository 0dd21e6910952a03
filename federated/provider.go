package federated

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"
)

type (
	// Provider is an oauth2 identity provider and the userinfo endpoint
	// that names the authenticated subject.
	Provider struct {
		Name         string
		OAuth        oauth2.Config
		UserInfoURL  string
		SubjectField string
	}

	// Settings are the operator supplied parts of a provider. The endpoint
	// fields are optional and replace the provider defaults.
	Settings struct {
		ClientID     string `lua:"client_id" env:"CLIENT_ID"`
		ClientSecret string `lua:"client_secret" env:"CLIENT_SECRET"`
		RedirectURL  string `lua:"redirect_url" env:"REDIRECT_URL"`
		AuthURL      string `lua:"auth_url" env:"AUTH_URL"`
		TokenURL     string `lua:"token_url" env:"TOKEN_URL"`
		UserInfoURL  string `lua:"userinfo_url" env:"USERINFO_URL"`
	}
)

const (
	googleUserInfo   = "https://openidconnect.googleapis.com/v1/userinfo"
	facebookUserInfo = "https://graph.facebook.com/me?fields=id"
)

// Enabled reports whether s carries client credentials.
func (s Settings) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

func Google(s Settings) Provider {
	return build("google", s, google.Endpoint, googleUserInfo, "sub", []string{"openid", "profile"})
}

func Facebook(s Settings) Provider {
	return build("facebook", s, facebook.Endpoint, facebookUserInfo, "id", []string{"public_profile"})
}

func build(name string, s Settings, endpoint oauth2.Endpoint, userinfo, subject string, scopes []string) Provider {
	if s.AuthURL != "" {
		endpoint.AuthURL = s.AuthURL
	}
	if s.TokenURL != "" {
		endpoint.TokenURL = s.TokenURL
	}
	if s.UserInfoURL != "" {
		userinfo = s.UserInfoURL
	}
	return Provider{
		Name: name,
		OAuth: oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			RedirectURL:  s.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		UserInfoURL:  userinfo,
		SubjectField: subject,
	}
}
