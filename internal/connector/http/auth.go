package http

import (
	"encoding/base64"
	"net/http"
)

// Auth decorates outgoing requests with credentials.
type Auth interface {
	Apply(req *http.Request)
}

type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

// BasicAuth uses HTTP Basic Authentication.
type BasicAuth struct {
	Username string
	Password string
}

func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// BearerToken uses Bearer token authentication.
type BearerToken struct {
	Token string
}

func (a BearerToken) Apply(req *http.Request) {
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
}

// APIKey sends a key in a header (default: X-API-Key).
type APIKey struct {
	Key    string
	Header string
}

func (a APIKey) Apply(req *http.Request) {
	if a.Key == "" {
		return
	}
	header := a.Header
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, a.Key)
}

// authFromConfig picks the first credential kind present.
func authFromConfig(cfg *Config) Auth {
	switch {
	case cfg.Token != "":
		return BearerToken{Token: cfg.Token}
	case cfg.APIKey != "":
		return APIKey{Key: cfg.APIKey, Header: cfg.APIKeyHeader}
	case cfg.Username != "" || cfg.Password != "":
		return BasicAuth{Username: cfg.Username, Password: cfg.Password}
	}
	return NoAuth{}
}
