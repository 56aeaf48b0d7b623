// Package auth authenticates API callers and stamps the resulting identity
// into the request context. The subject of the identity is the owner id all
// run-scoped operations are keyed by.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andronoma-labs/andronoma-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC Mode = "oidc"
	ModeDev  Mode = "dev"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	RolesClaim string
	EmailClaim string

	SessionCookieName   string
	SessionCookieMaxAge time.Duration

	OIDCIssuerURL string
	OIDCClientID  string

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("ANDRONOMA_AUTH_MODE", string(ModeDev))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	default:
		return Config{}, fmt.Errorf("ANDRONOMA_AUTH_MODE must be one of: oidc, dev (got %q)", modeRaw)
	}

	maxAgeSeconds, err := env.Int("ANDRONOMA_AUTH_SESSION_MAX_AGE_SECONDS", 3600)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:                mode,
		RolesClaim:          env.String("ANDRONOMA_AUTH_ROLES_CLAIM", "roles"),
		EmailClaim:          env.String("ANDRONOMA_AUTH_EMAIL_CLAIM", "email"),
		SessionCookieName:   env.String("ANDRONOMA_AUTH_SESSION_COOKIE_NAME", "andronoma_session"),
		SessionCookieMaxAge: time.Duration(maxAgeSeconds) * time.Second,
		OIDCIssuerURL:       env.String("ANDRONOMA_OIDC_ISSUER_URL", ""),
		OIDCClientID:        env.String("ANDRONOMA_OIDC_CLIENT_ID", ""),
		DevSubject:          env.String("ANDRONOMA_DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:            env.String("ANDRONOMA_DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:            parseCSV(env.String("ANDRONOMA_DEV_AUTH_ROLES", "admin")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RolesClaim) == "" {
		return errors.New("ANDRONOMA_AUTH_ROLES_CLAIM is required")
	}
	if strings.TrimSpace(c.EmailClaim) == "" {
		return errors.New("ANDRONOMA_AUTH_EMAIL_CLAIM is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return errors.New("ANDRONOMA_AUTH_SESSION_COOKIE_NAME is required")
	}
	if c.SessionCookieMaxAge <= 0 {
		return errors.New("ANDRONOMA_AUTH_SESSION_MAX_AGE_SECONDS must be positive")
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("ANDRONOMA_OIDC_ISSUER_URL is required when ANDRONOMA_AUTH_MODE=oidc")
		}
		if strings.TrimSpace(c.OIDCClientID) == "" {
			return errors.New("ANDRONOMA_OIDC_CLIENT_ID is required when ANDRONOMA_AUTH_MODE=oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("ANDRONOMA_DEV_AUTH_SUBJECT is required when ANDRONOMA_AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("ANDRONOMA_DEV_AUTH_ROLES must be non-empty when ANDRONOMA_AUTH_MODE=dev")
		}
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}

	return nil
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
