package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnavailable  = errors.New("authentication unavailable")
)

// Identity is the verified principal behind a realtime connection.
type Identity struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
}

// Verifier resolves a bearer token to an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// NewVerifier prefers the remote identity service and falls back to local
// JWT validation. It returns nil when neither is configured.
func NewVerifier(cfg *config.Config, logger zerolog.Logger) Verifier {
	logger = logger.With().Str("component", "identity").Logger()

	if url := strings.TrimSpace(cfg.Identity.ServiceURL); url != "" {
		logger.Info().Str("service_url", url).Msg("verifying tokens against identity service")
		return NewHTTPVerifier(url, cfg.Identity.Timeout)
	}
	if cfg.JWTSecret != "" {
		logger.Info().Msg("verifying tokens with local JWT secret")
		return NewJWTVerifier(cfg.JWTSecret)
	}
	logger.Warn().Msg("no identity verifier configured; realtime authentication disabled")
	return nil
}
