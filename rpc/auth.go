package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"stakeescrow/observability/logging"
)

// AuthConfig enables HMAC signed bearer tokens on the JSON-RPC endpoint.
type AuthConfig struct {
	Enabled   bool
	Secret    []byte
	Issuer    string
	Audience  []string
	ClockSkew time.Duration
}

type authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
}

func newAuthenticator(cfg AuthConfig, logger *slog.Logger) (*authenticator, error) {
	if cfg.Enabled && len(cfg.Secret) == 0 {
		return nil, errors.New("rpc: auth enabled without a secret")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &authenticator{cfg: cfg, logger: logger}, nil
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, nil, codeUnauthorized, "missing bearer token", nil)
			return
		}
		if err := a.verify(tokenString); err != nil {
			a.logger.Warn("rpc auth rejected",
				slog.String("request_id", requestIDFrom(r.Context())),
				logging.MaskField("token", tokenString),
				slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, nil, codeUnauthorized, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *authenticator) verify(tokenString string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	if len(a.cfg.Audience) == 0 {
		return nil
	}
	audience, err := token.Claims.GetAudience()
	if err != nil {
		return err
	}
	for _, want := range a.cfg.Audience {
		for _, got := range audience {
			if got == want {
				return nil
			}
		}
	}
	return errors.New("audience mismatch")
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
