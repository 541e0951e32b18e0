package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"giftline/internal/domain"
	"giftline/internal/engine"
	"giftline/internal/engine/auth"
)

const staffHeader = "X-Staff-Id"

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
	Issuer    string
	// AllowStaffHeader trusts X-Staff-Id without a token. Local use only.
	AllowStaffHeader bool
	Now              func() time.Time
}

func (c AuthConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c AuthConfig) ttl() time.Duration {
	if c.TokenTTL <= 0 {
		return 12 * time.Hour
	}
	return c.TokenTTL
}

// Principal is the authenticated staff member and the scope their role
// grants for this request.
type Principal struct {
	Scope  auth.Scope
	Staff  domain.Staff
	Source string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func scopeFrom(ctx context.Context) (auth.Scope, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok {
		return p.Scope, nil
	}
	return auth.Scope{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

func signToken(cfg AuthConfig, staff domain.Staff) (string, time.Time, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	now := cfg.now()
	exp := now.Add(cfg.ttl())
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(staff.ID, 10),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: staff.Role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// authenticateJWT returns the staff id carried in a valid token. The role
// claim is informational; permissions are always resolved from the store.
func authenticateJWT(token string, cfg AuthConfig) (int64, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return 0, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(cfg.now),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &jwtClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return 0, err
	}
	if !parsed.Valid {
		return 0, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("subject claim must be a staff id")
	}
	return id, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "auth/login"):   true,
		path.Join(basePath, "openapi.json"): true,
	}
}

func newAuthMiddleware(basePath string, cfg AuthConfig, svc auth.Service) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			ctx := req.Context()
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			headerID := strings.TrimSpace(req.Header.Get(staffHeader))

			var staffID int64
			var source string
			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				id, err := authenticateJWT(token, cfg)
				if err != nil {
					zerolog.Ctx(ctx).Debug().Err(err).Msg("token rejected")
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				staffID, source = id, "jwt"
			case headerID != "" && cfg.AllowStaffHeader:
				id, err := strconv.ParseInt(headerID, 10, 64)
				if err != nil || id <= 0 {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				zerolog.Ctx(ctx).Warn().Int64("staff_id", id).Msg("authenticated by unsigned staff header")
				staffID, source = id, "staff_header"
			default:
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}

			scope, staff, err := svc.Resolve(ctx, staffID)
			if err != nil {
				respondStatusError(w, handleError(ctx, err))
				return
			}
			ctx = withPrincipal(ctx, Principal{Scope: scope, Staff: staff, Source: source})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func registerLogin(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange staff credentials for a token",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		staff, err := e.Login(ctx, input.Body.Username, input.Body.Password)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		token, exp, err := signToken(authCfg, staff)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("sign token")
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "token signing unavailable", nil)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{
			Token:     token,
			ExpiresAt: exp.UTC().Format(time.RFC3339),
			Staff:     staff,
		}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current staff member",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			Staff:       p.Staff,
			Source:      p.Source,
			Permissions: nonNilSlice(p.Scope.Permissions()),
		}}, nil
	})
}
