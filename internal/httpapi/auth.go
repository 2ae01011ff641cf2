package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextUserIDKey = "user_id"
	contextRoleKey   = "role"
	bearerPrefix     = "Bearer "
)

var (
	ErrInvalidAuthConfig = errors.New("invalid auth config")
	ErrInvalidToken      = errors.New("invalid token")
)

// Role is the caller's marketplace role carried in the token.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

func parseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case "":
		return RoleUser, nil
	case RoleUser, RoleModerator, RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, raw)
	}
}

// Claims are the JWT claims accepted by the API. Subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewAuthenticator validates the signing material.
func NewAuthenticator(signingKey string, issuer string) (*Authenticator, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidAuthConfig)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidAuthConfig)
	}
	return &Authenticator{signingKey: []byte(signingKey), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for userID valid for ttl.
func (authenticator *Authenticator) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	if _, err := parseRole(string(role)); err != nil {
		return "", err
	}
	issuedAt := authenticator.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    authenticator.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(authenticator.signingKey)
}

// Parse verifies signature, issuer and expiry and returns the caller identity.
func (authenticator *Authenticator) Parse(tokenString string) (string, Role, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return authenticator.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(authenticator.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(authenticator.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	role, err := parseRole(claims.Role)
	if err != nil {
		return "", "", err
	}
	return subject, role, nil
}

// Middleware rejects requests without a valid bearer token and stores the caller on the context.
func (authenticator *Authenticator) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		userID, role, err := authenticator.Parse(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid or expired token"))
			return
		}
		ctx.Set(contextUserIDKey, userID)
		ctx.Set(contextRoleKey, role)
		ctx.Next()
	}
}

func requireRoles(roles ...Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		_, role := caller(ctx)
		for _, allowed := range roles {
			if role == allowed {
				ctx.Next()
				return
			}
		}
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "insufficient role"))
	}
}

func caller(ctx *gin.Context) (string, Role) {
	userID := ctx.GetString(contextUserIDKey)
	value, _ := ctx.Get(contextRoleKey)
	role, _ := value.(Role)
	return userID, role
}
