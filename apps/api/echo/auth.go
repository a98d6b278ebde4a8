package echoapi

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

const (
	RoleSuperAdmin    = "super_admin"
	RoleMadrasahAdmin = "madrasah_admin"
	RoleTeacher       = "teacher"
	RoleAccountant    = "accountant"

	tokenContextKey = "userToken"
	signingMethod   = middleware.AlgorithmHS256
)

// newJWTConfig returns the JWT auth middleware config. Tokens are issued by the backend.
func newJWTConfig(secretKey string) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey:    []byte(secretKey),
		SigningMethod: signingMethod,
		ContextKey:    tokenContextKey,
		Claims:        new(Claims),
	}
}

type Permissions struct {
	CanSendSMS bool `json:"can_send_sms,omitempty"`
}

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	MadrasahID  string      `json:"madrasah_id,omitempty"`
	Role        string      `json:"role,omitempty"`
	Permissions Permissions `json:"permissions"`
}

// LogPerson identifies the claims' user in error reports.
func (c Claims) LogPerson() (id, username, email string) {
	return c.Subject, c.Role + "@" + c.MadrasahID, ""
}

func (c Claims) IsAdmin() bool {
	return c.Role == RoleSuperAdmin || c.Role == RoleMadrasahAdmin
}

func (c Claims) HasAnyRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// GenerateToken generates a signed JWT token string representing the Claims.
func GenerateToken(secretKey string, claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(signingMethod)
	token := jwt.NewWithClaims(method, claims)

	ss, err := token.SignedString([]byte(secretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}
