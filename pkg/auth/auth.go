// Package auth turns a bearer token into a caller identity and decides whether
// that caller may run text uploads.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("administrator authority required")
)

type User struct {
	ID          string
	Role        string
	Permissions []string
}

// IsAdmin reports whether the user may run the ingestion pipeline.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Verifier validates tokens. A token equal to the master key is accepted as an
// admin without parsing.
type Verifier struct {
	keyfunc   jwt.Keyfunc
	masterKey string
}

type NewVerifierParams struct {
	Keyfunc   jwt.Keyfunc
	MasterKey string
}

func NewVerifier(params NewVerifierParams) *Verifier {
	return &Verifier{keyfunc: params.Keyfunc, masterKey: params.MasterKey}
}

// HMACKeyfunc accepts HS256/384/512 tokens signed with secret.
func HMACKeyfunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (v *Verifier) Verify(token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	if v.masterKey != "" && token == v.masterKey {
		return &User{ID: "master", Role: RoleAdmin}, nil
	}
	if v.keyfunc == nil {
		return nil, fmt.Errorf("%w: no signing key configured", ErrUnauthorized)
	}

	parsed, err := jwt.Parse(token, v.keyfunc)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrUnauthorized
	}

	var userID string
	switch id := claims["id"].(type) {
	case string:
		userID = id
	case float64:
		userID = strconv.FormatInt(int64(id), 10)
	default:
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			userID = sub
		} else {
			return nil, fmt.Errorf("%w: missing user id", ErrUnauthorized)
		}
	}

	role := "user"
	if roleClaim, ok := claims["role"].(string); ok && roleClaim != "" {
		role = roleClaim
	}

	var permissions []string
	if permsClaim, ok := claims["permissions"].([]any); ok {
		for _, p := range permsClaim {
			if pStr, ok := p.(string); ok {
				permissions = append(permissions, pStr)
			}
		}
	}

	return &User{ID: userID, Role: role, Permissions: permissions}, nil
}

// Authorize verifies token and requires administrator authority.
func (v *Verifier) Authorize(token string) (*User, error) {
	user, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return user, ErrForbidden
	}
	return user, nil
}
