package api

import (
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-drawboard/internal/types"
)

const tokenCookieKey = "token"

const (
	subClaim    = "sub"
	nameClaim   = "name"
	emailClaim  = "email"
	avatarClaim = "avatar"
)

// identityFromRequest extracts the identity-provider token from the
// request, if any. A nil identity with a nil error means the
// connection is anonymous; an error means a token was presented but
// failed verification.
func (s *DrawboardApp) identityFromRequest(r *http.Request) (*types.Identity, error) {
	tokenString := r.URL.Query().Get(tokenCookieKey)
	if tokenString == "" {
		if cookie, err := r.Cookie(tokenCookieKey); err == nil {
			tokenString = cookie.Value
		}
	}

	if tokenString == "" || len(s.signingKey) == 0 {
		return nil, nil
	}

	token, err := s.verifyToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, _ := claims[subClaim].(string)
	if sub == "" {
		return nil, fmt.Errorf("missing subject claim")
	}

	name, _ := claims[nameClaim].(string)
	email, _ := claims[emailClaim].(string)
	avatar, _ := claims[avatarClaim].(string)

	return &types.Identity{
		Id:     sub,
		Name:   name,
		Email:  email,
		Avatar: avatar,
	}, nil
}

func (s *DrawboardApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return s.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}
