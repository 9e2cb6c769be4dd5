package token

import (
	"errors"
	"fmt"
	"time"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/snowflake"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	accessLifetime  = 15 * time.Minute
	refreshLifetime = time.Hour * 24 * 7 * 4 // 4 weeks
)

// Claims carries the user id as a decimal string in sub, plus the
// token type so refresh tokens can't be used as access tokens.
type Claims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (claims *Claims) UserID() (int64, error) {
	return snowflake.ParseString(claims.Subject)
}

// Pair is what login and refresh hand back to the client.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

var jwtSecret []byte

func Setup(_key string) {
	jwtSecret = []byte(_key)
}

func create(userID int64, tokenType string, lifetime time.Duration) (string, error) {
	currentTime := time.Now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   snowflake.Format(userID),
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(lifetime)),
		},
	})

	return token.SignedString(jwtSecret)
}

func CreatePair(userID int64) (Pair, error) {
	accessToken, err := create(userID, TypeAccess, accessLifetime)
	if err != nil {
		return Pair{}, err
	}

	refreshToken, err := create(userID, TypeRefresh, refreshLifetime)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessLifetime.Seconds()),
	}, nil
}

func verify(tokenString string, wantType string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperrors.ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Claims{}, apperrors.ErrInvalidToken
	}

	if claims.Type != wantType {
		return Claims{}, fmt.Errorf("token type [%s] is not usable here: %w", claims.Type, apperrors.ErrInvalidToken)
	}

	return *claims, nil
}

// VerifyAccess checks an access token and returns the user it names.
// Refresh tokens are rejected, only type=access passes.
func VerifyAccess(tokenString string) (int64, error) {
	claims, err := verify(tokenString, TypeAccess)
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}

func VerifyRefresh(tokenString string) (int64, error) {
	claims, err := verify(tokenString, TypeRefresh)
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}
