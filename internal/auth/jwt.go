package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims представляет JWT claims движка синхронизации.
// Documents - список документов, к которым выдан доступ;
// пустой список означает доступ ко всем документам владельца.
type CustomClaims struct {
	UserID    string   `json:"user_id"`
	Name      string   `json:"name,omitempty"`
	Documents []string `json:"documents,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig содержит конфигурацию проверки JWT.
type JWTConfig struct {
	Issuer string
	Secret []byte
}

// JWT проверяет bearer-токены, выпущенные внешним сервисом идентификации.
type JWT struct {
	cfg JWTConfig
}

// NewJWT создает JWT-авторизатор.
func NewJWT(cfg JWTConfig) *JWT {
	return &JWT{cfg: cfg}
}

// Authorize валидирует токен и проверяет право доступа к документу.
func (j *JWT) Authorize(_ context.Context, token, documentID string) (*Identity, error) {
	claims, err := j.validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if !claims.allows(documentID) {
		return nil, fmt.Errorf("document %q: %w", documentID, ErrForbidden)
	}

	return &Identity{
		UserID: claims.UserID,
		Name:   claims.Name,
	}, nil
}

// validate парсит и проверяет JWT.
func (j *JWT) validate(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Проверяем что используется правильный алгоритм подписи
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims")
	}
	if j.cfg.Issuer != "" && claims.Issuer != j.cfg.Issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}

func (c *CustomClaims) allows(documentID string) bool {
	if len(c.Documents) == 0 {
		return true
	}
	for _, id := range c.Documents {
		if id == documentID {
			return true
		}
	}
	return false
}

// SignToken выпускает токен с данными claims. Выпуск токенов - забота
// внешнего сервиса; функция нужна тестам и инструментам.
func SignToken(cfg JWTConfig, userID, name string, documents []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:    userID,
		Name:      name,
		Documents: documents,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
