// Package auth задает границу с внешним сервисом идентификации:
// движок не выпускает учетные данные, он только проверяет предъявленный
// bearer-токен и право доступа к конкретному документу.
package auth

import (
	"context"
	"errors"
)

// Sentinel-ошибки авторизации. Для соединения они терминальны:
// сессия отклоняется с кодом причины, никогда молча.
var (
	// ErrTokenInvalid токен отсутствует, просрочен или не проходит проверку подписи
	ErrTokenInvalid = errors.New("invalid token")

	// ErrForbidden токен валиден, но доступа к документу нет
	ErrForbidden = errors.New("access to document forbidden")
)

// Identity подтвержденная личность владельца токена.
type Identity struct {
	UserID string // UserID идентификатор пользователя
	Name   string // Name отображаемое имя
}

// Authorizer проверяет bearer-токен и право присоединиться к комнате
// документа. Реализации: JWT (продакшен) и Static (тесты).
//
//go:generate moq -out authorizer_moq_test.go . Authorizer
type Authorizer interface {
	// Authorize валидирует токен и проверяет доступ к документу.
	// Возвращает ErrTokenInvalid либо ErrForbidden.
	Authorize(ctx context.Context, token, documentID string) (*Identity, error)
}
