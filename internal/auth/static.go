package auth

import "context"

// StaticToken описывает один допущенный токен статического авторизатора.
type StaticToken struct {
	Identity  Identity
	Documents []string // пустой список - доступ ко всем документам
}

// Static авторизатор с фиксированной таблицей токенов.
// Используется в тестах и при локальной разработке без сервиса identity.
type Static struct {
	tokens map[string]StaticToken
}

// NewStatic создает статический авторизатор.
func NewStatic(tokens map[string]StaticToken) *Static {
	return &Static{tokens: tokens}
}

// Authorize проверяет токен по таблице.
func (s *Static) Authorize(_ context.Context, token, documentID string) (*Identity, error) {
	entry, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenInvalid
	}

	if len(entry.Documents) > 0 {
		allowed := false
		for _, id := range entry.Documents {
			if id == documentID {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, ErrForbidden
		}
	}

	identity := entry.Identity
	return &identity, nil
}
