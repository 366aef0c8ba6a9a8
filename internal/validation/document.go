package validation

import (
	"fmt"
	"regexp"
)

// DocumentIDPattern определяет допустимый формат идентификатора документа
// Латинские буквы (a-z, A-Z), цифры (0-9), нижнее подчеркивание (_), дефис (-)
// Длина: 1-128 символов
var DocumentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// MaxDocumentIDLen максимальная длина идентификатора документа
const MaxDocumentIDLen = 128

// ValidateDocumentID проверяет, что идентификатор документа соответствует
// требованиям. Идентификаторы приходят из URL и попадают в ключи
// хранилища и каналы шины - формат ограничен жестко.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if len(id) > MaxDocumentIDLen {
		return fmt.Errorf("document id must not exceed %d characters", MaxDocumentIDLen)
	}

	if !DocumentIDPattern.MatchString(id) {
		return fmt.Errorf("document id can only contain letters (a-z, A-Z), numbers (0-9), underscores (_), and hyphens (-)")
	}

	return nil
}
