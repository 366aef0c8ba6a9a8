// Package integrity вычисляет контрольные суммы состояний документов.
// Снапшот с неверной суммой никогда не принимается молча: restore
// откатывается на предыдущую версию.
package integrity

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Checksum вычисляет контрольную сумму состояния (BLAKE2b-256, hex).
func Checksum(state []byte) (string, error) {
	if len(state) == 0 {
		return "", fmt.Errorf("state cannot be empty")
	}

	hash := blake2b.Sum256(state)
	return hex.EncodeToString(hash[:]), nil
}

// Verify проверяет, соответствует ли состояние сохраненной сумме.
func Verify(state []byte, checksum string) error {
	if checksum == "" {
		return fmt.Errorf("checksum cannot be empty")
	}

	computed, err := Checksum(state)
	if err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}

	if computed != checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", checksum, computed)
	}
	return nil
}
