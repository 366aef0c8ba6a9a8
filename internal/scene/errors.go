package scene

import "errors"

// Ошибки валидации доменных правок. Правка, не прошедшая валидацию,
// отклоняется локально и никогда не становится реплицируемой операцией.
var (
	// ErrNodeNotFound целевой узел или родитель не существует в документе
	ErrNodeNotFound = errors.New("node not found")

	// ErrCycle перемещение узла внутрь собственного поддерева
	ErrCycle = errors.New("node cannot be moved into its own subtree")

	// ErrRootImmutable корень холста нельзя удалить или переместить
	ErrRootImmutable = errors.New("canvas root is immutable")

	// ErrInvalidKind неизвестный тип узла
	ErrInvalidKind = errors.New("invalid node kind")

	// ErrInvalidField пустое имя поля
	ErrInvalidField = errors.New("invalid field name")
)
