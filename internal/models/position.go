package models

// Position позиционный идентификатор узла среди его сиблингов: путь в
// виртуальном дереве с основанием positionBase. Идентификаторы стабильны
// при конкурентных вставках - между любыми двумя позициями всегда можно
// построить новую, не переписывая соседей. Две сессии, конкурентно
// вставившие в одно место, получают одинаковую позицию; их порядок
// доопределяется версией операции вставки (Counter, Session).
type Position []int64

// positionBase основание разряда позиции. Степень двойки, достаточно
// большая, чтобы последовательные вставки редко углубляли путь.
const positionBase int64 = 1 << 16

// digit возвращает разряд d, дополняя левую границу нулями,
// а правую - значением positionBase.
func digit(p Position, d int, pad int64) int64 {
	if d < len(p) {
		return p[d]
	}
	return pad
}

// ComparePositions задает лексикографический порядок позиций.
// Более короткая позиция-префикс предшествует своему расширению.
func ComparePositions(a, b Position) int {
	for d := 0; d < len(a) || d < len(b); d++ {
		av, bv := digit(a, d, -1), digit(b, d, -1)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// PositionBetween строит позицию строго между left и right.
// Пустая left означает «перед всеми», пустая right - «после всех».
// Построение детерминировано: одинаковые границы дают одинаковый
// результат на любой реплике.
func PositionBetween(left, right Position) Position {
	out := make(Position, 0, len(left)+1)
	for d := 0; ; d++ {
		lv := digit(left, d, 0)
		rv := digit(right, d, positionBase)
		if rv-lv > 1 {
			return append(out, lv+(rv-lv)/2)
		}
		// Разряды совпадают или смежны: спускаемся на уровень глубже,
		// сохраняя префикс левой границы.
		out = append(out, lv)
	}
}

// Clone возвращает копию позиции.
func (p Position) Clone() Position {
	return append(Position(nil), p...)
}
