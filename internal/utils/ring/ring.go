// Package ring реализует ограниченный по размеру буфер, хранящий последние N элементов.
package ring

// Buffer хранит не более cap элементов; при переполнении вытесняется самый старый.
// Все методы, возвращающие элементы, отдают их от новых к старым.
// Buffer не потокобезопасен, синхронизация остается на владельце.
type Buffer[T any] struct {
	items []T
	head  int // индекс самого нового элемента
	size  int
}

// New создает буфер заданной емкости. Емкость меньше 1 приводится к 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items: make([]T, capacity),
		head:  -1,
	}
}

// Push добавляет элемент как самый новый
func (b *Buffer[T]) Push(v T) {
	b.head = (b.head + 1) % len(b.items)
	b.items[b.head] = v
	if b.size < len(b.items) {
		b.size++
	}
}

// Len возвращает количество элементов
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap возвращает емкость буфера
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// At возвращает i-й элемент, считая от самого нового
func (b *Buffer[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= b.size {
		return zero, false
	}
	return b.items[b.index(i)], true
}

// Items возвращает копию содержимого от новых к старым
func (b *Buffer[T]) Items() []T {
	out := make([]T, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[b.index(i)])
	}
	return out
}

// Update применяет fn к первому (самому новому) элементу, для которого match вернул true.
func (b *Buffer[T]) Update(match func(T) bool, fn func(T) T) bool {
	for i := 0; i < b.size; i++ {
		idx := b.index(i)
		if match(b.items[idx]) {
			b.items[idx] = fn(b.items[idx])
			return true
		}
	}
	return false
}

// RemoveFunc удаляет все элементы, для которых drop вернул true, сохраняя порядок.
// Возвращает количество удаленных элементов.
func (b *Buffer[T]) RemoveFunc(drop func(T) bool) int {
	kept := make([]T, 0, b.size)
	for _, v := range b.Items() {
		if !drop(v) {
			kept = append(kept, v)
		}
	}
	removed := b.size - len(kept)
	if removed > 0 {
		b.Reset(kept)
	}
	return removed
}

// Reset заменяет содержимое буфера. items передаются от новых к старым,
// лишние (самые старые) отбрасываются.
func (b *Buffer[T]) Reset(items []T) {
	b.Clear()
	if len(items) > len(b.items) {
		items = items[:len(b.items)]
	}
	for i := len(items) - 1; i >= 0; i-- {
		b.Push(items[i])
	}
}

// Clear очищает буфер
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = -1
	b.size = 0
}

func (b *Buffer[T]) index(i int) int {
	n := len(b.items)
	return ((b.head-i)%n + n) % n
}
