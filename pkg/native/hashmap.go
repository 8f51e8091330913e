package native

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDuplicateKey is returned when a key is added to an OperandMap twice.
var ErrDuplicateKey = errors.New("an item with the same key has already been added")

// OperandMap represents a System.Collections.Generic.Dictionary<uint, int>.
type OperandMap struct {
	Data map[uint32]int32
}

// NewOperandMap creates an empty OperandMap.
func NewOperandMap() *OperandMap {
	return &OperandMap{Data: make(map[uint32]int32)}
}

// Add inserts a key-value pair. Adding an existing key fails and leaves the
// map unchanged.
func (m *OperandMap) Add(key uint32, value int32) error {
	if _, ok := m.Data[key]; ok {
		return fmt.Errorf("key %d: %w", key, ErrDuplicateKey)
	}
	m.Data[key] = value
	return nil
}

// Get returns the value for the given key.
func (m *OperandMap) Get(key uint32) (int32, bool) {
	v, ok := m.Data[key]
	return v, ok
}

// Len returns the number of entries.
func (m *OperandMap) Len() int {
	return len(m.Data)
}

// Keys returns the keys in ascending order.
func (m *OperandMap) Keys() []uint32 {
	keys := make([]uint32, 0, len(m.Data))
	for k := range m.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
