package native

import (
	"errors"
	"slices"
	"testing"
)

func TestOperandMap(t *testing.T) {
	t.Run("add and get", func(t *testing.T) {
		m := NewOperandMap()
		if err := m.Add(4, 0x11223344); err != nil {
			t.Fatalf("Add: %v", err)
		}

		got, ok := m.Get(4)
		if !ok || got != 0x11223344 {
			t.Errorf("Get(4): got %v, %v, want %v, true", got, ok, 0x11223344)
		}
	})

	t.Run("get missing key", func(t *testing.T) {
		m := NewOperandMap()

		if _, ok := m.Get(7); ok {
			t.Error("Get(7): got ok, want missing")
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		m := NewOperandMap()
		if err := m.Add(1, 10); err != nil {
			t.Fatalf("Add: %v", err)
		}

		err := m.Add(1, 20)
		if !errors.Is(err, ErrDuplicateKey) {
			t.Errorf("second Add: got %v, want %v", err, ErrDuplicateKey)
		}
		if got, _ := m.Get(1); got != 10 {
			t.Errorf("Get(1) after duplicate: got %d, want 10", got)
		}
	})

	t.Run("keys are sorted", func(t *testing.T) {
		m := NewOperandMap()
		for _, k := range []uint32{30, 2, 0xFFFFFFFF, 11} {
			if err := m.Add(k, int32(k)); err != nil {
				t.Fatalf("Add(%d): %v", k, err)
			}
		}

		want := []uint32{2, 11, 30, 0xFFFFFFFF}
		if got := m.Keys(); !slices.Equal(got, want) {
			t.Errorf("Keys: got %v, want %v", got, want)
		}
		if m.Len() != 4 {
			t.Errorf("Len: got %d, want 4", m.Len())
		}
	})
}

func TestByteList(t *testing.T) {
	t.Run("add and to array", func(t *testing.T) {
		l := NewByteList()
		l.Add(5)
		l.Add(9)

		got := l.ToArray()
		if !slices.Equal(got, []byte{5, 9}) {
			t.Errorf("ToArray: got %v, want [5 9]", got)
		}
	})

	t.Run("to array copies", func(t *testing.T) {
		l := NewByteList()
		l.Add(1)
		arr := l.ToArray()
		arr[0] = 0xFF

		if l.Items[0] != 1 {
			t.Errorf("list changed through array: got %d, want 1", l.Items[0])
		}
	})

	t.Run("empty", func(t *testing.T) {
		l := NewByteList()

		if got := l.ToArray(); len(got) != 0 || got == nil {
			t.Errorf("ToArray of empty list: got %v, want empty non-nil slice", got)
		}
	})
}

func TestIntCollection(t *testing.T) {
	c := NewIntCollection()
	c.Add(-1)
	c.Add(42)

	if c.Len() != 2 {
		t.Errorf("Len: got %d, want 2", c.Len())
	}
	if !slices.Equal(c.Items, []int32{-1, 42}) {
		t.Errorf("Items: got %v, want [-1 42]", c.Items)
	}
}
