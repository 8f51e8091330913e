package native

// ByteList represents a System.Collections.Generic.List<byte>.
type ByteList struct {
	Items []byte
}

// NewByteList creates an empty ByteList.
func NewByteList() *ByteList {
	return &ByteList{}
}

// Add appends a byte.
func (l *ByteList) Add(b byte) {
	l.Items = append(l.Items, b)
}

// ToArray returns a copy of the contents.
func (l *ByteList) ToArray() []byte {
	out := make([]byte, len(l.Items))
	copy(out, l.Items)
	return out
}

// Len returns the number of bytes.
func (l *ByteList) Len() int {
	return len(l.Items)
}

// IntCollection represents a System.Collections.ObjectModel.ObservableCollection<int>.
type IntCollection struct {
	Items []int32
}

// NewIntCollection creates an empty IntCollection.
func NewIntCollection() *IntCollection {
	return &IntCollection{}
}

// Add appends a value.
func (c *IntCollection) Add(v int32) {
	c.Items = append(c.Items, v)
}

// Len returns the number of values.
func (c *IntCollection) Len() int {
	return len(c.Items)
}
