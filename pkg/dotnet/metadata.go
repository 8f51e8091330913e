package dotnet

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

const metadataSignature = 0x424A5342

// CLIHeader is the IMAGE_COR20_HEADER of a managed image.
type CLIHeader struct {
	HeaderRVA       uint32
	MetadataRVA     uint32
	MetadataSize    uint32
	Flags           uint32
	EntryPointToken uint32
}

// StreamHeader locates one metadata stream.
type StreamHeader struct {
	Name string
	// Offset is relative to the metadata root.
	Offset uint32
	Size   uint32
}

// Metadata is the parsed metadata root with its raw streams.
type Metadata struct {
	CLI     CLIHeader
	Version string
	Streams []StreamHeader

	Tables  *Tables
	Strings []byte
	US      []byte
	Blob    []byte
	GUID    []byte

	tablesStream *StreamHeader
}

func readCLIHeader(img *Image) (CLIHeader, error) {
	rva, _, err := img.CLRDirectory()
	if err != nil {
		return CLIHeader{}, err
	}
	r, err := img.CreateReader(rva)
	if err != nil {
		return CLIHeader{}, fmt.Errorf("CLI header: %w", err)
	}

	hdr := CLIHeader{HeaderRVA: rva}
	if _, err := r.ReadUint32(); err != nil { // cb
		return hdr, err
	}
	if _, err := r.ReadUint32(); err != nil { // runtime version
		return hdr, err
	}
	if hdr.MetadataRVA, err = r.ReadUint32(); err != nil {
		return hdr, err
	}
	if hdr.MetadataSize, err = r.ReadUint32(); err != nil {
		return hdr, err
	}
	if hdr.Flags, err = r.ReadUint32(); err != nil {
		return hdr, err
	}
	if hdr.EntryPointToken, err = r.ReadUint32(); err != nil {
		return hdr, err
	}
	return hdr, nil
}

func readMetadata(img *Image) (*Metadata, error) {
	cli, err := readCLIHeader(img)
	if err != nil {
		return nil, err
	}
	md := &Metadata{CLI: cli}

	root, err := img.ReadAt(cli.MetadataRVA, int(cli.MetadataSize))
	if err != nil {
		return nil, fmt.Errorf("reading metadata root: %w", err)
	}
	r := NewReader(root)

	sig, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if sig != metadataSignature {
		return nil, fmt.Errorf("invalid metadata signature 0x%08X", sig)
	}
	r.Position += 8 // major, minor, reserved
	verLen, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	ver, err := r.ReadBytes(int(verLen))
	if err != nil {
		return nil, fmt.Errorf("reading version string: %w", err)
	}
	md.Version = strings.TrimRight(string(ver), "\x00")
	r.Position += 2 // flags
	count, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}

	for i := 0; i < int(count); i++ {
		var sh StreamHeader
		if sh.Offset, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("stream header %d: %w", i, err)
		}
		if sh.Size, err = r.ReadUint32(); err != nil {
			return nil, fmt.Errorf("stream header %d: %w", i, err)
		}
		var name []byte
		for {
			b, err := r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("stream header %d name: %w", i, err)
			}
			if b == 0 {
				break
			}
			name = append(name, b)
		}
		r.Position = (r.Position + 3) &^ 3
		sh.Name = string(name)
		if uint64(sh.Offset)+uint64(sh.Size) > uint64(len(root)) {
			return nil, fmt.Errorf("stream %s exceeds metadata bounds", sh.Name)
		}
		md.Streams = append(md.Streams, sh)
	}

	for i := range md.Streams {
		sh := &md.Streams[i]
		data := root[sh.Offset : sh.Offset+sh.Size]
		switch sh.Name {
		case "#~":
			md.tablesStream = sh
		case "#-":
			return nil, fmt.Errorf("uncompressed #- metadata is not supported")
		case "#Strings":
			md.Strings = data
		case "#US":
			md.US = data
		case "#Blob":
			md.Blob = data
		case "#GUID":
			md.GUID = data
		}
	}
	if md.tablesStream == nil {
		return nil, fmt.Errorf("metadata has no #~ stream")
	}

	ts := md.tablesStream
	md.Tables, err = parseTables(root[ts.Offset : ts.Offset+ts.Size])
	if err != nil {
		return nil, fmt.Errorf("parsing #~ stream: %w", err)
	}
	return md, nil
}

// String reads a null-terminated string from the #Strings heap.
func (md *Metadata) String(index uint32) string {
	if int(index) >= len(md.Strings) {
		return ""
	}
	s := md.Strings[index:]
	for i, b := range s {
		if b == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}

// BlobAt returns the blob stored at index in the #Blob heap.
func (md *Metadata) BlobAt(index uint32) ([]byte, error) {
	if int(index) >= len(md.Blob) {
		return nil, fmt.Errorf("blob index 0x%X out of range", index)
	}
	r := NewReader(md.Blob[index:])
	n, err := r.ReadCompressedUint32()
	if err != nil {
		return nil, fmt.Errorf("blob 0x%X length: %w", index, err)
	}
	return r.ReadBytes(int(n))
}

// UserString reads the UTF-16 string stored at offset in the #US heap.
func (md *Metadata) UserString(offset uint32) (string, error) {
	if offset == 0 || int(offset) >= len(md.US) {
		return "", fmt.Errorf("user string offset 0x%X out of range", offset)
	}
	r := NewReader(md.US[offset:])
	n, err := r.ReadCompressedUint32()
	if err != nil {
		return "", fmt.Errorf("user string 0x%X length: %w", offset, err)
	}
	raw, err := r.ReadBytes(int(n))
	if err != nil {
		return "", fmt.Errorf("user string 0x%X: %w", offset, err)
	}
	return decodeUTF16(raw), nil
}

// userStringOffsets indexes every #US entry by its decoded value, first occurrence wins.
func (md *Metadata) userStringOffsets() map[string]uint32 {
	out := make(map[string]uint32)
	pos := uint32(1)
	for int(pos) < len(md.US) {
		r := NewReader(md.US[pos:])
		n, err := r.ReadCompressedUint32()
		if err != nil {
			break
		}
		raw, err := r.ReadBytes(int(n))
		if err != nil {
			break
		}
		s := decodeUTF16(raw)
		if _, ok := out[s]; !ok {
			out[s] = pos
		}
		pos += r.Position
	}
	return out
}

// decodeUTF16 decodes a #US entry; the trailing flag byte is dropped.
func decodeUTF16(raw []byte) string {
	n := len(raw) / 2
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		units[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return string(utf16.Decode(units))
}
