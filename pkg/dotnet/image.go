package dotnet

import (
	"bytes"
	"fmt"

	"github.com/Binject/debug/pe"
)

// clrDirectory is the data directory index of the CLI header.
const clrDirectory = 14

// Section is one entry of the PE section table.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Offset         uint32
	Size           uint32

	pe *pe.Section
}

// contains reports whether rva falls inside the section's mapped range.
func (s *Section) contains(rva uint32) bool {
	size := s.VirtualSize
	if s.Size > size {
		size = s.Size
	}
	return rva >= s.VirtualAddress && rva < s.VirtualAddress+size
}

// Image is a PE file held in memory together with its parsed headers.
type Image struct {
	data     []byte
	file     *pe.File
	sections []*Section
}

// NewImage parses the PE headers of data.
func NewImage(data []byte) (*Image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing PE headers: %w", err)
	}

	img := &Image{data: data, file: f}
	for _, s := range f.Sections {
		img.sections = append(img.sections, &Section{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			Offset:         s.Offset,
			Size:           s.Size,
			pe:             s,
		})
	}
	return img, nil
}

// Bytes returns the raw file contents.
func (img *Image) Bytes() []byte {
	return img.data
}

// Sections returns the section table in header order.
func (img *Image) Sections() []*Section {
	return img.sections
}

// CLRDirectory returns the RVA and size of the CLI header.
func (img *Image) CLRDirectory() (uint32, uint32, error) {
	var dirs []pe.DataDirectory
	switch oh := img.file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:min(int(oh.NumberOfRvaAndSizes), len(oh.DataDirectory))]
	default:
		return 0, 0, fmt.Errorf("missing optional header")
	}
	if len(dirs) <= clrDirectory || dirs[clrDirectory].VirtualAddress == 0 {
		return 0, 0, fmt.Errorf("image has no CLI header")
	}
	return dirs[clrDirectory].VirtualAddress, dirs[clrDirectory].Size, nil
}

// SectionOf returns the section containing rva.
func (img *Image) SectionOf(rva uint32) *Section {
	for _, s := range img.sections {
		if s.contains(rva) {
			return s
		}
	}
	return nil
}

// Offset converts an RVA to a file offset.
func (img *Image) Offset(rva uint32) (uint32, error) {
	s := img.SectionOf(rva)
	if s == nil {
		return 0, fmt.Errorf("RVA 0x%X is not inside any section", rva)
	}
	delta := rva - s.VirtualAddress
	if delta >= s.Size {
		return 0, fmt.Errorf("RVA 0x%X lies in the uninitialised tail of %s", rva, s.Name)
	}
	return s.Offset + delta, nil
}

// CreateReader returns a Reader positioned at rva and bounded by the end of
// the file data of its section.
func (img *Image) CreateReader(rva uint32) (*Reader, error) {
	off, err := img.Offset(rva)
	if err != nil {
		return nil, err
	}
	s := img.SectionOf(rva)
	end := s.Offset + s.Size
	if int(end) > len(img.data) {
		end = uint32(len(img.data))
	}
	if off > end {
		return nil, fmt.Errorf("RVA 0x%X maps past the end of the file", rva)
	}
	return NewReader(img.data[off:end]), nil
}

// ReadAt reads n bytes at rva.
func (img *Image) ReadAt(rva uint32, n int) ([]byte, error) {
	r, err := img.CreateReader(rva)
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

// SectionData returns VirtualSize bytes starting at the section's virtual
// address. Bytes beyond the raw data are zero.
func (img *Image) SectionData(s *Section) ([]byte, error) {
	raw, err := s.pe.Data()
	if err != nil {
		return nil, fmt.Errorf("reading section %s: %w", s.Name, err)
	}
	size := s.VirtualSize
	if size == 0 {
		size = s.Size
	}
	out := make([]byte, size)
	copy(out, raw)
	return out, nil
}

// layout returns the alignment fields of the optional header.
func (img *Image) layout() (sectionAlign, fileAlign, sizeOfHeaders uint32, err error) {
	switch oh := img.file.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		return oh.SectionAlignment, oh.FileAlignment, oh.SizeOfHeaders, nil
	case *pe.OptionalHeader64:
		return oh.SectionAlignment, oh.FileAlignment, oh.SizeOfHeaders, nil
	}
	return 0, 0, 0, fmt.Errorf("missing optional header")
}
