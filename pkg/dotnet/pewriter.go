package dotnet

import (
	"encoding/binary"
	"fmt"
)

const sectionHeaderSize = 40

// BodySectionCharacteristics marks the appended section as readable,
// executable code.
const BodySectionCharacteristics = 0x60000020

// Optional header field offsets shared by PE32 and PE32+.
const (
	optSizeOfImage = 56
	optCheckSum    = 64
)

type peHeaders struct {
	coff         int
	opt          int
	sectionTable int
	numSections  int
}

func locateHeaders(data []byte) (peHeaders, error) {
	if len(data) < 0x40 {
		return peHeaders{}, fmt.Errorf("file too small for a DOS header")
	}
	lfanew := int(binary.LittleEndian.Uint32(data[0x3C:]))
	coff := lfanew + 4
	if coff+20 > len(data) {
		return peHeaders{}, fmt.Errorf("PE header offset 0x%X out of range", lfanew)
	}
	h := peHeaders{
		coff:        coff,
		opt:         coff + 20,
		numSections: int(binary.LittleEndian.Uint16(data[coff+2:])),
	}
	h.sectionTable = h.opt + int(binary.LittleEndian.Uint16(data[coff+16:]))
	if h.opt+optCheckSum+4 > len(data) {
		return peHeaders{}, fmt.Errorf("optional header truncated")
	}
	return h, nil
}

func alignUp(v, a uint32) uint32 {
	if a == 0 {
		return v
	}
	return (v + a - 1) / a * a
}

// nextSectionRVA returns the first section-aligned RVA past every section.
func (img *Image) nextSectionRVA() (uint32, error) {
	sectionAlign, _, _, err := img.layout()
	if err != nil {
		return 0, err
	}
	var end uint32
	for _, s := range img.sections {
		size := s.VirtualSize
		if s.Size > size {
			size = s.Size
		}
		if e := alignUp(s.VirtualAddress+size, sectionAlign); e > end {
			end = e
		}
	}
	return end, nil
}

// appendSection adds a section holding content at rva to the end of data.
func (img *Image) appendSection(data []byte, name string, rva uint32, content []byte) ([]byte, error) {
	sectionAlign, fileAlign, sizeOfHeaders, err := img.layout()
	if err != nil {
		return nil, err
	}
	h, err := locateHeaders(data)
	if err != nil {
		return nil, err
	}

	hdrEnd := uint32(h.sectionTable + (h.numSections+1)*sectionHeaderSize)
	room := sizeOfHeaders
	for _, s := range img.sections {
		if s.Offset != 0 && s.Offset < room {
			room = s.Offset
		}
	}
	if hdrEnd > room {
		return nil, fmt.Errorf("no room for another section header (need %d bytes, have %d)", hdrEnd, room)
	}

	rawOffset := alignUp(uint32(len(data)), fileAlign)
	rawSize := alignUp(uint32(len(content)), fileAlign)
	out := make([]byte, rawOffset+rawSize)
	copy(out, data)
	copy(out[rawOffset:], content)

	var sh [sectionHeaderSize]byte
	copy(sh[:8], name)
	binary.LittleEndian.PutUint32(sh[8:], uint32(len(content)))
	binary.LittleEndian.PutUint32(sh[12:], rva)
	binary.LittleEndian.PutUint32(sh[16:], rawSize)
	binary.LittleEndian.PutUint32(sh[20:], rawOffset)
	binary.LittleEndian.PutUint32(sh[36:], BodySectionCharacteristics)
	copy(out[h.sectionTable+h.numSections*sectionHeaderSize:], sh[:])

	binary.LittleEndian.PutUint16(out[h.coff+2:], uint16(h.numSections+1))
	binary.LittleEndian.PutUint32(out[h.opt+optSizeOfImage:], alignUp(rva+uint32(len(content)), sectionAlign))
	return out, nil
}

// updateChecksum recomputes the optional header CheckSum.
func updateChecksum(data []byte) error {
	h, err := locateHeaders(data)
	if err != nil {
		return err
	}
	off := h.opt + optCheckSum
	binary.LittleEndian.PutUint32(data[off:], peChecksum(data, off))
	return nil
}

func peChecksum(data []byte, skip int) uint32 {
	var sum uint64
	for i := 0; i+1 < len(data); i += 2 {
		if i == skip || i == skip+2 {
			continue
		}
		sum += uint64(binary.LittleEndian.Uint16(data[i:]))
		sum = sum&0xFFFF + sum>>16
	}
	if len(data)%2 == 1 {
		sum += uint64(data[len(data)-1])
		sum = sum&0xFFFF + sum>>16
	}
	sum = sum&0xFFFF + sum>>16
	return uint32(sum) + uint32(len(data))
}
