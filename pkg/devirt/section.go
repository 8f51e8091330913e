package devirt

import (
	"crypto/rc4"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/daimatz/flared/pkg/dotnet"
)

// sectionKey is the RC4 key of every encrypted body section.
var sectionKey = []byte{18, 120, 171, 223}

// Fingerprint hashes the declared shape of md together with the length of
// its raw code. The lowercase hex digest names the section that holds the
// encrypted body.
func Fingerprint(md *dotnet.MethodDef, raw *RawMethodBody) (string, error) {
	if md.Sig == nil || md.Sig.CallingConvention&dotnet.CallConvMask != dotnet.CallConvDefault {
		return "", fmt.Errorf("method %s: %w", md.MDToken(), ErrUnsupportedCallingConvention)
	}
	if md.Header == nil {
		return "", fmt.Errorf("method %s has no body header", md.MDToken())
	}

	var locals, params strings.Builder
	for _, t := range md.Locals {
		locals.WriteString(t.ReflectionFullName())
	}
	for _, t := range md.Params() {
		params.WriteString(t.ReflectionFullName())
	}

	h := sha256.New()
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(raw.Code)))
	h.Write(size[:])
	h.Write([]byte(md.Flags.String()))
	h.Write([]byte(md.ReturnType().ReflectionFullName()))
	h.Write([]byte(strconv.Itoa(int(md.Header.MaxStack))))
	h.Write([]byte(locals.String()))
	h.Write([]byte(params.String()))
	h.Write([]byte("Standard"))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FindSection returns the first section whose name is a prefix of name.
// Section names are at most eight bytes so they hold a truncated digest.
func FindSection(sections []*dotnet.Section, name string) *dotnet.Section {
	for _, s := range sections {
		if strings.HasPrefix(name, s.Name) {
			return s
		}
	}
	return nil
}

// Decrypt returns the RC4 decryption of data under the section key. RC4 is
// symmetric so it also encrypts.
func Decrypt(data []byte) []byte {
	c, err := rc4.NewCipher(sectionKey)
	if err != nil {
		panic(err) // key length is fixed
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out
}
