package cil

import "fmt"

// Token is a metadata token: table id in the high byte, 1-based row id in the low 24 bits.
type Token uint32

// NewToken builds a token from a table id and a row id.
func NewToken(table byte, rid uint32) Token {
	return Token(uint32(table)<<24 | rid&0x00FFFFFF)
}

// Table returns the table id of the token.
func (t Token) Table() byte {
	return byte(t >> 24)
}

// Rid returns the row id of the token.
func (t Token) Rid() uint32 {
	return uint32(t) & 0x00FFFFFF
}

func (t Token) String() string {
	return fmt.Sprintf("%08X", uint32(t))
}

// TokenProvider is implemented by every resolved metadata entity.
type TokenProvider interface {
	MDToken() Token
}

// GenericContext carries the type and method whose generic parameters are in scope.
type GenericContext struct {
	Type   TokenProvider
	Method TokenProvider
}

// OperandResolver turns raw operand tokens into entities while decoding a body.
type OperandResolver interface {
	ResolveToken(token uint32, gp GenericContext) (TokenProvider, error)
	ReadUserString(token uint32) (string, error)
}

// Tokenizer maps entities and user strings back to tokens while encoding a body.
type Tokenizer interface {
	Token(tp TokenProvider) (Token, error)
	UserString(s string) (Token, error)
}
