package cil

import (
	"bytes"
	"fmt"
	"testing"
)

type entity Token

func (e entity) MDToken() Token { return Token(e) }

// identityResolver resolves every token to itself.
type identityResolver struct {
	strings map[uint32]string
}

func (r identityResolver) ResolveToken(token uint32, gp GenericContext) (TokenProvider, error) {
	if Token(token).Rid() == 0 {
		return nil, fmt.Errorf("null token %08X", token)
	}
	return entity(token), nil
}

func (r identityResolver) ReadUserString(token uint32) (string, error) {
	s, ok := r.strings[token]
	if !ok {
		return "", fmt.Errorf("no string at %08X", token)
	}
	return s, nil
}

// identityTokenizer is the inverse of identityResolver.
type identityTokenizer struct {
	strings map[string]uint32
}

func (t identityTokenizer) Token(tp TokenProvider) (Token, error) {
	return tp.MDToken(), nil
}

func (t identityTokenizer) UserString(s string) (Token, error) {
	tok, ok := t.strings[s]
	if !ok {
		return 0, fmt.Errorf("string %q not in heap", s)
	}
	return Token(tok), nil
}

func TestToken(t *testing.T) {
	tok := NewToken(0x06, 0x12)
	if tok != 0x06000012 {
		t.Errorf("NewToken: got %08X, want 06000012", uint32(tok))
	}
	if tok.Table() != 0x06 {
		t.Errorf("Table: got %02X, want 06", tok.Table())
	}
	if tok.Rid() != 0x12 {
		t.Errorf("Rid: got %d, want 18", tok.Rid())
	}
	if tok.String() != "06000012" {
		t.Errorf("String: got %q", tok.String())
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		code Code
		name string
	}{
		{OpNop, "nop"},
		{OpCall, "call"},
		{OpStsfld, "stsfld"},
		{OpCeq, "ceq"},
		{OpReadonly, "readonly."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := Lookup(tt.code)
			if op == nil {
				t.Fatalf("Lookup(0x%X) returned nil", uint16(tt.code))
			}
			if op.Name != tt.name {
				t.Errorf("got %q, want %q", op.Name, tt.name)
			}
		})
	}

	if Lookup(0x24) != nil {
		t.Error("0x24 is not a valid opcode")
	}
	if Lookup(0xFE08) != nil {
		t.Error("0xFE08 is not a valid opcode")
	}
}

func TestDecode(t *testing.T) {
	r := identityResolver{strings: map[uint32]string{0x70000001: "hi"}}
	code := []byte{
		0x1F, 0xFB, // ldc.i4.s -5
		0x20, 0x44, 0x33, 0x22, 0x11, // ldc.i4 0x11223344
		0x72, 0x01, 0x00, 0x00, 0x70, // ldstr "hi"
		0x28, 0x05, 0x00, 0x00, 0x06, // call 06000005
		0xFE, 0x0C, 0x02, 0x00, // ldloc 2
		0x45, 0x02, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0xFE, 0xFF, 0xFF, 0xFF, // switch (1, -2)
		0x2A, // ret
	}

	instrs, err := Decode(code, r, GenericContext{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(instrs) != 7 {
		t.Fatalf("got %d instructions, want 7", len(instrs))
	}

	if got := instrs[0].Operand.(int32); got != -5 {
		t.Errorf("ldc.i4.s: got %d, want -5", got)
	}
	if got := instrs[1].Operand.(int32); got != 0x11223344 {
		t.Errorf("ldc.i4: got %X", got)
	}
	if got := instrs[2].Operand.(string); got != "hi" {
		t.Errorf("ldstr: got %q", got)
	}
	if got := instrs[3].Operand.(TokenProvider).MDToken(); got != 0x06000005 {
		t.Errorf("call: got %s", got)
	}
	if instrs[3].OperandOffset() != 13 {
		t.Errorf("call operand offset: got %d, want 13", instrs[3].OperandOffset())
	}
	if got := instrs[4].Operand.(uint16); got != 2 {
		t.Errorf("ldloc: got %d, want 2", got)
	}
	targets := instrs[5].Operand.([]int32)
	if len(targets) != 2 || targets[0] != 1 || targets[1] != -2 {
		t.Errorf("switch: got %v", targets)
	}
	if instrs[6].Offset != uint32(len(code)-1) {
		t.Errorf("ret offset: got %d, want %d", instrs[6].Offset, len(code)-1)
	}
}

func TestDecodeErrors(t *testing.T) {
	r := identityResolver{}
	tests := []struct {
		name string
		code []byte
	}{
		{"unknown opcode", []byte{0x24}},
		{"truncated operand", []byte{0x20, 0x01, 0x02}},
		{"truncated prefix", []byte{0xFE}},
		{"unresolvable token", []byte{0x28, 0x00, 0x00, 0x00, 0x06}},
		{"missing string", []byte{0x72, 0x09, 0x00, 0x00, 0x70}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.code, r, GenericContext{}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestReadHeader(t *testing.T) {
	t.Run("tiny", func(t *testing.T) {
		hdr, err := ReadHeader([]byte{0x0A})
		if err != nil {
			t.Fatal(err)
		}
		if hdr.CodeSize != 2 || hdr.MaxStack != 8 || hdr.Size != 1 {
			t.Errorf("got %+v", hdr)
		}
	})

	t.Run("fat", func(t *testing.T) {
		data := []byte{0x1B, 0x30, 0x04, 0x00, 0x10, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x11}
		hdr, err := ReadHeader(data)
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Flags != 0x301B {
			t.Errorf("flags: got %04X, want 301B", hdr.Flags)
		}
		if hdr.MaxStack != 4 || hdr.CodeSize != 16 || hdr.LocalVarSigTok != 0x11000001 || hdr.Size != 12 {
			t.Errorf("got %+v", hdr)
		}
	})

	t.Run("short fat", func(t *testing.T) {
		data := []byte{0x1B, 0x20, 0x04, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
		hdr, err := ReadHeader(data)
		if err != nil {
			t.Fatal(err)
		}
		if hdr.Flags != 0x2013 {
			t.Errorf("flags: got %04X, want 2013", hdr.Flags)
		}
		if hdr.Size != 8 {
			t.Errorf("size: got %d, want 8", hdr.Size)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := ReadHeader([]byte{0x00}); err == nil {
			t.Error("expected error for header byte 0x00")
		}
	})
}

func TestParseExceptionHandlers(t *testing.T) {
	r := identityResolver{}

	t.Run("small", func(t *testing.T) {
		data := []byte{
			0x01, 0x10, 0x00, 0x00, // kind, size 16
			0x00, 0x00, 0x01, 0x00, 0x05, 0x06, 0x00, 0x03, 0x07, 0x00, 0x00, 0x01,
		}
		handlers, err := ParseExceptionHandlers(data, r, GenericContext{})
		if err != nil {
			t.Fatal(err)
		}
		if len(handlers) != 1 {
			t.Fatalf("got %d handlers, want 1", len(handlers))
		}
		eh := handlers[0]
		if !eh.IsCatch() || eh.TryStart != 1 || eh.TryLength != 5 || eh.HandlerStart != 6 || eh.HandlerLength != 3 {
			t.Errorf("got %+v", eh)
		}
		if eh.CatchType.MDToken() != 0x01000007 {
			t.Errorf("catch type: got %s", eh.CatchType.MDToken())
		}
	})

	t.Run("fat finally", func(t *testing.T) {
		data := make([]byte, 28)
		data[0] = 0x41
		data[1] = 28
		data[4] = byte(HandlerFinally)
		data[8] = 2
		data[12] = 4
		data[16] = 9
		data[20] = 1
		handlers, err := ParseExceptionHandlers(data, r, GenericContext{})
		if err != nil {
			t.Fatal(err)
		}
		if len(handlers) != 1 || handlers[0].Type != HandlerFinally || handlers[0].CatchType != nil {
			t.Errorf("got %+v", handlers[0])
		}
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	r := identityResolver{strings: map[uint32]string{0x70000010: "flag"}}
	tk := identityTokenizer{strings: map[string]uint32{"flag": 0x70000010}}

	code := []byte{
		0x72, 0x10, 0x00, 0x00, 0x70, // ldstr
		0x28, 0x02, 0x00, 0x00, 0x0A, // call MemberRef
		0xDE, 0x00, // leave.s
		0x26,       // pop
		0xDE, 0x00, // leave.s
		0x2A, // ret
	}

	t.Run("tiny", func(t *testing.T) {
		body, err := CreateBody(r, code, nil, FlagTinyFormat, 8, uint32(len(code)), 0, GenericContext{})
		if err != nil {
			t.Fatal(err)
		}
		out, err := Encode(body, tk)
		if err != nil {
			t.Fatal(err)
		}
		if out[0] != byte(len(code))<<2|FlagTinyFormat {
			t.Errorf("tiny header: got %02X", out[0])
		}
		if !bytes.Equal(out[1:], code) {
			t.Errorf("code:\ngot  % X\nwant % X", out[1:], code)
		}
	})

	t.Run("fat with handler", func(t *testing.T) {
		eh := []byte{
			0x01, 0x10, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00, 0x0C, 0x0C, 0x00, 0x03, 0x09, 0x00, 0x00, 0x01,
		}
		body, err := CreateBody(r, code, eh, 0x3013|FlagMoreSects, 2, uint32(len(code)), 0x11000002, GenericContext{})
		if err != nil {
			t.Fatal(err)
		}
		if !body.InitLocals {
			t.Error("InitLocals should follow the header flags")
		}
		out, err := Encode(body, tk)
		if err != nil {
			t.Fatal(err)
		}

		again, err := ReadBody(out, r, GenericContext{})
		if err != nil {
			t.Fatalf("ReadBody of encoded body: %v", err)
		}
		if again.MaxStack != 2 || again.LocalVarSigTok != 0x11000002 || !again.InitLocals {
			t.Errorf("header: got %+v", again)
		}
		if len(again.Instructions) != len(body.Instructions) {
			t.Errorf("instructions: got %d, want %d", len(again.Instructions), len(body.Instructions))
		}
		if len(again.ExceptionHandlers) != 1 || again.ExceptionHandlers[0].CatchType.MDToken() != 0x01000009 {
			t.Errorf("handlers: got %+v", again.ExceptionHandlers)
		}
	})
}
