package cil

// OperandType describes how an instruction operand is encoded.
type OperandType int

const (
	InlineNone OperandType = iota
	ShortInlineVar
	InlineVar
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	ShortInlineBrTarget
	InlineBrTarget
	InlineSwitch
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineSig
	InlineString
)

// VarStack marks a stack effect that depends on the operand (calls, ret).
const VarStack = -1

// Code is an opcode value. Two-byte opcodes carry the 0xFE prefix in the high byte.
type Code uint16

// OpCode describes a single CIL opcode.
type OpCode struct {
	Name    string
	Code    Code
	Operand OperandType
	Pop     int8
	Push    int8
}

// Size returns the encoded length of the opcode itself.
func (op *OpCode) Size() int {
	if op.Code>>8 == 0xFE {
		return 2
	}
	return 1
}

// Opcodes
const (
	OpNop         Code = 0x00
	OpBreak       Code = 0x01
	OpLdarg0      Code = 0x02
	OpLdarg1      Code = 0x03
	OpLdarg2      Code = 0x04
	OpLdarg3      Code = 0x05
	OpLdloc0      Code = 0x06
	OpLdloc1      Code = 0x07
	OpLdloc2      Code = 0x08
	OpLdloc3      Code = 0x09
	OpStloc0      Code = 0x0A
	OpStloc1      Code = 0x0B
	OpStloc2      Code = 0x0C
	OpStloc3      Code = 0x0D
	OpLdargS      Code = 0x0E
	OpLdargaS     Code = 0x0F
	OpStargS      Code = 0x10
	OpLdlocS      Code = 0x11
	OpLdlocaS     Code = 0x12
	OpStlocS      Code = 0x13
	OpLdnull      Code = 0x14
	OpLdcI4M1     Code = 0x15
	OpLdcI40      Code = 0x16
	OpLdcI41      Code = 0x17
	OpLdcI42      Code = 0x18
	OpLdcI43      Code = 0x19
	OpLdcI44      Code = 0x1A
	OpLdcI45      Code = 0x1B
	OpLdcI46      Code = 0x1C
	OpLdcI47      Code = 0x1D
	OpLdcI48      Code = 0x1E
	OpLdcI4S      Code = 0x1F
	OpLdcI4       Code = 0x20
	OpLdcI8       Code = 0x21
	OpLdcR4       Code = 0x22
	OpLdcR8       Code = 0x23
	OpDup         Code = 0x25
	OpPop         Code = 0x26
	OpJmp         Code = 0x27
	OpCall        Code = 0x28
	OpCalli       Code = 0x29
	OpRet         Code = 0x2A
	OpBrS         Code = 0x2B
	OpBrfalseS    Code = 0x2C
	OpBrtrueS     Code = 0x2D
	OpBeqS        Code = 0x2E
	OpBgeS        Code = 0x2F
	OpBgtS        Code = 0x30
	OpBleS        Code = 0x31
	OpBltS        Code = 0x32
	OpBneUnS      Code = 0x33
	OpBgeUnS      Code = 0x34
	OpBgtUnS      Code = 0x35
	OpBleUnS      Code = 0x36
	OpBltUnS      Code = 0x37
	OpBr          Code = 0x38
	OpBrfalse     Code = 0x39
	OpBrtrue      Code = 0x3A
	OpBeq         Code = 0x3B
	OpBge         Code = 0x3C
	OpBgt         Code = 0x3D
	OpBle         Code = 0x3E
	OpBlt         Code = 0x3F
	OpBneUn       Code = 0x40
	OpBgeUn       Code = 0x41
	OpBgtUn       Code = 0x42
	OpBleUn       Code = 0x43
	OpBltUn       Code = 0x44
	OpSwitch      Code = 0x45
	OpLdindI1     Code = 0x46
	OpLdindU1     Code = 0x47
	OpLdindI2     Code = 0x48
	OpLdindU2     Code = 0x49
	OpLdindI4     Code = 0x4A
	OpLdindU4     Code = 0x4B
	OpLdindI8     Code = 0x4C
	OpLdindI      Code = 0x4D
	OpLdindR4     Code = 0x4E
	OpLdindR8     Code = 0x4F
	OpLdindRef    Code = 0x50
	OpStindRef    Code = 0x51
	OpStindI1     Code = 0x52
	OpStindI2     Code = 0x53
	OpStindI4     Code = 0x54
	OpStindI8     Code = 0x55
	OpStindR4     Code = 0x56
	OpStindR8     Code = 0x57
	OpAdd         Code = 0x58
	OpSub         Code = 0x59
	OpMul         Code = 0x5A
	OpDiv         Code = 0x5B
	OpDivUn       Code = 0x5C
	OpRem         Code = 0x5D
	OpRemUn       Code = 0x5E
	OpAnd         Code = 0x5F
	OpOr          Code = 0x60
	OpXor         Code = 0x61
	OpShl         Code = 0x62
	OpShr         Code = 0x63
	OpShrUn       Code = 0x64
	OpNeg         Code = 0x65
	OpNot         Code = 0x66
	OpConvI1      Code = 0x67
	OpConvI2      Code = 0x68
	OpConvI4      Code = 0x69
	OpConvI8      Code = 0x6A
	OpConvR4      Code = 0x6B
	OpConvR8      Code = 0x6C
	OpConvU4      Code = 0x6D
	OpConvU8      Code = 0x6E
	OpCallvirt    Code = 0x6F
	OpCpobj       Code = 0x70
	OpLdobj       Code = 0x71
	OpLdstr       Code = 0x72
	OpNewobj      Code = 0x73
	OpCastclass   Code = 0x74
	OpIsinst      Code = 0x75
	OpConvRUn     Code = 0x76
	OpUnbox       Code = 0x79
	OpThrow       Code = 0x7A
	OpLdfld       Code = 0x7B
	OpLdflda      Code = 0x7C
	OpStfld       Code = 0x7D
	OpLdsfld      Code = 0x7E
	OpLdsflda     Code = 0x7F
	OpStsfld      Code = 0x80
	OpStobj       Code = 0x81
	OpConvOvfI1Un Code = 0x82
	OpConvOvfI2Un Code = 0x83
	OpConvOvfI4Un Code = 0x84
	OpConvOvfI8Un Code = 0x85
	OpConvOvfU1Un Code = 0x86
	OpConvOvfU2Un Code = 0x87
	OpConvOvfU4Un Code = 0x88
	OpConvOvfU8Un Code = 0x89
	OpConvOvfIUn  Code = 0x8A
	OpConvOvfUUn  Code = 0x8B
	OpBox         Code = 0x8C
	OpNewarr      Code = 0x8D
	OpLdlen       Code = 0x8E
	OpLdelema     Code = 0x8F
	OpLdelemI1    Code = 0x90
	OpLdelemU1    Code = 0x91
	OpLdelemI2    Code = 0x92
	OpLdelemU2    Code = 0x93
	OpLdelemI4    Code = 0x94
	OpLdelemU4    Code = 0x95
	OpLdelemI8    Code = 0x96
	OpLdelemI     Code = 0x97
	OpLdelemR4    Code = 0x98
	OpLdelemR8    Code = 0x99
	OpLdelemRef   Code = 0x9A
	OpStelemI     Code = 0x9B
	OpStelemI1    Code = 0x9C
	OpStelemI2    Code = 0x9D
	OpStelemI4    Code = 0x9E
	OpStelemI8    Code = 0x9F
	OpStelemR4    Code = 0xA0
	OpStelemR8    Code = 0xA1
	OpStelemRef   Code = 0xA2
	OpLdelem      Code = 0xA3
	OpStelem      Code = 0xA4
	OpUnboxAny    Code = 0xA5
	OpConvOvfI1   Code = 0xB3
	OpConvOvfU1   Code = 0xB4
	OpConvOvfI2   Code = 0xB5
	OpConvOvfU2   Code = 0xB6
	OpConvOvfI4   Code = 0xB7
	OpConvOvfU4   Code = 0xB8
	OpConvOvfI8   Code = 0xB9
	OpConvOvfU8   Code = 0xBA
	OpRefanyval   Code = 0xC2
	OpCkfinite    Code = 0xC3
	OpMkrefany    Code = 0xC6
	OpLdtoken     Code = 0xD0
	OpConvU2      Code = 0xD1
	OpConvU1      Code = 0xD2
	OpConvI       Code = 0xD3
	OpConvOvfI    Code = 0xD4
	OpConvOvfU    Code = 0xD5
	OpAddOvf      Code = 0xD6
	OpAddOvfUn    Code = 0xD7
	OpMulOvf      Code = 0xD8
	OpMulOvfUn    Code = 0xD9
	OpSubOvf      Code = 0xDA
	OpSubOvfUn    Code = 0xDB
	OpEndfinally  Code = 0xDC
	OpLeave       Code = 0xDD
	OpLeaveS      Code = 0xDE
	OpStindI      Code = 0xDF
	OpConvU       Code = 0xE0

	OpArglist     Code = 0xFE00
	OpCeq         Code = 0xFE01
	OpCgt         Code = 0xFE02
	OpCgtUn       Code = 0xFE03
	OpClt         Code = 0xFE04
	OpCltUn       Code = 0xFE05
	OpLdftn       Code = 0xFE06
	OpLdvirtftn   Code = 0xFE07
	OpLdarg       Code = 0xFE09
	OpLdarga      Code = 0xFE0A
	OpStarg       Code = 0xFE0B
	OpLdloc       Code = 0xFE0C
	OpLdloca      Code = 0xFE0D
	OpStloc       Code = 0xFE0E
	OpLocalloc    Code = 0xFE0F
	OpEndfilter   Code = 0xFE11
	OpUnaligned   Code = 0xFE12
	OpVolatile    Code = 0xFE13
	OpTail        Code = 0xFE14
	OpInitobj     Code = 0xFE15
	OpConstrained Code = 0xFE16
	OpCpblk       Code = 0xFE17
	OpInitblk     Code = 0xFE18
	OpNo          Code = 0xFE19
	OpRethrow     Code = 0xFE1A
	OpSizeof      Code = 0xFE1C
	OpRefanytype  Code = 0xFE1D
	OpReadonly    Code = 0xFE1E
)

var opcodeList = []OpCode{
	{"nop", OpNop, InlineNone, 0, 0},
	{"break", OpBreak, InlineNone, 0, 0},
	{"ldarg.0", OpLdarg0, InlineNone, 0, 1},
	{"ldarg.1", OpLdarg1, InlineNone, 0, 1},
	{"ldarg.2", OpLdarg2, InlineNone, 0, 1},
	{"ldarg.3", OpLdarg3, InlineNone, 0, 1},
	{"ldloc.0", OpLdloc0, InlineNone, 0, 1},
	{"ldloc.1", OpLdloc1, InlineNone, 0, 1},
	{"ldloc.2", OpLdloc2, InlineNone, 0, 1},
	{"ldloc.3", OpLdloc3, InlineNone, 0, 1},
	{"stloc.0", OpStloc0, InlineNone, 1, 0},
	{"stloc.1", OpStloc1, InlineNone, 1, 0},
	{"stloc.2", OpStloc2, InlineNone, 1, 0},
	{"stloc.3", OpStloc3, InlineNone, 1, 0},
	{"ldarg.s", OpLdargS, ShortInlineVar, 0, 1},
	{"ldarga.s", OpLdargaS, ShortInlineVar, 0, 1},
	{"starg.s", OpStargS, ShortInlineVar, 1, 0},
	{"ldloc.s", OpLdlocS, ShortInlineVar, 0, 1},
	{"ldloca.s", OpLdlocaS, ShortInlineVar, 0, 1},
	{"stloc.s", OpStlocS, ShortInlineVar, 1, 0},
	{"ldnull", OpLdnull, InlineNone, 0, 1},
	{"ldc.i4.m1", OpLdcI4M1, InlineNone, 0, 1},
	{"ldc.i4.0", OpLdcI40, InlineNone, 0, 1},
	{"ldc.i4.1", OpLdcI41, InlineNone, 0, 1},
	{"ldc.i4.2", OpLdcI42, InlineNone, 0, 1},
	{"ldc.i4.3", OpLdcI43, InlineNone, 0, 1},
	{"ldc.i4.4", OpLdcI44, InlineNone, 0, 1},
	{"ldc.i4.5", OpLdcI45, InlineNone, 0, 1},
	{"ldc.i4.6", OpLdcI46, InlineNone, 0, 1},
	{"ldc.i4.7", OpLdcI47, InlineNone, 0, 1},
	{"ldc.i4.8", OpLdcI48, InlineNone, 0, 1},
	{"ldc.i4.s", OpLdcI4S, ShortInlineI, 0, 1},
	{"ldc.i4", OpLdcI4, InlineI, 0, 1},
	{"ldc.i8", OpLdcI8, InlineI8, 0, 1},
	{"ldc.r4", OpLdcR4, ShortInlineR, 0, 1},
	{"ldc.r8", OpLdcR8, InlineR, 0, 1},
	{"dup", OpDup, InlineNone, 1, 2},
	{"pop", OpPop, InlineNone, 1, 0},
	{"jmp", OpJmp, InlineMethod, 0, 0},
	{"call", OpCall, InlineMethod, VarStack, VarStack},
	{"calli", OpCalli, InlineSig, VarStack, VarStack},
	{"ret", OpRet, InlineNone, VarStack, 0},
	{"br.s", OpBrS, ShortInlineBrTarget, 0, 0},
	{"brfalse.s", OpBrfalseS, ShortInlineBrTarget, 1, 0},
	{"brtrue.s", OpBrtrueS, ShortInlineBrTarget, 1, 0},
	{"beq.s", OpBeqS, ShortInlineBrTarget, 2, 0},
	{"bge.s", OpBgeS, ShortInlineBrTarget, 2, 0},
	{"bgt.s", OpBgtS, ShortInlineBrTarget, 2, 0},
	{"ble.s", OpBleS, ShortInlineBrTarget, 2, 0},
	{"blt.s", OpBltS, ShortInlineBrTarget, 2, 0},
	{"bne.un.s", OpBneUnS, ShortInlineBrTarget, 2, 0},
	{"bge.un.s", OpBgeUnS, ShortInlineBrTarget, 2, 0},
	{"bgt.un.s", OpBgtUnS, ShortInlineBrTarget, 2, 0},
	{"ble.un.s", OpBleUnS, ShortInlineBrTarget, 2, 0},
	{"blt.un.s", OpBltUnS, ShortInlineBrTarget, 2, 0},
	{"br", OpBr, InlineBrTarget, 0, 0},
	{"brfalse", OpBrfalse, InlineBrTarget, 1, 0},
	{"brtrue", OpBrtrue, InlineBrTarget, 1, 0},
	{"beq", OpBeq, InlineBrTarget, 2, 0},
	{"bge", OpBge, InlineBrTarget, 2, 0},
	{"bgt", OpBgt, InlineBrTarget, 2, 0},
	{"ble", OpBle, InlineBrTarget, 2, 0},
	{"blt", OpBlt, InlineBrTarget, 2, 0},
	{"bne.un", OpBneUn, InlineBrTarget, 2, 0},
	{"bge.un", OpBgeUn, InlineBrTarget, 2, 0},
	{"bgt.un", OpBgtUn, InlineBrTarget, 2, 0},
	{"ble.un", OpBleUn, InlineBrTarget, 2, 0},
	{"blt.un", OpBltUn, InlineBrTarget, 2, 0},
	{"switch", OpSwitch, InlineSwitch, 1, 0},
	{"ldind.i1", OpLdindI1, InlineNone, 1, 1},
	{"ldind.u1", OpLdindU1, InlineNone, 1, 1},
	{"ldind.i2", OpLdindI2, InlineNone, 1, 1},
	{"ldind.u2", OpLdindU2, InlineNone, 1, 1},
	{"ldind.i4", OpLdindI4, InlineNone, 1, 1},
	{"ldind.u4", OpLdindU4, InlineNone, 1, 1},
	{"ldind.i8", OpLdindI8, InlineNone, 1, 1},
	{"ldind.i", OpLdindI, InlineNone, 1, 1},
	{"ldind.r4", OpLdindR4, InlineNone, 1, 1},
	{"ldind.r8", OpLdindR8, InlineNone, 1, 1},
	{"ldind.ref", OpLdindRef, InlineNone, 1, 1},
	{"stind.ref", OpStindRef, InlineNone, 2, 0},
	{"stind.i1", OpStindI1, InlineNone, 2, 0},
	{"stind.i2", OpStindI2, InlineNone, 2, 0},
	{"stind.i4", OpStindI4, InlineNone, 2, 0},
	{"stind.i8", OpStindI8, InlineNone, 2, 0},
	{"stind.r4", OpStindR4, InlineNone, 2, 0},
	{"stind.r8", OpStindR8, InlineNone, 2, 0},
	{"add", OpAdd, InlineNone, 2, 1},
	{"sub", OpSub, InlineNone, 2, 1},
	{"mul", OpMul, InlineNone, 2, 1},
	{"div", OpDiv, InlineNone, 2, 1},
	{"div.un", OpDivUn, InlineNone, 2, 1},
	{"rem", OpRem, InlineNone, 2, 1},
	{"rem.un", OpRemUn, InlineNone, 2, 1},
	{"and", OpAnd, InlineNone, 2, 1},
	{"or", OpOr, InlineNone, 2, 1},
	{"xor", OpXor, InlineNone, 2, 1},
	{"shl", OpShl, InlineNone, 2, 1},
	{"shr", OpShr, InlineNone, 2, 1},
	{"shr.un", OpShrUn, InlineNone, 2, 1},
	{"neg", OpNeg, InlineNone, 1, 1},
	{"not", OpNot, InlineNone, 1, 1},
	{"conv.i1", OpConvI1, InlineNone, 1, 1},
	{"conv.i2", OpConvI2, InlineNone, 1, 1},
	{"conv.i4", OpConvI4, InlineNone, 1, 1},
	{"conv.i8", OpConvI8, InlineNone, 1, 1},
	{"conv.r4", OpConvR4, InlineNone, 1, 1},
	{"conv.r8", OpConvR8, InlineNone, 1, 1},
	{"conv.u4", OpConvU4, InlineNone, 1, 1},
	{"conv.u8", OpConvU8, InlineNone, 1, 1},
	{"callvirt", OpCallvirt, InlineMethod, VarStack, VarStack},
	{"cpobj", OpCpobj, InlineType, 2, 0},
	{"ldobj", OpLdobj, InlineType, 1, 1},
	{"ldstr", OpLdstr, InlineString, 0, 1},
	{"newobj", OpNewobj, InlineMethod, VarStack, 1},
	{"castclass", OpCastclass, InlineType, 1, 1},
	{"isinst", OpIsinst, InlineType, 1, 1},
	{"conv.r.un", OpConvRUn, InlineNone, 1, 1},
	{"unbox", OpUnbox, InlineType, 1, 1},
	{"throw", OpThrow, InlineNone, 1, 0},
	{"ldfld", OpLdfld, InlineField, 1, 1},
	{"ldflda", OpLdflda, InlineField, 1, 1},
	{"stfld", OpStfld, InlineField, 2, 0},
	{"ldsfld", OpLdsfld, InlineField, 0, 1},
	{"ldsflda", OpLdsflda, InlineField, 0, 1},
	{"stsfld", OpStsfld, InlineField, 1, 0},
	{"stobj", OpStobj, InlineType, 2, 0},
	{"conv.ovf.i1.un", OpConvOvfI1Un, InlineNone, 1, 1},
	{"conv.ovf.i2.un", OpConvOvfI2Un, InlineNone, 1, 1},
	{"conv.ovf.i4.un", OpConvOvfI4Un, InlineNone, 1, 1},
	{"conv.ovf.i8.un", OpConvOvfI8Un, InlineNone, 1, 1},
	{"conv.ovf.u1.un", OpConvOvfU1Un, InlineNone, 1, 1},
	{"conv.ovf.u2.un", OpConvOvfU2Un, InlineNone, 1, 1},
	{"conv.ovf.u4.un", OpConvOvfU4Un, InlineNone, 1, 1},
	{"conv.ovf.u8.un", OpConvOvfU8Un, InlineNone, 1, 1},
	{"conv.ovf.i.un", OpConvOvfIUn, InlineNone, 1, 1},
	{"conv.ovf.u.un", OpConvOvfUUn, InlineNone, 1, 1},
	{"box", OpBox, InlineType, 1, 1},
	{"newarr", OpNewarr, InlineType, 1, 1},
	{"ldlen", OpLdlen, InlineNone, 1, 1},
	{"ldelema", OpLdelema, InlineType, 2, 1},
	{"ldelem.i1", OpLdelemI1, InlineNone, 2, 1},
	{"ldelem.u1", OpLdelemU1, InlineNone, 2, 1},
	{"ldelem.i2", OpLdelemI2, InlineNone, 2, 1},
	{"ldelem.u2", OpLdelemU2, InlineNone, 2, 1},
	{"ldelem.i4", OpLdelemI4, InlineNone, 2, 1},
	{"ldelem.u4", OpLdelemU4, InlineNone, 2, 1},
	{"ldelem.i8", OpLdelemI8, InlineNone, 2, 1},
	{"ldelem.i", OpLdelemI, InlineNone, 2, 1},
	{"ldelem.r4", OpLdelemR4, InlineNone, 2, 1},
	{"ldelem.r8", OpLdelemR8, InlineNone, 2, 1},
	{"ldelem.ref", OpLdelemRef, InlineNone, 2, 1},
	{"stelem.i", OpStelemI, InlineNone, 3, 0},
	{"stelem.i1", OpStelemI1, InlineNone, 3, 0},
	{"stelem.i2", OpStelemI2, InlineNone, 3, 0},
	{"stelem.i4", OpStelemI4, InlineNone, 3, 0},
	{"stelem.i8", OpStelemI8, InlineNone, 3, 0},
	{"stelem.r4", OpStelemR4, InlineNone, 3, 0},
	{"stelem.r8", OpStelemR8, InlineNone, 3, 0},
	{"stelem.ref", OpStelemRef, InlineNone, 3, 0},
	{"ldelem", OpLdelem, InlineType, 2, 1},
	{"stelem", OpStelem, InlineType, 3, 0},
	{"unbox.any", OpUnboxAny, InlineType, 1, 1},
	{"conv.ovf.i1", OpConvOvfI1, InlineNone, 1, 1},
	{"conv.ovf.u1", OpConvOvfU1, InlineNone, 1, 1},
	{"conv.ovf.i2", OpConvOvfI2, InlineNone, 1, 1},
	{"conv.ovf.u2", OpConvOvfU2, InlineNone, 1, 1},
	{"conv.ovf.i4", OpConvOvfI4, InlineNone, 1, 1},
	{"conv.ovf.u4", OpConvOvfU4, InlineNone, 1, 1},
	{"conv.ovf.i8", OpConvOvfI8, InlineNone, 1, 1},
	{"conv.ovf.u8", OpConvOvfU8, InlineNone, 1, 1},
	{"refanyval", OpRefanyval, InlineType, 1, 1},
	{"ckfinite", OpCkfinite, InlineNone, 1, 1},
	{"mkrefany", OpMkrefany, InlineType, 1, 1},
	{"ldtoken", OpLdtoken, InlineTok, 0, 1},
	{"conv.u2", OpConvU2, InlineNone, 1, 1},
	{"conv.u1", OpConvU1, InlineNone, 1, 1},
	{"conv.i", OpConvI, InlineNone, 1, 1},
	{"conv.ovf.i", OpConvOvfI, InlineNone, 1, 1},
	{"conv.ovf.u", OpConvOvfU, InlineNone, 1, 1},
	{"add.ovf", OpAddOvf, InlineNone, 2, 1},
	{"add.ovf.un", OpAddOvfUn, InlineNone, 2, 1},
	{"mul.ovf", OpMulOvf, InlineNone, 2, 1},
	{"mul.ovf.un", OpMulOvfUn, InlineNone, 2, 1},
	{"sub.ovf", OpSubOvf, InlineNone, 2, 1},
	{"sub.ovf.un", OpSubOvfUn, InlineNone, 2, 1},
	{"endfinally", OpEndfinally, InlineNone, 0, 0},
	{"leave", OpLeave, InlineBrTarget, 0, 0},
	{"leave.s", OpLeaveS, ShortInlineBrTarget, 0, 0},
	{"stind.i", OpStindI, InlineNone, 2, 0},
	{"conv.u", OpConvU, InlineNone, 1, 1},

	{"arglist", OpArglist, InlineNone, 0, 1},
	{"ceq", OpCeq, InlineNone, 2, 1},
	{"cgt", OpCgt, InlineNone, 2, 1},
	{"cgt.un", OpCgtUn, InlineNone, 2, 1},
	{"clt", OpClt, InlineNone, 2, 1},
	{"clt.un", OpCltUn, InlineNone, 2, 1},
	{"ldftn", OpLdftn, InlineMethod, 0, 1},
	{"ldvirtftn", OpLdvirtftn, InlineMethod, 1, 1},
	{"ldarg", OpLdarg, InlineVar, 0, 1},
	{"ldarga", OpLdarga, InlineVar, 0, 1},
	{"starg", OpStarg, InlineVar, 1, 0},
	{"ldloc", OpLdloc, InlineVar, 0, 1},
	{"ldloca", OpLdloca, InlineVar, 0, 1},
	{"stloc", OpStloc, InlineVar, 1, 0},
	{"localloc", OpLocalloc, InlineNone, 1, 1},
	{"endfilter", OpEndfilter, InlineNone, 1, 0},
	{"unaligned.", OpUnaligned, ShortInlineI, 0, 0},
	{"volatile.", OpVolatile, InlineNone, 0, 0},
	{"tail.", OpTail, InlineNone, 0, 0},
	{"initobj", OpInitobj, InlineType, 1, 0},
	{"constrained.", OpConstrained, InlineType, 0, 0},
	{"cpblk", OpCpblk, InlineNone, 3, 0},
	{"initblk", OpInitblk, InlineNone, 3, 0},
	{"no.", OpNo, ShortInlineI, 0, 0},
	{"rethrow", OpRethrow, InlineNone, 0, 0},
	{"sizeof", OpSizeof, InlineType, 0, 1},
	{"refanytype", OpRefanytype, InlineNone, 1, 1},
	{"readonly.", OpReadonly, InlineNone, 0, 0},
}

var (
	oneByteOpCodes [0x100]*OpCode
	twoByteOpCodes [0x20]*OpCode
)

func init() {
	for i := range opcodeList {
		op := &opcodeList[i]
		if op.Code>>8 == 0xFE {
			twoByteOpCodes[op.Code&0xFF] = op
		} else {
			oneByteOpCodes[op.Code] = op
		}
	}
}

// Lookup returns the opcode for a code, or nil if it is not a valid CIL opcode.
func Lookup(c Code) *OpCode {
	if c>>8 == 0xFE {
		if int(c&0xFF) < len(twoByteOpCodes) {
			return twoByteOpCodes[c&0xFF]
		}
		return nil
	}
	if c > 0xFF {
		return nil
	}
	return oneByteOpCodes[c]
}
