package dotnet

import (
	"strconv"
	"strings"
)

// MethodAttributes are the Flags of a Method row.
type MethodAttributes uint16

const (
	MethodPrivateScope          MethodAttributes = 0x0000
	MethodPrivate               MethodAttributes = 0x0001
	MethodFamANDAssem           MethodAttributes = 0x0002
	MethodAssembly              MethodAttributes = 0x0003
	MethodFamily                MethodAttributes = 0x0004
	MethodFamORAssem            MethodAttributes = 0x0005
	MethodPublic                MethodAttributes = 0x0006
	MethodMemberAccessMask      MethodAttributes = 0x0007
	MethodUnmanagedExport       MethodAttributes = 0x0008
	MethodStatic                MethodAttributes = 0x0010
	MethodFinal                 MethodAttributes = 0x0020
	MethodVirtual               MethodAttributes = 0x0040
	MethodHideBySig             MethodAttributes = 0x0080
	MethodVtableLayoutMask      MethodAttributes = 0x0100
	MethodCheckAccessOnOverride MethodAttributes = 0x0200
	MethodAbstract              MethodAttributes = 0x0400
	MethodSpecialName           MethodAttributes = 0x0800
	MethodRTSpecialName         MethodAttributes = 0x1000
	MethodPinvokeImpl           MethodAttributes = 0x2000
	MethodHasSecurity           MethodAttributes = 0x4000
	MethodRequireSecObject      MethodAttributes = 0x8000
	MethodReservedMask          MethodAttributes = 0xD000
)

// methodAttributeNames is sorted by value. Where the runtime defines two
// names for one value, the one it prints is listed.
var methodAttributeNames = []struct {
	value MethodAttributes
	name  string
}{
	{MethodPrivateScope, "PrivateScope"},
	{MethodPrivate, "Private"},
	{MethodFamANDAssem, "FamANDAssem"},
	{MethodAssembly, "Assembly"},
	{MethodFamily, "Family"},
	{MethodFamORAssem, "FamORAssem"},
	{MethodPublic, "Public"},
	{MethodMemberAccessMask, "MemberAccessMask"},
	{MethodUnmanagedExport, "UnmanagedExport"},
	{MethodStatic, "Static"},
	{MethodFinal, "Final"},
	{MethodVirtual, "Virtual"},
	{MethodHideBySig, "HideBySig"},
	{MethodVtableLayoutMask, "VtableLayoutMask"},
	{MethodCheckAccessOnOverride, "CheckAccessOnOverride"},
	{MethodAbstract, "Abstract"},
	{MethodSpecialName, "SpecialName"},
	{MethodRTSpecialName, "RTSpecialName"},
	{MethodPinvokeImpl, "PinvokeImpl"},
	{MethodHasSecurity, "HasSecurity"},
	{MethodRequireSecObject, "RequireSecObject"},
	{MethodReservedMask, "ReservedMask"},
}

// String formats the flags the way .NET Framework formats a
// System.Reflection.MethodAttributes value, e.g.
// "PrivateScope, Public, Static, HideBySig". The zero value is "ReuseSlot".
func (a MethodAttributes) String() string {
	if a == 0 {
		return "ReuseSlot"
	}

	rest := a
	var picked []string
	for i := len(methodAttributeNames) - 1; i > 0; i-- {
		v := methodAttributeNames[i].value
		if rest&v == v {
			rest -= v
			picked = append(picked, methodAttributeNames[i].name)
			if rest == 0 {
				break
			}
		}
	}
	if rest != 0 {
		return strconv.Itoa(int(a))
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return methodAttributeNames[0].name + ", " + strings.Join(picked, ", ")
}

// IsStatic reports whether the Static bit is set.
func (a MethodAttributes) IsStatic() bool {
	return a&MethodStatic != 0
}
