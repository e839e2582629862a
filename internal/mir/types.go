// Package mir implements the machine-IR container shared by every lowering
// stage. A Function holds an arena of instructions addressed by index so that
// stages can insert and delete during iteration without invalidating
// references; blocks hold ordered lists of arena indices.
package mir

import "fmt"

// Class is the coarse kind of a value.
type Class uint8

const (
	ClassNone Class = iota
	ClassInt
	ClassFloat
	ClassVector
	ClassPointer
)

func (c Class) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassFloat:
		return "float"
	case ClassVector:
		return "vector"
	case ClassPointer:
		return "pointer"
	default:
		return "none"
	}
}

// Type is a value type: a bit width plus a class. The zero Type means "no
// result" (stores, branches).
type Type struct {
	Bits  uint16
	Class Class
}

func (t Type) Valid() bool { return t.Class != ClassNone && t.Bits > 0 }

func (t Type) String() string {
	switch t.Class {
	case ClassInt:
		return fmt.Sprintf("i%d", t.Bits)
	case ClassFloat:
		return fmt.Sprintf("f%d", t.Bits)
	case ClassVector:
		return fmt.Sprintf("v%d", t.Bits)
	case ClassPointer:
		return fmt.Sprintf("p%d", t.Bits)
	default:
		return "void"
	}
}

// Int returns an integer type of the given width.
func Int(bits uint16) Type { return Type{Bits: bits, Class: ClassInt} }

// Float returns a floating-point type of the given width.
func Float(bits uint16) Type { return Type{Bits: bits, Class: ClassFloat} }

// Vector returns a vector type of the given total width.
func Vector(bits uint16) Type { return Type{Bits: bits, Class: ClassVector} }

// Pointer returns a pointer type of the given width.
func Pointer(bits uint16) Type { return Type{Bits: bits, Class: ClassPointer} }

// ParseType parses the textual form produced by Type.String ("i32", "f64",
// "p64", "v128").
func ParseType(s string) (Type, error) {
	if len(s) < 2 {
		return Type{}, fmt.Errorf("mir: bad type %q", s)
	}
	var class Class
	switch s[0] {
	case 'i':
		class = ClassInt
	case 'f':
		class = ClassFloat
	case 'v':
		class = ClassVector
	case 'p':
		class = ClassPointer
	default:
		return Type{}, fmt.Errorf("mir: bad type %q", s)
	}
	var bits int
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return Type{}, fmt.Errorf("mir: bad type %q", s)
		}
		bits = bits*10 + int(c-'0')
	}
	if bits <= 0 || bits > 4096 {
		return Type{}, fmt.Errorf("mir: bad type width in %q", s)
	}
	return Type{Bits: uint16(bits), Class: class}, nil
}

// Bank is a coarse register bank. It is distinct from the finer physical
// register class assigned by the external allocator.
type Bank uint8

const (
	BankNone Bank = iota
	BankInt
	BankFP
	BankVec

	NumBanks = 4
)

func (b Bank) String() string {
	switch b {
	case BankInt:
		return "gpr"
	case BankFP:
		return "fpr"
	case BankVec:
		return "vec"
	default:
		return "?"
	}
}

// DefaultBank maps a value class to the bank values of that class live in
// when a target does not say otherwise.
func DefaultBank(c Class) Bank {
	switch c {
	case ClassFloat:
		return BankFP
	case ClassVector:
		return BankVec
	default:
		return BankInt
	}
}

// Reg is a virtual register id. Zero is invalid.
type Reg uint32
