// Package ir holds the verified, target-independent form of a function as it
// arrives at the lowering pipeline: typed values, basic blocks, and generic
// operations named by string. The verifier that produces it is an external
// collaborator; this package only rejects structurally impossible input.
package ir

import (
	"fmt"

	"github.com/tinyrange/isel/internal/mir"
)

// Value is a function-scoped value id. Zero is invalid.
type Value int

// ArgKind tags an Arg.
type ArgKind uint8

const (
	ArgValue ArgKind = iota
	ArgConst
	ArgBlock
	ArgSym
)

// Arg is one instruction argument: a value reference, an integer constant, a
// block reference, or a symbol name.
type Arg struct {
	Kind  ArgKind
	Value Value
	Const int64
	Block int
	Sym   string
}

func ValueArg(v Value) Arg { return Arg{Kind: ArgValue, Value: v} }
func ConstArg(c int64) Arg { return Arg{Kind: ArgConst, Const: c} }
func BlockArg(b int) Arg   { return Arg{Kind: ArgBlock, Block: b} }
func SymArg(s string) Arg  { return Arg{Kind: ArgSym, Sym: s} }

// Instr is a generic instruction. Dst is zero for instructions that produce
// no value.
type Instr struct {
	Op   string
	Type mir.Type
	Dst  Value
	Args []Arg
}

type Block struct {
	Instrs []Instr
}

type Param struct {
	Type mir.Type
}

// Function is one unit of pipeline work.
type Function struct {
	Name   string
	Params []Param
	Blocks []Block
}

// Module is an ordered collection of functions compiled together. Functions
// have no data dependency through the pipeline and may be lowered in
// parallel.
type Module struct {
	Name  string
	Funcs []Function
}

// NumValues returns one past the highest value id mentioned anywhere in the
// function, so translation can size its value tables.
func (f *Function) NumValues() int {
	max := Value(len(f.Params))
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Dst > max {
				max = in.Dst
			}
			for _, a := range in.Args {
				if a.Kind == ArgValue && a.Value > max {
					max = a.Value
				}
			}
		}
	}
	return int(max) + 1
}

// Check rejects structurally impossible functions: empty bodies, references
// to missing blocks, instructions with no operation. Full semantic
// verification is the upstream verifier's job; the pipeline assumes it ran.
func (f *Function) Check() error {
	if f.Name == "" {
		return fmt.Errorf("ir: function with empty name")
	}
	if len(f.Blocks) == 0 {
		return fmt.Errorf("ir: function %s has no blocks", f.Name)
	}
	for bi, b := range f.Blocks {
		if len(b.Instrs) == 0 {
			return fmt.Errorf("ir: %s: block %d is empty", f.Name, bi)
		}
		for _, in := range b.Instrs {
			if in.Op == "" {
				return fmt.Errorf("ir: %s: block %d has an instruction with no op", f.Name, bi)
			}
			for _, a := range in.Args {
				if a.Kind == ArgBlock && (a.Block < 0 || a.Block >= len(f.Blocks)) {
					return fmt.Errorf("ir: %s: block %d references missing block %d", f.Name, bi, a.Block)
				}
			}
		}
	}
	return nil
}
