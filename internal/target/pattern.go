package target

import "github.com/tinyrange/isel/internal/mir"

// Constraint restricts what an operand (or a pattern's result) may be. Zero
// fields are unconstrained.
type Constraint struct {
	Type   mir.Type
	Banks  BankSet
	FromOp mir.Op // operand must be a register defined by this generic op
	Imm    bool   // operand must be an immediate (constants fold to match)
}

// Admits reports whether the constraint allows a value of (ty, bank).
func (c Constraint) Admits(ty mir.Type, bank mir.Bank) bool {
	if c.Type.Valid() && c.Type != ty {
		return false
	}
	if c.Banks != 0 && bank != mir.BankNone && !c.Banks.Has(bank) {
		return false
	}
	return true
}

// ArgRef says where one operand of an emitted instruction comes from.
type ArgRef struct {
	Arg int    // index of the matched root operand; -1 for Lit/Sym refs
	Sub int    // operand index within the fused producer; -1 for the operand itself
	Lit *int64 // literal immediate
	Sym string // literal symbol
}

// RootArg references root operand i directly.
func RootArg(i int) ArgRef { return ArgRef{Arg: i, Sub: -1} }

// SubArg references operand j of the producer fused at root operand i.
func SubArg(i, j int) ArgRef { return ArgRef{Arg: i, Sub: j} }

// LitArg emits a literal immediate.
func LitArg(v int64) ArgRef { return ArgRef{Arg: -1, Sub: -1, Lit: &v} }

// SymRef emits a literal symbol operand.
func SymRef(s string) ArgRef { return ArgRef{Arg: -1, Sub: -1, Sym: s} }

// Template is one concrete instruction emitted when a pattern matches.
type Template struct {
	Opcode mir.Op
	Args   []ArgRef
	Def    bool // this instruction defines the matched root's result
	Term   bool // this instruction terminates the block
}

// Pattern maps a shape of generic operations onto concrete instructions.
// Patterns for the same root operation are tried in descending Pri order;
// ties keep declaration order, so selection is deterministic.
type Pattern struct {
	Op     mir.Op
	Pri    int
	Result Constraint
	Args   []Constraint
	Emit   []Template
}
