// Package target describes what a machine can do: which operations are legal
// at which types and banks, how illegal forms are lowered, which instruction
// patterns produce concrete opcodes, and how calls pass their arguments. A
// Table is built once per compilation, validated, and then only read; the
// four pipeline stages contain no target-specific code of their own.
package target

import (
	"fmt"
	"sort"

	"github.com/tinyrange/isel/internal/mir"
)

// FormatVersion is the table format implemented by this package. External
// table files must declare a format with the same major version.
const FormatVersion = "v1.0.0"

// Action says how an (operation, type) pair is handled.
type Action uint8

const (
	ActionNone    Action = iota
	ActionLegal          // selectable as-is
	ActionWiden          // extend operands to a wider type, truncate the result
	ActionNarrow         // split into multiple operations at a narrower type
	ActionPromote        // evaluate at a wider type, truncate the result
	ActionExpand         // rewrite into an equivalent generic sequence
	ActionLibcall        // replace with a runtime library call
)

var actionNames = map[Action]string{
	ActionLegal:   "legal",
	ActionWiden:   "widen",
	ActionNarrow:  "narrow",
	ActionPromote: "promote",
	ActionExpand:  "expand",
	ActionLibcall: "libcall",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "none"
}

// BankSet is a set of register banks.
type BankSet uint8

// Banks builds a BankSet.
func Banks(bs ...mir.Bank) BankSet {
	var s BankSet
	for _, b := range bs {
		s |= 1 << b
	}
	return s
}

func (s BankSet) Has(b mir.Bank) bool { return s&(1<<b) != 0 }

// First returns the lowest-numbered bank in the set, which makes tie-breaks
// deterministic.
func (s BankSet) First() mir.Bank {
	for b := mir.Bank(1); b < mir.NumBanks; b++ {
		if s.Has(b) {
			return b
		}
	}
	return mir.BankNone
}

// Count returns the number of banks in the set.
func (s BankSet) Count() int {
	n := 0
	for b := mir.Bank(1); b < mir.NumBanks; b++ {
		if s.Has(b) {
			n++
		}
	}
	return n
}

// Rule declares how one (operation, type) combination is handled. A rule's
// Type may be fully wildcard (zero) or width-wildcard (Bits == 0 with a
// class) to cover families of types; exact rules win over wildcards.
type Rule struct {
	Type     mir.Type
	Banks    BankSet   // legal banks for the result and same-class operands
	ArgBanks []BankSet // optional per-argument override (cross-class ops)
	Action   Action
	Wide     mir.Type // widen/promote destination; zero means next legal width
	LibCall  string   // ActionLibcall runtime symbol
}

// Table is the immutable per-target capability description. Build it with
// the Add* methods, call Validate exactly once, then share it freely across
// worker goroutines; nothing mutates it afterwards.
type Table struct {
	Name        string
	Format      string
	PointerBits uint16
	Call        CallConv

	// FusionPairs lists concrete opcodes that the scheduler may fuse with an
	// immediately following conditional branch. Non-empty tables get the
	// fusion hint pass inserted after selection.
	FusionPairs []mir.Op

	rules    map[mir.Op][]Rule
	patterns map[mir.Op][]Pattern

	opNames []string
	opIndex map[string]mir.Op

	maxChain     int
	singleBanked bool
	validated    bool
}

func NewTable(name string) *Table {
	return &Table{
		Name:     name,
		Format:   FormatVersion,
		rules:    make(map[mir.Op][]Rule),
		patterns: make(map[mir.Op][]Pattern),
		opIndex:  make(map[string]mir.Op),
	}
}

// Opcode returns the concrete opcode with the given name, allocating it on
// first use. Only valid while building the table.
func (t *Table) Opcode(name string) mir.Op {
	if op, ok := t.opIndex[name]; ok {
		return op
	}
	if t.validated {
		panic("target: Opcode called after Validate")
	}
	op := mir.FirstTargetOp + mir.Op(len(t.opNames))
	t.opNames = append(t.opNames, name)
	t.opIndex[name] = op
	return op
}

// OpcodeByName resolves an already-allocated concrete opcode.
func (t *Table) OpcodeByName(name string) (mir.Op, bool) {
	op, ok := t.opIndex[name]
	return op, ok
}

// OpName names any opcode, generic or concrete.
func (t *Table) OpName(op mir.Op) string {
	if op >= mir.FirstTargetOp {
		i := int(op - mir.FirstTargetOp)
		if i < len(t.opNames) {
			return t.opNames[i]
		}
	}
	return op.String()
}

// AddRule appends a legality rule for op.
func (t *Table) AddRule(op mir.Op, r Rule) {
	if t.validated {
		panic("target: AddRule called after Validate")
	}
	t.rules[op] = append(t.rules[op], r)
}

// AddPattern appends an instruction pattern.
func (t *Table) AddPattern(p Pattern) {
	if t.validated {
		panic("target: AddPattern called after Validate")
	}
	t.patterns[p.Op] = append(t.patterns[p.Op], p)
}

// HasOp reports whether the table knows the operation at all. Absence is a
// configuration error surfaced by the translator, never a silent no-op.
func (t *Table) HasOp(op mir.Op) bool {
	_, ok := t.rules[op]
	return ok
}

// RuleFor resolves the rule governing (op, ty): exact type match first, then
// width wildcard of the same class, then the fully wildcard rule. A widen or
// promote rule with a zero Wide type is resolved to the next legal width the
// table declares for the operation.
func (t *Table) RuleFor(op mir.Op, ty mir.Type) (Rule, bool) {
	rules := t.rules[op]
	best := -1
	for i, r := range rules {
		if r.Type == ty {
			best = i
			break
		}
	}
	if best < 0 {
		for i, r := range rules {
			if r.Type.Bits == 0 && r.Type.Class == ty.Class && r.Type.Class != mir.ClassNone {
				best = i
				break
			}
		}
	}
	if best < 0 {
		for i, r := range rules {
			if r.Type == (mir.Type{}) {
				best = i
				break
			}
		}
	}
	if best < 0 {
		return Rule{}, false
	}
	r := rules[best]
	if (r.Action == ActionWiden || r.Action == ActionPromote) && !r.Wide.Valid() {
		wide, ok := t.nextLegalWidth(op, ty)
		if !ok {
			return Rule{}, false
		}
		r.Wide = wide
	}
	return r, true
}

// nextLegalWidth finds the narrowest width the table handles directly
// (legal or expand) for op at ty's class that is at least ty's width.
func (t *Table) nextLegalWidth(op mir.Op, ty mir.Type) (mir.Type, bool) {
	var widths []uint16
	for _, r := range t.rules[op] {
		if (r.Action == ActionLegal || r.Action == ActionExpand) &&
			r.Type.Class == ty.Class && r.Type.Bits >= ty.Bits {
			widths = append(widths, r.Type.Bits)
		}
	}
	if len(widths) == 0 {
		return mir.Type{}, false
	}
	sort.Slice(widths, func(i, j int) bool { return widths[i] < widths[j] })
	return mir.Type{Bits: widths[0], Class: ty.Class}, true
}

// Legal reports whether (op, ty, bank) is directly selectable. BankNone
// matches any legal bank (used before bank assignment).
func (t *Table) Legal(op mir.Op, ty mir.Type, bank mir.Bank) bool {
	r, ok := t.RuleFor(op, ty)
	if !ok || r.Action != ActionLegal {
		return false
	}
	return bank == mir.BankNone || r.Banks.Has(bank)
}

// PatternsFor returns the patterns for op in priority order. The slice is
// shared and must not be mutated.
func (t *Table) PatternsFor(op mir.Op) []Pattern { return t.patterns[op] }

// MaxChain is the longest declared legalization chain, computed during
// validation. It bounds the legalizer's fixed-point iteration.
func (t *Table) MaxChain() int { return t.maxChain }

// SingleBanked reports whether every declared rule admits at most one bank,
// which lets the pipeline skip bank selection entirely.
func (t *Table) SingleBanked() bool { return t.singleBanked }

// GenericOps returns the generic operations the table declares rules for, in
// opcode order.
func (t *Table) GenericOps() []mir.Op {
	ops := make([]mir.Op, 0, len(t.rules))
	for op := range t.rules {
		if op.Generic() {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

func (t *Table) String() string {
	return fmt.Sprintf("target %s (%d ops, %d opcodes)", t.Name, len(t.rules), len(t.opNames))
}
