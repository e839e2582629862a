// Package legalize implements the second pipeline stage: rewriting generic
// machine IR until every (operation, type) pair is one the capability table
// declares legal. The rewrite strategies come from the table; this package
// only knows how to apply them. Inserted sequences preserve the source
// semantics exactly, including edge values such as shift amounts at or above
// the operand width.
package legalize

import (
	"log/slog"

	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

const stageName = "legalize"

// Record notes why one instruction was rewritten. Records exist for
// diagnostics only; later stages do not depend on them.
type Record struct {
	Block  int
	Instr  int // arena index of the rewritten instruction
	Op     mir.Op
	From   mir.Type
	To     mir.Type
	Action target.Action
}

// Legalizer rewrites one function at a time. Zero value is not usable; call
// New.
type Legalizer struct {
	tbl     *target.Table
	log     *slog.Logger
	records []Record
}

func New(tbl *target.Table) *Legalizer {
	return &Legalizer{tbl: tbl, log: slog.Default()}
}

// Records returns the rewrite log of the most recent Run.
func (l *Legalizer) Records() []Record { return l.records }

// Run drives the function to a fixed point. The pass count is bounded by the
// longest legalization chain the table declares; exceeding it means the
// table is misconfigured in a way validation could not see, and the function
// fails rather than looping.
func (l *Legalizer) Run(f *mir.Function) error {
	l.records = l.records[:0]
	maxPasses := l.tbl.MaxChain() + 2
	for pass := 0; ; pass++ {
		changed, err := l.pass(f)
		if err != nil {
			return err
		}
		if !changed {
			break
		}
		if pass >= maxPasses {
			return diag.Errf(stageName, f.Name, -1, -1, "",
				"no fixed point after %d passes; capability table for %s declares an unbounded chain",
				pass+1, l.tbl.Name)
		}
	}
	if err := f.Verify(); err != nil {
		return diag.Errf(stageName, f.Name, -1, -1, "", "produced malformed function: %v", err)
	}
	return nil
}

// pass scans every instruction once. Instructions are visited in block
// order, so operands are legalized before the operations that consume them
// and already-legal code is never rewritten again.
func (l *Legalizer) pass(f *mir.Function) (bool, error) {
	changed := false
	for bi := range f.Blocks {
		for pos := 0; pos < len(f.Blocks[bi].Instrs); pos++ {
			idx := f.Blocks[bi].Instrs[pos]
			in := f.Instr(idx)
			if in.Op == mir.OpNop || in.Flags&mir.FlagLegalized != 0 {
				continue
			}
			key := keyType(f, in)
			rule, ok := l.tbl.RuleFor(in.Op, key)
			if !ok {
				return false, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
					"capability table for %s has no rule at %s", l.tbl.Name, key)
			}
			if rule.Action == target.ActionLegal {
				continue
			}

			l.log.Debug("legalizing",
				"fn", f.Name, "op", l.tbl.OpName(in.Op), "type", key.String(),
				"action", rule.Action.String())

			var grew int
			var err error
			switch rule.Action {
			case target.ActionWiden, target.ActionPromote:
				grew, err = l.widen(f, bi, pos, rule.Wide)
			case target.ActionNarrow:
				grew, err = l.narrow(f, bi, pos)
			case target.ActionExpand:
				grew, err = l.expand(f, bi, pos)
			case target.ActionLibcall:
				grew, err = l.libcall(f, bi, pos, rule.LibCall)
			default:
				err = diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
					"rule at %s declares no usable action", key)
			}
			if err != nil {
				return false, err
			}
			l.records = append(l.records, Record{
				Block: bi, Instr: idx, Op: f.Instr(idx).Op,
				From: key, To: f.Instr(idx).Type, Action: rule.Action,
			})
			pos += grew
			changed = true
		}
	}
	return changed, nil
}

// keyType picks the type legality is keyed on: the result type when there is
// one, otherwise the type of the first register operand (stores, branches on
// a condition), otherwise the zero type matched by full-wildcard rules.
// Comparisons key on their operand type, not their boolean result.
func keyType(f *mir.Function, in *mir.Instr) mir.Type {
	switch in.Op {
	case mir.OpICmp, mir.OpFCmp, mir.OpStore:
		for _, a := range in.Args {
			if a.Kind == mir.OperandReg {
				return f.RegType(a.Reg)
			}
		}
		return mir.Type{}
	}
	if in.Type.Valid() {
		return in.Type
	}
	for _, a := range in.Args {
		if a.Kind == mir.OperandReg {
			return f.RegType(a.Reg)
		}
	}
	return mir.Type{}
}
