// Package isel implements the final pipeline stage: matching legalized,
// bank-assigned generic operations against the target's instruction
// patterns and emitting concrete machine instructions. Patterns are tried in
// the priority order the table fixed at validation, and all iteration is
// over ordered lists, so the output is bit-for-bit reproducible.
package isel

import (
	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

const stageName = "isel"

// Run selects every generic instruction in f. A legal, bank-assigned
// operation with no matching pattern is a configuration defect: legalization
// guaranteed a matchable form existed, so the function fails with a
// diagnostic naming the operation and its type and bank.
func Run(f *mir.Function, tbl *target.Table) error {
	s := &selector{
		f:     f,
		tbl:   tbl,
		defs:  f.Defs(),
		block: blockIndex(f),
	}
	s.useCount = make(map[mir.Reg]int)
	for r, u := range f.Uses() {
		s.useCount[r] = len(u)
	}

	// Bottom-up within each block: consumers match before their producers,
	// so a pattern can still fold a producer that would otherwise have been
	// selected on its own. Replacements are positional, so output order is
	// unaffected by scan order.
	for bi := range f.Blocks {
		for pos := len(f.Blocks[bi].Instrs) - 1; pos >= 0; pos-- {
			idx := f.Blocks[bi].Instrs[pos]
			in := f.Instr(idx)
			if in.Op == mir.OpNop || in.Op >= mir.FirstTargetOp {
				continue
			}
			if err := s.selectRoot(bi, pos, idx); err != nil {
				return err
			}
		}
	}

	f.Compact()
	if err := f.Verify(); err != nil {
		return diag.Errf(stageName, f.Name, -1, -1, "", "produced malformed function: %v", err)
	}
	return nil
}

type selector struct {
	f        *mir.Function
	tbl      *target.Table
	defs     map[mir.Reg]int
	useCount map[mir.Reg]int
	block    map[int]int // arena index -> block index
}

// matchState records what a successful match consumed.
type matchState struct {
	fused  map[int]int   // root arg index -> arena index of the fused producer
	folded map[int]int64 // root arg index -> folded constant value
}

func (s *selector) selectRoot(bi, pos, idx int) error {
	root := *s.f.Instr(idx)
	for _, p := range s.tbl.PatternsFor(root.Op) {
		st, ok := s.match(&root, bi, &p)
		if !ok {
			continue
		}
		s.emit(bi, pos, idx, &root, &p, st)
		return nil
	}

	ty := root.Type
	bank := mir.BankNone
	if root.Result != 0 {
		ty = s.f.RegType(root.Result)
		bank = s.f.RegBank(root.Result)
	}
	return diag.Errf(stageName, s.f.Name, bi, idx, s.tbl.OpName(root.Op),
		"no pattern matches legal operation (type %s, bank %s)", ty, bank)
}

func (s *selector) match(root *mir.Instr, bi int, p *target.Pattern) (*matchState, bool) {
	if root.Result != 0 && !p.Result.Admits(s.f.RegType(root.Result), s.f.RegBank(root.Result)) {
		return nil, false
	}
	if len(p.Args) > 0 && len(p.Args) != len(root.Args) {
		return nil, false
	}
	st := &matchState{fused: map[int]int{}, folded: map[int]int64{}}
	for i, c := range p.Args {
		a := root.Args[i]
		if c.FromOp != 0 {
			didx, ok := s.fusableDef(a, bi, c.FromOp)
			if !ok {
				return nil, false
			}
			d := s.f.Instr(didx)
			if d.Result != 0 && !c.Admits(s.f.RegType(d.Result), s.f.RegBank(d.Result)) {
				return nil, false
			}
			st.fused[i] = didx
			continue
		}
		if c.Imm {
			switch a.Kind {
			case mir.OperandImm:
				// matches directly
			case mir.OperandReg:
				didx, ok := s.fusableDef(a, bi, mir.OpConst)
				if !ok {
					return nil, false
				}
				d := s.f.Instr(didx)
				if len(d.Args) != 1 || d.Args[0].Kind != mir.OperandImm {
					return nil, false
				}
				st.fused[i] = didx
				st.folded[i] = d.Args[0].Imm
			default:
				return nil, false
			}
			continue
		}
		switch a.Kind {
		case mir.OperandReg:
			if !c.Admits(s.f.RegType(a.Reg), s.f.RegBank(a.Reg)) {
				return nil, false
			}
		default:
			// A bank or type constraint implies a register operand. Fully
			// unconstrained slots admit blocks, symbols and immediates.
			if c.Banks != 0 || c.Type.Valid() {
				return nil, false
			}
		}
	}
	return st, true
}

// fusableDef reports the producer of a register operand when it can be
// folded into the consumer: defined by the wanted op, in the same block,
// and consumed nowhere else.
func (s *selector) fusableDef(a mir.Operand, bi int, want mir.Op) (int, bool) {
	if a.Kind != mir.OperandReg {
		return 0, false
	}
	didx, ok := s.defs[a.Reg]
	if !ok || s.block[didx] != bi || s.useCount[a.Reg] != 1 {
		return 0, false
	}
	d := s.f.Instr(didx)
	if d.Op != want {
		return 0, false
	}
	return didx, true
}

// emit replaces the root (and any consumed producers) with the pattern's
// template instructions.
func (s *selector) emit(bi, pos, idx int, root *mir.Instr, p *target.Pattern, st *matchState) {
	instrs := make([]mir.Instr, 0, len(p.Emit))
	for _, tmpl := range p.Emit {
		out := mir.Instr{Op: tmpl.Opcode}
		if tmpl.Term {
			out.Flags |= mir.FlagTerm
		}
		if tmpl.Def {
			out.Result = root.Result
			out.Type = root.Type
		}
		for _, ref := range tmpl.Args {
			out.Args = append(out.Args, s.resolveRef(root, st, ref))
		}
		instrs = append(instrs, out)
	}

	for _, didx := range st.fused {
		s.f.Remove(didx)
	}

	*s.f.Instr(idx) = instrs[0]
	at := pos
	for _, in := range instrs[1:] {
		s.f.InsertAfter(bi, at, in)
		at++
	}
}

func (s *selector) resolveRef(root *mir.Instr, st *matchState, ref target.ArgRef) mir.Operand {
	if ref.Lit != nil {
		return mir.ImmOp(*ref.Lit)
	}
	if ref.Sym != "" {
		return mir.SymOp(ref.Sym)
	}
	if ref.Sub >= 0 {
		d := s.f.Instr(st.fused[ref.Arg])
		return d.Args[ref.Sub]
	}
	if v, ok := st.folded[ref.Arg]; ok {
		return mir.ImmOp(v)
	}
	return root.Args[ref.Arg]
}

func blockIndex(f *mir.Function) map[int]int {
	m := make(map[int]int)
	for bi := range f.Blocks {
		for _, idx := range f.Blocks[bi].Instrs {
			m[idx] = bi
		}
	}
	return m
}
