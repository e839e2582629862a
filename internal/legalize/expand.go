package legalize

import (
	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/mir"
)

// narrow splits the instruction at (bi, pos) into operations at half the
// width. Halves travel through unpacklo/unpackhi and recombine with pack,
// which the external allocator maps onto register pairs. Addition and
// subtraction thread an explicit carry computed with an unsigned compare.
func (l *Legalizer) narrow(f *mir.Function, bi, pos int) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	old := in.Type
	if old.Class != mir.ClassInt || old.Bits%2 != 0 {
		return 0, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"cannot narrow type %s", old)
	}
	half := mir.Int(old.Bits / 2)
	grew := 0

	emit := func(instr mir.Instr) mir.Reg {
		if instr.Result == 0 {
			instr.Result = f.NewReg(instr.Type)
		}
		f.InsertBefore(bi, pos+grew, instr)
		grew++
		return instr.Result
	}

	halves := func(a mir.Operand) (lo, hi mir.Operand, err error) {
		switch a.Kind {
		case mir.OperandImm:
			mask := int64(-1)
			if half.Bits < 64 {
				mask = (1 << half.Bits) - 1
			}
			return mir.ImmOp(a.Imm & mask), mir.ImmOp((a.Imm >> (old.Bits / 2)) & mask), nil
		case mir.OperandReg:
			lor := emit(mir.Instr{Op: mir.OpUnpackLo, Type: half, Args: []mir.Operand{a}})
			hir := emit(mir.Instr{Op: mir.OpUnpackHi, Type: half, Args: []mir.Operand{a}})
			return mir.RegOp(lor), mir.RegOp(hir), nil
		default:
			return mir.Operand{}, mir.Operand{}, diag.Errf(stageName, f.Name, bi, idx,
				l.tbl.OpName(in.Op), "cannot narrow operand kind %d", a.Kind)
		}
	}

	if len(in.Args) != 2 {
		return 0, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"narrow rule on an operation with %d operands", len(in.Args))
	}
	xlo, xhi, err := halves(in.Args[0])
	if err != nil {
		return grew, err
	}
	ylo, yhi, err := halves(in.Args[1])
	if err != nil {
		return grew, err
	}

	var lo, hi mir.Reg
	switch in.Op {
	case mir.OpAnd, mir.OpOr, mir.OpXor:
		lo = emit(mir.Instr{Op: in.Op, Type: half, Args: []mir.Operand{xlo, ylo}})
		hi = emit(mir.Instr{Op: in.Op, Type: half, Args: []mir.Operand{xhi, yhi}})
	case mir.OpAdd:
		lo = emit(mir.Instr{Op: mir.OpAdd, Type: half, Args: []mir.Operand{xlo, ylo}})
		carry := emit(mir.Instr{Op: mir.OpICmp, Type: half, Args: []mir.Operand{
			mir.ImmOp(int64(mir.CondULt)), mir.RegOp(lo), xlo,
		}})
		sum := emit(mir.Instr{Op: mir.OpAdd, Type: half, Args: []mir.Operand{xhi, yhi}})
		hi = emit(mir.Instr{Op: mir.OpAdd, Type: half, Args: []mir.Operand{
			mir.RegOp(sum), mir.RegOp(carry),
		}})
	case mir.OpSub:
		borrow := emit(mir.Instr{Op: mir.OpICmp, Type: half, Args: []mir.Operand{
			mir.ImmOp(int64(mir.CondULt)), xlo, ylo,
		}})
		lo = emit(mir.Instr{Op: mir.OpSub, Type: half, Args: []mir.Operand{xlo, ylo}})
		dif := emit(mir.Instr{Op: mir.OpSub, Type: half, Args: []mir.Operand{xhi, yhi}})
		hi = emit(mir.Instr{Op: mir.OpSub, Type: half, Args: []mir.Operand{
			mir.RegOp(dif), mir.RegOp(borrow),
		}})
	default:
		return grew, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"no narrowing defined for operation")
	}

	*f.Instr(idx) = mir.Instr{
		Op: mir.OpPack, Result: in.Result, Type: old,
		Args: []mir.Operand{mir.RegOp(hi), mir.RegOp(lo)},
	}
	return grew, nil
}

// expand rewrites the instruction into an equivalent sequence of other
// generic operations. The table declares expand where the hardware's native
// behavior differs from source semantics (shift amounts at or above the
// width) or where no single instruction exists (rotates, remainders).
func (l *Legalizer) expand(f *mir.Function, bi, pos int) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	switch in.Op {
	case mir.OpShl, mir.OpLShr, mir.OpAShr:
		return l.expandShift(f, bi, pos)
	case mir.OpRotl:
		return l.expandRotl(f, bi, pos)
	case mir.OpSRem, mir.OpURem:
		return l.expandRem(f, bi, pos)
	default:
		return 0, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"no expansion defined for operation")
	}
}

// expandShift pins down the source semantics for out-of-range shift amounts:
// a shift by >= width yields the fully shifted-out value (zero, or the sign
// fill for arithmetic shifts), never whatever the hardware's masked shift
// would produce. The emitted same-op shift is marked final so the next pass
// does not expand it again.
func (l *Legalizer) expandShift(f *mir.Function, bi, pos int) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	ty := in.Type
	bits := int64(ty.Bits)
	x, amt := in.Args[0], in.Args[1]
	grew := 0

	emit := func(instr mir.Instr) mir.Reg {
		if instr.Result == 0 {
			instr.Result = f.NewReg(instr.Type)
		}
		f.InsertBefore(bi, pos+grew, instr)
		grew++
		return instr.Result
	}

	if k, ok := constValue(f, amt); ok {
		// Constant amount: resolve the range check now.
		if k >= 0 && k < bits {
			f.Instr(idx).Flags |= mir.FlagLegalized
			return 0, nil
		}
		switch in.Op {
		case mir.OpAShr:
			*f.Instr(idx) = mir.Instr{
				Op: mir.OpAShr, Result: in.Result, Type: ty,
				Args:  []mir.Operand{x, mir.ImmOp(bits - 1)},
				Flags: mir.FlagLegalized,
			}
		default:
			*f.Instr(idx) = mir.Instr{
				Op: mir.OpConst, Result: in.Result, Type: ty,
				Args: []mir.Operand{mir.ImmOp(0)},
			}
		}
		return 0, nil
	}

	shifted := emit(mir.Instr{
		Op: in.Op, Type: ty, Args: []mir.Operand{x, amt}, Flags: mir.FlagLegalized,
	})
	fill := mir.ImmOp(0)
	if in.Op == mir.OpAShr {
		fr := emit(mir.Instr{
			Op: mir.OpAShr, Type: ty,
			Args:  []mir.Operand{x, mir.ImmOp(bits - 1)},
			Flags: mir.FlagLegalized,
		})
		fill = mir.RegOp(fr)
	}
	inBounds := emit(mir.Instr{Op: mir.OpICmp, Type: ty, Args: []mir.Operand{
		mir.ImmOp(int64(mir.CondULt)), amt, mir.ImmOp(bits),
	}})
	*f.Instr(idx) = mir.Instr{
		Op: mir.OpSelect, Result: in.Result, Type: ty,
		Args: []mir.Operand{mir.RegOp(inBounds), mir.RegOp(shifted), fill},
	}
	return grew, nil
}

// constValue resolves an operand to a compile-time constant, looking
// through a register to its const definition.
func constValue(f *mir.Function, a mir.Operand) (int64, bool) {
	switch a.Kind {
	case mir.OperandImm:
		return a.Imm, true
	case mir.OperandReg:
		if idx, ok := f.Defs()[a.Reg]; ok {
			def := f.Instr(idx)
			if def.Op == mir.OpConst && len(def.Args) == 1 && def.Args[0].Kind == mir.OperandImm {
				return def.Args[0].Imm, true
			}
		}
	}
	return 0, false
}

// expandRotl lowers a left rotate into shifts and a mask; rotation amounts
// are cyclic, so both shift amounts stay within range by construction.
func (l *Legalizer) expandRotl(f *mir.Function, bi, pos int) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	ty := in.Type
	bits := int64(ty.Bits)
	x, amt := in.Args[0], in.Args[1]
	grew := 0

	emit := func(instr mir.Instr) mir.Reg {
		if instr.Result == 0 {
			instr.Result = f.NewReg(instr.Type)
		}
		f.InsertBefore(bi, pos+grew, instr)
		grew++
		return instr.Result
	}

	// Both shift amounts are masked below the width, so the shifts go back
	// through normal legalization without tripping the range fixup... but
	// they are not flagged final: a narrower-than-legal rotate still needs
	// its shifts widened.
	amtM := emit(mir.Instr{Op: mir.OpAnd, Type: ty, Args: []mir.Operand{amt, mir.ImmOp(bits - 1)}})
	left := emit(mir.Instr{Op: mir.OpShl, Type: ty, Args: []mir.Operand{x, mir.RegOp(amtM)}})
	cbits := emit(mir.Instr{Op: mir.OpConst, Type: ty, Args: []mir.Operand{mir.ImmOp(bits)}})
	rev := emit(mir.Instr{Op: mir.OpSub, Type: ty, Args: []mir.Operand{mir.RegOp(cbits), mir.RegOp(amtM)}})
	revM := emit(mir.Instr{Op: mir.OpAnd, Type: ty, Args: []mir.Operand{mir.RegOp(rev), mir.ImmOp(bits - 1)}})
	right := emit(mir.Instr{Op: mir.OpLShr, Type: ty, Args: []mir.Operand{x, mir.RegOp(revM)}})
	*f.Instr(idx) = mir.Instr{
		Op: mir.OpOr, Result: in.Result, Type: ty,
		Args: []mir.Operand{mir.RegOp(left), mir.RegOp(right)},
	}
	return grew, nil
}

// expandRem computes the remainder from the quotient: a - (a/b)*b.
func (l *Legalizer) expandRem(f *mir.Function, bi, pos int) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	ty := in.Type
	div := mir.OpUDiv
	if in.Op == mir.OpSRem {
		div = mir.OpSDiv
	}
	a, b := in.Args[0], in.Args[1]
	grew := 0

	emit := func(instr mir.Instr) mir.Reg {
		instr.Result = f.NewReg(instr.Type)
		f.InsertBefore(bi, pos+grew, instr)
		grew++
		return instr.Result
	}

	q := emit(mir.Instr{Op: div, Type: ty, Args: []mir.Operand{a, b}})
	m := emit(mir.Instr{Op: mir.OpMul, Type: ty, Args: []mir.Operand{mir.RegOp(q), b}})
	*f.Instr(idx) = mir.Instr{
		Op: mir.OpSub, Result: in.Result, Type: ty,
		Args: []mir.Operand{a, mir.RegOp(m)},
	}
	return grew, nil
}

// libcall replaces the instruction with a runtime call marshalled through
// the same calling-convention descriptor the translator uses.
func (l *Legalizer) libcall(f *mir.Function, bi, pos int, sym string) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	grew := 0

	emit := func(instr mir.Instr) {
		f.InsertBefore(bi, pos+grew, instr)
		grew++
	}

	var args []mir.Operand
	var types []mir.Type
	for _, a := range in.Args {
		switch a.Kind {
		case mir.OperandReg:
			args = append(args, a)
			types = append(types, f.RegType(a.Reg))
		case mir.OperandImm:
			r := f.NewReg(in.Type)
			emit(mir.Instr{Op: mir.OpConst, Result: r, Type: in.Type, Args: []mir.Operand{a}})
			args = append(args, mir.RegOp(r))
			types = append(types, in.Type)
		default:
			return grew, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
				"libcall cannot marshal operand kind %d", a.Kind)
		}
	}

	slots := l.tbl.Call.ArgSlots(types)
	for i, a := range args {
		marshal := []mir.Operand{a}
		if slots[i].OnStack {
			marshal = append(marshal, mir.ImmOp(slots[i].Offset), mir.SymOp("stack"))
		} else {
			marshal = append(marshal, mir.SymOp(slots[i].Reg))
		}
		emit(mir.Instr{Op: mir.OpCallArg, Args: marshal})
	}
	emit(mir.Instr{Op: mir.OpCall, Args: []mir.Operand{mir.SymOp(sym)}})
	*f.Instr(idx) = mir.Instr{
		Op: mir.OpCallRet, Result: in.Result, Type: in.Type,
		Args: []mir.Operand{mir.SymOp(l.tbl.Call.RetReg(in.Type))},
	}
	return grew, nil
}
