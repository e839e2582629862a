package legalize

import (
	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/mir"
)

// widen rewrites the instruction at (bi, pos) to operate at the wider type:
// register operands are extended according to the operation's signedness,
// the operation itself is retyped, and the result is truncated back.
// Promote shares this path; the only difference a target could observe is
// the choice of wide type, which the rule already resolved.
func (l *Legalizer) widen(f *mir.Function, bi, pos int, wide mir.Type) (int, error) {
	idx := f.Blocks[bi].Instrs[pos]
	in := *f.Instr(idx)
	old := in.Type
	grew := 0

	if wide.Class != mir.ClassInt {
		return 0, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"cannot widen to non-integer type %s", wide)
	}
	if wide == old {
		return 0, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"widen rule resolves to the same type %s", old)
	}

	ext := func(argIdx int, signed bool) error {
		a := in.Args[argIdx]
		if a.Kind != mir.OperandReg {
			return nil // immediates are width-agnostic
		}
		if f.RegType(a.Reg).Class != mir.ClassInt {
			return diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
				"cannot widen non-integer operand %%%d", a.Reg)
		}
		op := mir.OpZExt
		if signed {
			op = mir.OpSExt
		}
		r := f.NewReg(wide)
		f.InsertBefore(bi, pos+grew, mir.Instr{
			Op: op, Result: r, Type: wide, Args: []mir.Operand{a},
		})
		grew++
		in.Args[argIdx] = mir.RegOp(r)
		return nil
	}

	retype := true
	switch in.Op {
	case mir.OpICmp:
		pred := mir.Cond(in.Args[0].Imm)
		signed := pred >= mir.CondLt && pred <= mir.CondGe
		if err := ext(1, signed); err != nil {
			return grew, err
		}
		if err := ext(2, signed); err != nil {
			return grew, err
		}
		retype = false // the boolean result keeps its type
	case mir.OpShl, mir.OpLShr, mir.OpAShr:
		if err := ext(0, in.Op == mir.OpAShr); err != nil {
			return grew, err
		}
		if err := ext(1, false); err != nil {
			return grew, err
		}
	case mir.OpSelect:
		if err := ext(1, false); err != nil {
			return grew, err
		}
		if err := ext(2, false); err != nil {
			return grew, err
		}
	case mir.OpFCmp, mir.OpStore, mir.OpLoad:
		return 0, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
			"operation cannot be widened")
	default:
		for i := range in.Args {
			if err := ext(i, in.Op.Signed()); err != nil {
				return grew, err
			}
		}
	}

	instr := f.Instr(idx)
	instr.Args = in.Args
	if retype {
		if in.Result == 0 {
			return grew, diag.Errf(stageName, f.Name, bi, idx, l.tbl.OpName(in.Op),
				"widen rule on an operation with no result")
		}
		wideRes := f.NewReg(wide)
		instr.Result = wideRes
		instr.Type = wide
		f.InsertAfter(bi, pos+grew, mir.Instr{
			Op: mir.OpTrunc, Result: in.Result, Type: old,
			Args: []mir.Operand{mir.RegOp(wideRes)},
		})
	}
	return grew, nil
}
