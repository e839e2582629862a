// Package translate implements the first pipeline stage: converting a
// verified, target-independent function into generic machine IR. Operations
// map one-to-one or one-to-few; values become typed virtual registers with
// no bank yet. Calling-convention marshalling comes from the capability
// table's descriptor, never from per-target code here.
package translate

import (
	"fmt"
	"strings"

	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/ir"
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

const stageName = "translate"

// Function lowers one input function into a fresh machine-IR function. A
// construct with no generic lowering, or a generic op absent from the
// capability table, fails the whole function: both indicate a configuration
// defect, not a runtime condition.
func Function(fn *ir.Function, tbl *target.Table) (*mir.Function, error) {
	if err := fn.Check(); err != nil {
		return nil, diag.Errf(stageName, fn.Name, -1, -1, "", "%v", err)
	}

	tr := &translator{
		src:  fn,
		tbl:  tbl,
		out:  mir.NewFunction(fn.Name),
		regs: make([]mir.Reg, fn.NumValues()),
	}
	if err := tr.run(); err != nil {
		return nil, err
	}
	if err := tr.out.Verify(); err != nil {
		return nil, diag.Errf(stageName, fn.Name, -1, -1, "", "produced malformed function: %v", err)
	}
	return tr.out, nil
}

type translator struct {
	src  *ir.Function
	tbl  *target.Table
	out  *mir.Function
	regs []mir.Reg // source value id -> virtual register
}

func (tr *translator) run() error {
	for range tr.src.Blocks {
		tr.out.NewBlock()
	}
	if err := tr.lowerParams(); err != nil {
		return err
	}
	for bi := range tr.src.Blocks {
		for pos := range tr.src.Blocks[bi].Instrs {
			if err := tr.lowerInstr(bi, pos); err != nil {
				return err
			}
		}
	}
	return nil
}

// lowerParams binds incoming arguments to registers using the table's
// calling convention: each parameter becomes one arg instruction carrying
// its assigned slot.
func (tr *translator) lowerParams() error {
	types := make([]mir.Type, len(tr.src.Params))
	for i, p := range tr.src.Params {
		types[i] = p.Type
	}
	slots := tr.tbl.Call.ArgSlots(types)
	for i, p := range tr.src.Params {
		reg := tr.valueReg(ir.Value(i+1), p.Type)
		args := []mir.Operand{mir.ImmOp(int64(i))}
		if slots[i].OnStack {
			args = append(args, mir.ImmOp(slots[i].Offset), mir.SymOp("stack"))
		} else {
			args = append(args, mir.SymOp(slots[i].Reg))
		}
		tr.out.Append(0, mir.Instr{Op: mir.OpArg, Result: reg, Type: p.Type, Args: args})
	}
	return nil
}

func (tr *translator) valueReg(v ir.Value, ty mir.Type) mir.Reg {
	if tr.regs[v] == 0 {
		tr.regs[v] = tr.out.NewReg(ty)
	}
	return tr.regs[v]
}

func (tr *translator) lowerInstr(bi, pos int) error {
	in := &tr.src.Blocks[bi].Instrs[pos]
	fail := func(format string, args ...any) error {
		return diag.Errf(stageName, tr.src.Name, bi, pos, in.Op, format, args...)
	}

	op, pred, ok := resolveOp(in.Op)
	if !ok {
		return fail("no generic lowering defined")
	}
	if !tr.tbl.HasOp(op) {
		return fail("capability table for %s has no entry for operation %q", tr.tbl.Name, op)
	}

	switch op {
	case mir.OpCall:
		return tr.lowerCall(bi, in, fail)
	case mir.OpBr, mir.OpCondBr, mir.OpRet:
		return tr.lowerTerminator(bi, op, in, fail)
	}

	out := mir.Instr{Op: op, Type: in.Type}
	if pred >= 0 {
		out.Args = append(out.Args, mir.ImmOp(int64(pred)))
	}
	for _, a := range in.Args {
		o, err := tr.operand(a)
		if err != nil {
			return fail("%v", err)
		}
		out.Args = append(out.Args, o)
	}
	if in.Dst != 0 {
		if !in.Type.Valid() {
			return fail("value-producing instruction without a result type")
		}
		out.Result = tr.valueReg(in.Dst, in.Type)
	} else if op.HasResult() {
		return fail("missing destination value")
	}
	if op != mir.OpConst && op != mir.OpFConst {
		start := 0
		if pred >= 0 {
			start = 1
		}
		tr.materializeConsts(bi, &out, start)
	}
	tr.out.Append(bi, out)
	return nil
}

// materializeConsts rebinds immediate operands to fresh constant
// definitions so every data operand entering the later stages is a typed
// register. The selector folds single-use constants back into immediate
// instruction forms where a pattern asks for one.
func (tr *translator) materializeConsts(bi int, in *mir.Instr, start int) {
	for i := start; i < len(in.Args); i++ {
		if in.Args[i].Kind != mir.OperandImm {
			continue
		}
		ty := tr.constType(in, i, start)
		op := mir.OpConst
		if ty.Class == mir.ClassFloat {
			op = mir.OpFConst
		}
		r := tr.out.NewReg(ty)
		tr.out.Append(bi, mir.Instr{Op: op, Result: r, Type: ty, Args: []mir.Operand{in.Args[i]}})
		in.Args[i] = mir.RegOp(r)
	}
}

// constType picks the register type for a materialized constant.
// Comparisons type it after the value being compared against, memory
// addresses after the table's pointer width, everything else after the
// instruction type.
func (tr *translator) constType(in *mir.Instr, i, start int) mir.Type {
	switch in.Op {
	case mir.OpICmp, mir.OpFCmp:
		for _, a := range in.Args[start:] {
			if a.Kind == mir.OperandReg {
				return tr.out.RegType(a.Reg)
			}
		}
	case mir.OpLoad:
		if i == start {
			return mir.Pointer(tr.tbl.PointerBits)
		}
	case mir.OpStore:
		if i == start+1 {
			return mir.Pointer(tr.tbl.PointerBits)
		}
	}
	return in.Type
}

// lowerCall marshals arguments per the calling-convention descriptor: one
// callarg per argument carrying its slot, the call itself, then a callret
// binding the result.
func (tr *translator) lowerCall(bi int, in *ir.Instr, fail func(string, ...any) error) error {
	if len(in.Args) == 0 {
		return fail("call without a callee")
	}
	callee, err := tr.operand(in.Args[0])
	if err != nil {
		return fail("%v", err)
	}

	var argTypes []mir.Type
	var argOps []mir.Operand
	for _, a := range in.Args[1:] {
		o, err := tr.operand(a)
		if err != nil {
			return fail("%v", err)
		}
		if o.Kind != mir.OperandReg {
			return fail("call arguments must be values")
		}
		argTypes = append(argTypes, tr.out.RegType(o.Reg))
		argOps = append(argOps, o)
	}

	slots := tr.tbl.Call.ArgSlots(argTypes)
	for i, o := range argOps {
		args := []mir.Operand{o}
		if slots[i].OnStack {
			args = append(args, mir.ImmOp(slots[i].Offset), mir.SymOp("stack"))
		} else {
			args = append(args, mir.SymOp(slots[i].Reg))
		}
		tr.out.Append(bi, mir.Instr{Op: mir.OpCallArg, Args: args})
	}
	tr.out.Append(bi, mir.Instr{Op: mir.OpCall, Args: []mir.Operand{callee}})
	if in.Dst != 0 {
		if !in.Type.Valid() {
			return fail("call result without a type")
		}
		ret := tr.tbl.Call.RetReg(in.Type)
		tr.out.Append(bi, mir.Instr{
			Op:     mir.OpCallRet,
			Result: tr.valueReg(in.Dst, in.Type),
			Type:   in.Type,
			Args:   []mir.Operand{mir.SymOp(ret)},
		})
	}
	return nil
}

func (tr *translator) lowerTerminator(bi int, op mir.Op, in *ir.Instr, fail func(string, ...any) error) error {
	out := mir.Instr{Op: op, Flags: mir.FlagTerm}
	for _, a := range in.Args {
		o, err := tr.operand(a)
		if err != nil {
			return fail("%v", err)
		}
		out.Args = append(out.Args, o)
		if o.Kind == mir.OperandBlock {
			tr.out.Blocks[bi].Succs = append(tr.out.Blocks[bi].Succs, o.Block)
		}
	}
	switch op {
	case mir.OpBr:
		if len(out.Args) != 1 || out.Args[0].Kind != mir.OperandBlock {
			return fail("br takes exactly one block")
		}
	case mir.OpCondBr:
		if len(out.Args) != 3 || out.Args[0].Kind != mir.OperandReg {
			return fail("condbr takes a condition and two blocks")
		}
	}
	tr.out.Append(bi, out)
	return nil
}

func (tr *translator) operand(a ir.Arg) (mir.Operand, error) {
	switch a.Kind {
	case ir.ArgValue:
		reg := tr.regs[a.Value]
		if reg == 0 {
			return mir.Operand{}, fmt.Errorf("value v%d used before definition", a.Value)
		}
		return mir.RegOp(reg), nil
	case ir.ArgConst:
		return mir.ImmOp(a.Const), nil
	case ir.ArgBlock:
		return mir.BlockOp(a.Block), nil
	case ir.ArgSym:
		return mir.SymOp(a.Sym), nil
	default:
		return mir.Operand{}, fmt.Errorf("bad argument kind %d", a.Kind)
	}
}

// resolveOp maps a source op name to a generic machine op. Comparison ops
// carry their predicate as a suffix ("icmp_lt") and lower to an immediate
// predicate operand.
func resolveOp(name string) (mir.Op, int, bool) {
	prefix, pred, cut := strings.Cut(name, "_")
	if cut {
		var base mir.Op
		switch prefix {
		case "icmp":
			base = mir.OpICmp
		case "fcmp":
			base = mir.OpFCmp
		default:
			return 0, -1, false
		}
		for c := mir.CondEq; c <= mir.CondUGe; c++ {
			if c.String() == pred {
				return base, int(c), true
			}
		}
		return 0, -1, false
	}
	op, ok := mir.OpByName(name)
	return op, -1, ok
}
