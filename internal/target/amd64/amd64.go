// Package amd64 is the built-in x86-64 capability table. It is data, not
// logic: legality rules, legalization strategies, instruction patterns and
// the SysV calling convention. Shift amounts get the expand treatment so an
// out-of-range amount has one defined meaning instead of whatever the
// hardware masks to.
package amd64

import (
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

func init() {
	target.Register("amd64", build)
}

var (
	i8   = mir.Type{Bits: 8, Class: mir.ClassInt}
	i16  = mir.Type{Bits: 16, Class: mir.ClassInt}
	i32  = mir.Type{Bits: 32, Class: mir.ClassInt}
	i64  = mir.Type{Bits: 64, Class: mir.ClassInt}
	i128 = mir.Type{Bits: 128, Class: mir.ClassInt}
	f32  = mir.Type{Bits: 32, Class: mir.ClassFloat}
	f64  = mir.Type{Bits: 64, Class: mir.ClassFloat}

	anyInt   = mir.Type{Class: mir.ClassInt}
	anyFloat = mir.Type{Class: mir.ClassFloat}
	anyPtr   = mir.Type{Class: mir.ClassPointer}
	anyType  = mir.Type{}
)

func build() (*target.Table, error) {
	t := target.NewTable("amd64")
	t.PointerBits = 64
	t.Call = target.CallConv{
		IntArgRegs: []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"},
		FPArgRegs:  []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7"},
		IntRetReg:  "rax",
		FPRetReg:   "xmm0",
		StackAlign: 16,
		StackSlot:  8,
	}

	gpr := target.Banks(mir.BankInt)
	fpr := target.Banks(mir.BankFP)

	rule := func(op mir.Op, r target.Rule) { t.AddRule(op, r) }
	legal := func(op mir.Op, banks target.BankSet, tys ...mir.Type) {
		for _, ty := range tys {
			rule(op, target.Rule{Type: ty, Banks: banks, Action: target.ActionLegal})
		}
	}
	widen := func(op mir.Op, ty mir.Type) {
		rule(op, target.Rule{Type: ty, Banks: gpr, Action: target.ActionWiden})
	}
	expand := func(op mir.Op, banks target.BankSet, tys ...mir.Type) {
		for _, ty := range tys {
			rule(op, target.Rule{Type: ty, Banks: banks, Action: target.ActionExpand})
		}
	}
	libcall := func(op mir.Op, ty mir.Type, sym string) {
		rule(op, target.Rule{Type: ty, Banks: gpr, Action: target.ActionLibcall, LibCall: sym})
	}

	// Integer arithmetic and bitwise logic: byte through quadword directly,
	// double-quadword split into a register pair, everything odd widened to
	// the next declared width.
	for _, op := range []mir.Op{mir.OpAdd, mir.OpSub, mir.OpAnd, mir.OpOr, mir.OpXor} {
		legal(op, gpr, i8, i16, i32, i64)
		rule(op, target.Rule{Type: i128, Banks: gpr, Action: target.ActionNarrow})
		widen(op, anyInt)
	}
	legal(mir.OpMul, gpr, i16, i32, i64)
	widen(mir.OpMul, anyInt)

	legal(mir.OpSDiv, gpr, i32, i64)
	legal(mir.OpUDiv, gpr, i32, i64)
	widen(mir.OpSDiv, anyInt)
	widen(mir.OpUDiv, anyInt)
	libcall(mir.OpSDiv, i128, "__divti3")
	libcall(mir.OpUDiv, i128, "__udivti3")
	expand(mir.OpSRem, gpr, i32, i64)
	expand(mir.OpURem, gpr, i32, i64)
	widen(mir.OpSRem, anyInt)
	widen(mir.OpURem, anyInt)
	libcall(mir.OpSRem, i128, "__modti3")
	libcall(mir.OpURem, i128, "__umodti3")

	// Shifts are expanded even at native widths: hardware masks the amount,
	// the generic semantics clamp it instead.
	for _, op := range []mir.Op{mir.OpShl, mir.OpLShr, mir.OpAShr} {
		expand(op, gpr, i8, i16, i32, i64)
		widen(op, anyInt)
	}
	expand(mir.OpRotl, gpr, i8, i16, i32, i64)

	legal(mir.OpTrunc, gpr, anyInt)
	legal(mir.OpZExt, gpr, anyInt)
	legal(mir.OpSExt, gpr, anyInt)
	legal(mir.OpPack, gpr, anyInt)
	legal(mir.OpUnpackLo, gpr, anyInt)
	legal(mir.OpUnpackHi, gpr, anyInt)

	legal(mir.OpConst, gpr, anyInt, anyPtr)
	legal(mir.OpFConst, fpr, anyFloat)
	legal(mir.OpCopy, gpr|fpr, anyInt, anyFloat, anyPtr)

	for _, op := range []mir.Op{mir.OpFAdd, mir.OpFSub, mir.OpFMul, mir.OpFDiv, mir.OpFNeg} {
		legal(op, fpr, f32, f64)
	}
	legal(mir.OpIntToFP, fpr, f32, f64)
	legal(mir.OpFPToInt, gpr, anyInt)
	legal(mir.OpBitcast, gpr, anyInt)
	legal(mir.OpBitcast, fpr, anyFloat)

	legal(mir.OpICmp, gpr, i8, i16, i32, i64)
	widen(mir.OpICmp, anyInt)
	rule(mir.OpFCmp, target.Rule{Type: f32, Banks: gpr, Action: target.ActionLegal,
		ArgBanks: []target.BankSet{gpr, fpr, fpr}})
	rule(mir.OpFCmp, target.Rule{Type: f64, Banks: gpr, Action: target.ActionLegal,
		ArgBanks: []target.BankSet{gpr, fpr, fpr}})
	legal(mir.OpSelect, gpr, i8, i16, i32, i64)
	widen(mir.OpSelect, anyInt)

	legal(mir.OpLoad, gpr, i8, i16, i32, i64, anyPtr)
	legal(mir.OpLoad, fpr, f32, f64)
	legal(mir.OpStore, gpr, i8, i16, i32, i64, anyPtr)
	legal(mir.OpStore, fpr, anyFloat)
	legal(mir.OpFrameAddr, gpr, anyPtr)
	legal(mir.OpGlobalAddr, gpr, anyPtr)

	legal(mir.OpArg, gpr, anyInt, anyPtr)
	legal(mir.OpArg, fpr, anyFloat)
	legal(mir.OpCallArg, gpr, anyInt, anyPtr)
	legal(mir.OpCallArg, fpr, anyFloat)
	legal(mir.OpCallRet, gpr, anyInt, anyPtr)
	legal(mir.OpCallRet, fpr, anyFloat)
	legal(mir.OpCall, 0, anyType)
	legal(mir.OpRet, gpr, anyInt, anyPtr)
	legal(mir.OpRet, fpr, anyFloat)
	legal(mir.OpRet, 0, anyType)
	legal(mir.OpBr, 0, anyType)
	legal(mir.OpCondBr, gpr, anyInt)

	addPatterns(t, gpr, fpr)

	t.FusionPairs = []mir.Op{
		t.Opcode("CMPrr"), t.Opcode("CMPri"), t.Opcode("TESTrr"),
	}
	return t, nil
}

func addPatterns(t *target.Table, gpr, fpr target.BankSet) {
	rG := target.Constraint{Banks: gpr}
	rF := target.Constraint{Banks: fpr}
	rF32 := target.Constraint{Type: f32, Banks: fpr}
	rF64 := target.Constraint{Type: f64, Banks: fpr}
	imm := target.Constraint{Imm: true}
	any := target.Constraint{}

	a0, a1, a2 := target.RootArg(0), target.RootArg(1), target.RootArg(2)
	pat := func(p target.Pattern) { t.AddPattern(p) }
	def := func(opc string, refs ...target.ArgRef) []target.Template {
		return []target.Template{{Opcode: t.Opcode(opc), Args: refs, Def: true}}
	}
	bare := func(opc string, refs ...target.ArgRef) []target.Template {
		return []target.Template{{Opcode: t.Opcode(opc), Args: refs}}
	}

	// Two-operand integer arithmetic: immediate form beats register form,
	// and a single-use load on the right folds into a memory operand.
	binary := [...]struct {
		op         mir.Op
		rr, ri, rm string
	}{
		{mir.OpAdd, "ADDrr", "ADDri", "ADDrm"},
		{mir.OpSub, "SUBrr", "SUBri", "SUBrm"},
		{mir.OpMul, "IMULrr", "IMULri", "IMULrm"},
		{mir.OpAnd, "ANDrr", "ANDri", "ANDrm"},
		{mir.OpOr, "ORrr", "ORri", "ORrm"},
		{mir.OpXor, "XORrr", "XORri", "XORrm"},
	}
	for _, b := range binary {
		pat(target.Pattern{Op: b.op, Pri: 30,
			Result: rG,
			Args:   []target.Constraint{rG, {Banks: gpr, FromOp: mir.OpLoad}},
			Emit:   def(b.rm, a0, target.SubArg(1, 0))})
		pat(target.Pattern{Op: b.op, Pri: 20,
			Result: rG,
			Args:   []target.Constraint{rG, imm},
			Emit:   def(b.ri, a0, a1)})
		pat(target.Pattern{Op: b.op, Pri: 10,
			Result: rG,
			Args:   []target.Constraint{rG, rG},
			Emit:   def(b.rr, a0, a1)})
	}

	pat(target.Pattern{Op: mir.OpSDiv, Result: rG,
		Args: []target.Constraint{rG, rG}, Emit: def("IDIVrr", a0, a1)})
	pat(target.Pattern{Op: mir.OpUDiv, Result: rG,
		Args: []target.Constraint{rG, rG}, Emit: def("DIVrr", a0, a1)})

	shifts := [...]struct {
		op     mir.Op
		rr, ri string
	}{
		{mir.OpShl, "SHLrr", "SHLri"},
		{mir.OpLShr, "SHRrr", "SHRri"},
		{mir.OpAShr, "SARrr", "SARri"},
	}
	for _, s := range shifts {
		pat(target.Pattern{Op: s.op, Pri: 20, Result: rG,
			Args: []target.Constraint{rG, imm}, Emit: def(s.ri, a0, a1)})
		pat(target.Pattern{Op: s.op, Pri: 10, Result: rG,
			Args: []target.Constraint{rG, rG}, Emit: def(s.rr, a0, a1)})
	}

	// Width changes. The emitted move carries both register types, so the
	// encoder knows the source and destination widths without a per-width
	// opcode here.
	pat(target.Pattern{Op: mir.OpTrunc, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVrr", a0)})
	pat(target.Pattern{Op: mir.OpZExt, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVZXrr", a0)})
	pat(target.Pattern{Op: mir.OpSExt, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVSXrr", a0)})
	pat(target.Pattern{Op: mir.OpPack, Result: rG,
		Args: []target.Constraint{rG, rG}, Emit: def("PAIRrr", a0, a1)})
	pat(target.Pattern{Op: mir.OpUnpackLo, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("PAIRLOr", a0)})
	pat(target.Pattern{Op: mir.OpUnpackHi, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("PAIRHIr", a0)})

	pat(target.Pattern{Op: mir.OpConst, Result: rG,
		Args: []target.Constraint{imm}, Emit: def("MOVri", a0)})
	pat(target.Pattern{Op: mir.OpFConst, Result: rF,
		Args: []target.Constraint{imm}, Emit: def("MOVSDri", a0)})

	pat(target.Pattern{Op: mir.OpCopy, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVrr", a0)})
	pat(target.Pattern{Op: mir.OpCopy, Result: rG,
		Args: []target.Constraint{rF}, Emit: def("MOVQrx", a0)})
	pat(target.Pattern{Op: mir.OpCopy, Result: rF,
		Args: []target.Constraint{rG}, Emit: def("MOVQxr", a0)})
	pat(target.Pattern{Op: mir.OpCopy, Result: rF,
		Args: []target.Constraint{rF}, Emit: def("MOVAPSrr", a0)})

	fbinary := [...]struct {
		op     mir.Op
		ss, sd string
	}{
		{mir.OpFAdd, "ADDSSrr", "ADDSDrr"},
		{mir.OpFSub, "SUBSSrr", "SUBSDrr"},
		{mir.OpFMul, "MULSSrr", "MULSDrr"},
		{mir.OpFDiv, "DIVSSrr", "DIVSDrr"},
	}
	for _, b := range fbinary {
		pat(target.Pattern{Op: b.op, Result: target.Constraint{Type: f32, Banks: fpr},
			Args: []target.Constraint{rF, rF}, Emit: def(b.ss, a0, a1)})
		pat(target.Pattern{Op: b.op, Result: target.Constraint{Type: f64, Banks: fpr},
			Args: []target.Constraint{rF, rF}, Emit: def(b.sd, a0, a1)})
	}
	// Sign flip through an xor with a constant-pool mask.
	pat(target.Pattern{Op: mir.OpFNeg, Result: target.Constraint{Type: f32, Banks: fpr},
		Args: []target.Constraint{rF},
		Emit: def("XORPSrc", a0, target.SymRef("fneg_mask32"))})
	pat(target.Pattern{Op: mir.OpFNeg, Result: target.Constraint{Type: f64, Banks: fpr},
		Args: []target.Constraint{rF},
		Emit: def("XORPDrc", a0, target.SymRef("fneg_mask64"))})

	pat(target.Pattern{Op: mir.OpIntToFP, Result: target.Constraint{Type: f32, Banks: fpr},
		Args: []target.Constraint{rG}, Emit: def("CVTSI2SSrr", a0)})
	pat(target.Pattern{Op: mir.OpIntToFP, Result: target.Constraint{Type: f64, Banks: fpr},
		Args: []target.Constraint{rG}, Emit: def("CVTSI2SDrr", a0)})
	pat(target.Pattern{Op: mir.OpFPToInt, Pri: 10, Result: rG,
		Args: []target.Constraint{rF32}, Emit: def("CVTTSS2SIrr", a0)})
	pat(target.Pattern{Op: mir.OpFPToInt, Result: rG,
		Args: []target.Constraint{rF64}, Emit: def("CVTTSD2SIrr", a0)})
	pat(target.Pattern{Op: mir.OpBitcast, Result: rG,
		Args: []target.Constraint{rF}, Emit: def("MOVQrx", a0)})
	pat(target.Pattern{Op: mir.OpBitcast, Result: rF,
		Args: []target.Constraint{rG}, Emit: def("MOVQxr", a0)})

	// Comparisons materialize their result with setcc; the predicate rides
	// on the setcc as an immediate the encoder maps to a condition code.
	pat(target.Pattern{Op: mir.OpICmp, Pri: 20, Result: rG,
		Args: []target.Constraint{imm, rG, imm},
		Emit: []target.Template{
			{Opcode: t.Opcode("CMPri"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("SETccr"), Args: []target.ArgRef{a0}, Def: true},
		}})
	pat(target.Pattern{Op: mir.OpICmp, Pri: 10, Result: rG,
		Args: []target.Constraint{imm, rG, rG},
		Emit: []target.Template{
			{Opcode: t.Opcode("CMPrr"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("SETccr"), Args: []target.ArgRef{a0}, Def: true},
		}})
	pat(target.Pattern{Op: mir.OpFCmp, Pri: 10, Result: rG,
		Args: []target.Constraint{imm, rF32, rF32},
		Emit: []target.Template{
			{Opcode: t.Opcode("UCOMISSrr"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("SETccr"), Args: []target.ArgRef{a0}, Def: true},
		}})
	pat(target.Pattern{Op: mir.OpFCmp, Result: rG,
		Args: []target.Constraint{imm, rF64, rF64},
		Emit: []target.Template{
			{Opcode: t.Opcode("UCOMISDrr"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("SETccr"), Args: []target.ArgRef{a0}, Def: true},
		}})

	// cmov as a three-operand pseudo; the allocator ties the destination.
	pat(target.Pattern{Op: mir.OpSelect, Result: rG,
		Args: []target.Constraint{rG, rG, rG},
		Emit: []target.Template{
			{Opcode: t.Opcode("TESTrr"), Args: []target.ArgRef{a0, a0}},
			{Opcode: t.Opcode("CMOVNErr"), Args: []target.ArgRef{a1, a2}, Def: true},
		}})

	pat(target.Pattern{Op: mir.OpLoad, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVrm", a0)})
	pat(target.Pattern{Op: mir.OpLoad, Result: rF32,
		Args: []target.Constraint{rG}, Emit: def("MOVSSrm", a0)})
	pat(target.Pattern{Op: mir.OpLoad, Result: rF64,
		Args: []target.Constraint{rG}, Emit: def("MOVSDrm", a0)})
	pat(target.Pattern{Op: mir.OpStore, Pri: 10,
		Args: []target.Constraint{rG, rG}, Emit: bare("MOVmr", a1, a0)})
	pat(target.Pattern{Op: mir.OpStore, Pri: 10,
		Args: []target.Constraint{imm, rG}, Emit: bare("MOVmi", a1, a0)})
	pat(target.Pattern{Op: mir.OpStore,
		Args: []target.Constraint{rF, rG}, Emit: bare("MOVSDmr", a1, a0)})
	pat(target.Pattern{Op: mir.OpFrameAddr, Result: rG,
		Args: []target.Constraint{imm}, Emit: def("LEAfi", a0)})
	pat(target.Pattern{Op: mir.OpGlobalAddr, Result: rG,
		Args: []target.Constraint{any}, Emit: def("LEArip", a0)})

	// Incoming arguments: register slots copy, stack slots load.
	pat(target.Pattern{Op: mir.OpArg, Pri: 10, Result: rG,
		Args: []target.Constraint{imm, any}, Emit: def("MOVrr", a1)})
	pat(target.Pattern{Op: mir.OpArg, Pri: 10, Result: rF,
		Args: []target.Constraint{imm, any}, Emit: def("MOVAPSrr", a1)})
	pat(target.Pattern{Op: mir.OpArg, Result: rG,
		Args: []target.Constraint{imm, imm, any}, Emit: def("MOVrm", a2, a1)})
	pat(target.Pattern{Op: mir.OpArg, Result: rF,
		Args: []target.Constraint{imm, imm, any}, Emit: def("MOVSDrm", a2, a1)})

	// Outgoing arguments mirror the same split.
	pat(target.Pattern{Op: mir.OpCallArg, Pri: 10,
		Args: []target.Constraint{rG, any}, Emit: bare("MOVrr", a1, a0)})
	pat(target.Pattern{Op: mir.OpCallArg, Pri: 10,
		Args: []target.Constraint{rF, any}, Emit: bare("MOVAPSrr", a1, a0)})
	pat(target.Pattern{Op: mir.OpCallArg,
		Args: []target.Constraint{rG, imm, any}, Emit: bare("MOVmr", a2, a1, a0)})
	pat(target.Pattern{Op: mir.OpCallArg,
		Args: []target.Constraint{rF, imm, any}, Emit: bare("MOVSDmr", a2, a1, a0)})
	pat(target.Pattern{Op: mir.OpCall,
		Args: []target.Constraint{any}, Emit: bare("CALLq", a0)})
	pat(target.Pattern{Op: mir.OpCallRet, Result: rG,
		Args: []target.Constraint{any}, Emit: def("MOVrr", a0)})
	pat(target.Pattern{Op: mir.OpCallRet, Result: rF,
		Args: []target.Constraint{any}, Emit: def("MOVAPSrr", a0)})

	// Control flow. A compare feeding the branch selects as compare and
	// jcc directly; anything else tests the condition register.
	pat(target.Pattern{Op: mir.OpBr,
		Args: []target.Constraint{any},
		Emit: []target.Template{{Opcode: t.Opcode("JMP"), Args: []target.ArgRef{a0}, Term: true}}})
	pat(target.Pattern{Op: mir.OpCondBr, Pri: 50,
		Args: []target.Constraint{{Banks: gpr, FromOp: mir.OpICmp}, any, any},
		Emit: []target.Template{
			{Opcode: t.Opcode("CMPrr"), Args: []target.ArgRef{target.SubArg(0, 1), target.SubArg(0, 2)}},
			{Opcode: t.Opcode("JCC"), Args: []target.ArgRef{target.SubArg(0, 0), a1, a2}, Term: true},
		}})
	pat(target.Pattern{Op: mir.OpCondBr, Pri: 10,
		Args: []target.Constraint{rG, any, any},
		Emit: []target.Template{
			{Opcode: t.Opcode("TESTrr"), Args: []target.ArgRef{a0, a0}},
			{Opcode: t.Opcode("JNZ"), Args: []target.ArgRef{a1, a2}, Term: true},
		}})

	pat(target.Pattern{Op: mir.OpRet, Pri: 30,
		Args: []target.Constraint{rG},
		Emit: []target.Template{
			{Opcode: t.Opcode("MOVrr"), Args: []target.ArgRef{target.SymRef("rax"), a0}},
			{Opcode: t.Opcode("RETq"), Term: true},
		}})
	pat(target.Pattern{Op: mir.OpRet, Pri: 30,
		Args: []target.Constraint{rF},
		Emit: []target.Template{
			{Opcode: t.Opcode("MOVAPSrr"), Args: []target.ArgRef{target.SymRef("xmm0"), a0}},
			{Opcode: t.Opcode("RETq"), Term: true},
		}})
	pat(target.Pattern{Op: mir.OpRet, Pri: 20,
		Args: []target.Constraint{imm},
		Emit: []target.Template{
			{Opcode: t.Opcode("MOVri"), Args: []target.ArgRef{target.SymRef("rax"), a0}},
			{Opcode: t.Opcode("RETq"), Term: true},
		}})
	pat(target.Pattern{Op: mir.OpRet,
		Emit: []target.Template{{Opcode: t.Opcode("RETq"), Term: true}}})
}
