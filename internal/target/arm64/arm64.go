// Package arm64 is the built-in AArch64 capability table. Narrow integer
// arithmetic widens to 32 bits, everything else operates at the two native
// widths. There are no fusion pairs declared, so pipelines built for this
// table carry no fusion pass.
package arm64

import (
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

func init() {
	target.Register("arm64", build)
}

var (
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
	t := target.NewTable("arm64")
	t.PointerBits = 64
	t.Call = target.CallConv{
		IntArgRegs: []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"},
		FPArgRegs:  []string{"v0", "v1", "v2", "v3", "v4", "v5", "v6", "v7"},
		IntRetReg:  "x0",
		FPRetReg:   "v0",
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
	widen := func(op mir.Op) {
		rule(op, target.Rule{Type: anyInt, Banks: gpr, Action: target.ActionWiden})
	}
	expand := func(op mir.Op, tys ...mir.Type) {
		for _, ty := range tys {
			rule(op, target.Rule{Type: ty, Banks: gpr, Action: target.ActionExpand})
		}
	}
	libcall := func(op mir.Op, sym string) {
		rule(op, target.Rule{Type: i128, Banks: gpr, Action: target.ActionLibcall, LibCall: sym})
	}

	for _, op := range []mir.Op{mir.OpAdd, mir.OpSub, mir.OpMul, mir.OpAnd, mir.OpOr, mir.OpXor} {
		legal(op, gpr, i32, i64)
		widen(op)
	}
	legal(mir.OpSDiv, gpr, i32, i64)
	legal(mir.OpUDiv, gpr, i32, i64)
	widen(mir.OpSDiv)
	widen(mir.OpUDiv)
	libcall(mir.OpSDiv, "__divti3")
	libcall(mir.OpUDiv, "__udivti3")
	expand(mir.OpSRem, i32, i64)
	expand(mir.OpURem, i32, i64)
	widen(mir.OpSRem)
	widen(mir.OpURem)

	for _, op := range []mir.Op{mir.OpShl, mir.OpLShr, mir.OpAShr} {
		expand(op, i32, i64)
		widen(op)
	}
	expand(mir.OpRotl, i32, i64)

	legal(mir.OpTrunc, gpr, anyInt)
	legal(mir.OpZExt, gpr, anyInt)
	legal(mir.OpSExt, gpr, anyInt)

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

	legal(mir.OpICmp, gpr, i32, i64)
	widen(mir.OpICmp)
	rule(mir.OpFCmp, target.Rule{Type: f32, Banks: gpr, Action: target.ActionLegal,
		ArgBanks: []target.BankSet{gpr, fpr, fpr}})
	rule(mir.OpFCmp, target.Rule{Type: f64, Banks: gpr, Action: target.ActionLegal,
		ArgBanks: []target.BankSet{gpr, fpr, fpr}})
	legal(mir.OpSelect, gpr, i32, i64)
	widen(mir.OpSelect)

	legal(mir.OpLoad, gpr, mir.Type{Bits: 8, Class: mir.ClassInt},
		mir.Type{Bits: 16, Class: mir.ClassInt}, i32, i64, anyPtr)
	legal(mir.OpLoad, fpr, f32, f64)
	legal(mir.OpStore, gpr, mir.Type{Bits: 8, Class: mir.ClassInt},
		mir.Type{Bits: 16, Class: mir.ClassInt}, i32, i64, anyPtr)
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

	binary := [...]struct {
		op     mir.Op
		rr, ri string
	}{
		{mir.OpAdd, "ADDrr", "ADDri"},
		{mir.OpSub, "SUBrr", "SUBri"},
		{mir.OpAnd, "ANDrr", "ANDri"},
		{mir.OpOr, "ORRrr", "ORRri"},
		{mir.OpXor, "EORrr", "EORri"},
		{mir.OpShl, "LSLrr", "LSLri"},
		{mir.OpLShr, "LSRrr", "LSRri"},
		{mir.OpAShr, "ASRrr", "ASRri"},
	}
	for _, b := range binary {
		pat(target.Pattern{Op: b.op, Pri: 20, Result: rG,
			Args: []target.Constraint{rG, imm}, Emit: def(b.ri, a0, a1)})
		pat(target.Pattern{Op: b.op, Pri: 10, Result: rG,
			Args: []target.Constraint{rG, rG}, Emit: def(b.rr, a0, a1)})
	}
	pat(target.Pattern{Op: mir.OpMul, Result: rG,
		Args: []target.Constraint{rG, rG}, Emit: def("MULrr", a0, a1)})
	pat(target.Pattern{Op: mir.OpSDiv, Result: rG,
		Args: []target.Constraint{rG, rG}, Emit: def("SDIVrr", a0, a1)})
	pat(target.Pattern{Op: mir.OpUDiv, Result: rG,
		Args: []target.Constraint{rG, rG}, Emit: def("UDIVrr", a0, a1)})

	// A multiply feeding a subtract folds into one multiply-subtract, which
	// picks up the remainder expansion for free.
	pat(target.Pattern{Op: mir.OpSub, Pri: 30, Result: rG,
		Args: []target.Constraint{rG, {Banks: gpr, FromOp: mir.OpMul}},
		Emit: def("MSUBrrr", a0, target.SubArg(1, 0), target.SubArg(1, 1))})

	pat(target.Pattern{Op: mir.OpTrunc, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVrr", a0)})
	pat(target.Pattern{Op: mir.OpZExt, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("UXTrr", a0)})
	pat(target.Pattern{Op: mir.OpSExt, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("SXTrr", a0)})

	pat(target.Pattern{Op: mir.OpConst, Result: rG,
		Args: []target.Constraint{imm}, Emit: def("MOVri", a0)})
	pat(target.Pattern{Op: mir.OpFConst, Result: rF,
		Args: []target.Constraint{imm}, Emit: def("FMOVri", a0)})

	pat(target.Pattern{Op: mir.OpCopy, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("MOVrr", a0)})
	pat(target.Pattern{Op: mir.OpCopy, Result: rG,
		Args: []target.Constraint{rF}, Emit: def("FMOVrx", a0)})
	pat(target.Pattern{Op: mir.OpCopy, Result: rF,
		Args: []target.Constraint{rG}, Emit: def("FMOVxr", a0)})
	pat(target.Pattern{Op: mir.OpCopy, Result: rF,
		Args: []target.Constraint{rF}, Emit: def("FMOVrr", a0)})

	fbinary := [...]struct {
		op   mir.Op
		name string
	}{
		{mir.OpFAdd, "FADDrr"},
		{mir.OpFSub, "FSUBrr"},
		{mir.OpFMul, "FMULrr"},
		{mir.OpFDiv, "FDIVrr"},
	}
	for _, b := range fbinary {
		pat(target.Pattern{Op: b.op, Result: rF,
			Args: []target.Constraint{rF, rF}, Emit: def(b.name, a0, a1)})
	}
	pat(target.Pattern{Op: mir.OpFNeg, Result: rF,
		Args: []target.Constraint{rF}, Emit: def("FNEGr", a0)})
	pat(target.Pattern{Op: mir.OpIntToFP, Result: rF,
		Args: []target.Constraint{rG}, Emit: def("SCVTFrr", a0)})
	pat(target.Pattern{Op: mir.OpFPToInt, Result: rG,
		Args: []target.Constraint{rF}, Emit: def("FCVTZSrr", a0)})
	pat(target.Pattern{Op: mir.OpBitcast, Result: rG,
		Args: []target.Constraint{rF}, Emit: def("FMOVrx", a0)})
	pat(target.Pattern{Op: mir.OpBitcast, Result: rF,
		Args: []target.Constraint{rG}, Emit: def("FMOVxr", a0)})

	pat(target.Pattern{Op: mir.OpICmp, Pri: 20, Result: rG,
		Args: []target.Constraint{imm, rG, imm},
		Emit: []target.Template{
			{Opcode: t.Opcode("CMPri"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("CSETr"), Args: []target.ArgRef{a0}, Def: true},
		}})
	pat(target.Pattern{Op: mir.OpICmp, Pri: 10, Result: rG,
		Args: []target.Constraint{imm, rG, rG},
		Emit: []target.Template{
			{Opcode: t.Opcode("CMPrr"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("CSETr"), Args: []target.ArgRef{a0}, Def: true},
		}})
	pat(target.Pattern{Op: mir.OpFCmp, Result: rG,
		Args: []target.Constraint{imm, rF, rF},
		Emit: []target.Template{
			{Opcode: t.Opcode("FCMPrr"), Args: []target.ArgRef{a1, a2}},
			{Opcode: t.Opcode("CSETr"), Args: []target.ArgRef{a0}, Def: true},
		}})
	pat(target.Pattern{Op: mir.OpSelect, Result: rG,
		Args: []target.Constraint{rG, rG, rG},
		Emit: []target.Template{
			{Opcode: t.Opcode("TSTrr"), Args: []target.ArgRef{a0, a0}},
			{Opcode: t.Opcode("CSELrr"), Args: []target.ArgRef{a1, a2}, Def: true},
		}})

	pat(target.Pattern{Op: mir.OpLoad, Result: rG,
		Args: []target.Constraint{rG}, Emit: def("LDRr", a0)})
	pat(target.Pattern{Op: mir.OpLoad, Result: rF32,
		Args: []target.Constraint{rG}, Emit: def("LDRs", a0)})
	pat(target.Pattern{Op: mir.OpLoad, Result: rF64,
		Args: []target.Constraint{rG}, Emit: def("LDRd", a0)})
	pat(target.Pattern{Op: mir.OpStore, Pri: 10,
		Args: []target.Constraint{rG, rG}, Emit: bare("STRr", a1, a0)})
	pat(target.Pattern{Op: mir.OpStore,
		Args: []target.Constraint{rF, rG}, Emit: bare("STRd", a1, a0)})
	pat(target.Pattern{Op: mir.OpFrameAddr, Result: rG,
		Args: []target.Constraint{imm}, Emit: def("ADDfi", a0)})
	pat(target.Pattern{Op: mir.OpGlobalAddr, Result: rG,
		Args: []target.Constraint{any}, Emit: def("ADRP", a0)})

	pat(target.Pattern{Op: mir.OpArg, Pri: 10, Result: rG,
		Args: []target.Constraint{imm, any}, Emit: def("MOVrr", a1)})
	pat(target.Pattern{Op: mir.OpArg, Pri: 10, Result: rF,
		Args: []target.Constraint{imm, any}, Emit: def("FMOVrr", a1)})
	pat(target.Pattern{Op: mir.OpArg, Result: rG,
		Args: []target.Constraint{imm, imm, any}, Emit: def("LDRr", a2, a1)})
	pat(target.Pattern{Op: mir.OpArg, Result: rF,
		Args: []target.Constraint{imm, imm, any}, Emit: def("LDRd", a2, a1)})

	pat(target.Pattern{Op: mir.OpCallArg, Pri: 10,
		Args: []target.Constraint{rG, any}, Emit: bare("MOVrr", a1, a0)})
	pat(target.Pattern{Op: mir.OpCallArg, Pri: 10,
		Args: []target.Constraint{rF, any}, Emit: bare("FMOVrr", a1, a0)})
	pat(target.Pattern{Op: mir.OpCallArg,
		Args: []target.Constraint{rG, imm, any}, Emit: bare("STRr", a2, a1, a0)})
	pat(target.Pattern{Op: mir.OpCallArg,
		Args: []target.Constraint{rF, imm, any}, Emit: bare("STRd", a2, a1, a0)})
	pat(target.Pattern{Op: mir.OpCall,
		Args: []target.Constraint{any}, Emit: bare("BL", a0)})
	pat(target.Pattern{Op: mir.OpCallRet, Result: rG,
		Args: []target.Constraint{any}, Emit: def("MOVrr", a0)})
	pat(target.Pattern{Op: mir.OpCallRet, Result: rF,
		Args: []target.Constraint{any}, Emit: def("FMOVrr", a0)})

	pat(target.Pattern{Op: mir.OpBr,
		Args: []target.Constraint{any},
		Emit: []target.Template{{Opcode: t.Opcode("B"), Args: []target.ArgRef{a0}, Term: true}}})
	pat(target.Pattern{Op: mir.OpCondBr, Pri: 50,
		Args: []target.Constraint{{Banks: gpr, FromOp: mir.OpICmp}, any, any},
		Emit: []target.Template{
			{Opcode: t.Opcode("CMPrr"), Args: []target.ArgRef{target.SubArg(0, 1), target.SubArg(0, 2)}},
			{Opcode: t.Opcode("BCC"), Args: []target.ArgRef{target.SubArg(0, 0), a1, a2}, Term: true},
		}})
	pat(target.Pattern{Op: mir.OpCondBr, Pri: 10,
		Args: []target.Constraint{rG, any, any},
		Emit: []target.Template{{Opcode: t.Opcode("CBNZ"), Args: []target.ArgRef{a0, a1, a2}, Term: true}}})

	pat(target.Pattern{Op: mir.OpRet, Pri: 30,
		Args: []target.Constraint{rG},
		Emit: []target.Template{
			{Opcode: t.Opcode("MOVrr"), Args: []target.ArgRef{target.SymRef("x0"), a0}},
			{Opcode: t.Opcode("RET"), Term: true},
		}})
	pat(target.Pattern{Op: mir.OpRet, Pri: 30,
		Args: []target.Constraint{rF},
		Emit: []target.Template{
			{Opcode: t.Opcode("FMOVrr"), Args: []target.ArgRef{target.SymRef("v0"), a0}},
			{Opcode: t.Opcode("RET"), Term: true},
		}})
	pat(target.Pattern{Op: mir.OpRet, Pri: 20,
		Args: []target.Constraint{imm},
		Emit: []target.Template{
			{Opcode: t.Opcode("MOVri"), Args: []target.ArgRef{target.SymRef("x0"), a0}},
			{Opcode: t.Opcode("RET"), Term: true},
		}})
	pat(target.Pattern{Op: mir.OpRet,
		Emit: []target.Template{{Opcode: t.Opcode("RET"), Term: true}}})
}
