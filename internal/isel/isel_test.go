package isel

import (
	"strings"
	"testing"

	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"

	_ "github.com/tinyrange/isel/internal/target/amd64"
)

func amd64Table(t *testing.T) *target.Table {
	t.Helper()
	tbl, err := target.New("amd64")
	if err != nil {
		t.Fatalf("building amd64 table: %v", err)
	}
	return tbl
}

// reg allocates a bank-assigned register, the form selection expects after
// the earlier stages have run.
func reg(f *mir.Function, ty mir.Type, bank mir.Bank) mir.Reg {
	r := f.NewReg(ty)
	f.SetRegBank(r, bank)
	return r
}

func opNames(t *testing.T, tbl *target.Table, f *mir.Function, bi int) []string {
	t.Helper()
	var names []string
	for _, idx := range f.Blocks[bi].Instrs {
		if in := f.Instr(idx); in.Op != mir.OpNop {
			names = append(names, tbl.OpName(in.Op))
		}
	}
	return names
}

func wantNames(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("selected %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selected %v, want %v", got, want)
		}
	}
}

func TestRun_FoldsSingleUseConstant(t *testing.T) {
	tbl := amd64Table(t)
	i32 := mir.Int(32)
	f := mir.NewFunction("fold")
	b := f.NewBlock()
	x := reg(f, i32, mir.BankInt)
	c := reg(f, i32, mir.BankInt)
	s := reg(f, i32, mir.BankInt)
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: x, Type: i32,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
	f.Append(b, mir.Instr{Op: mir.OpConst, Result: c, Type: i32, Args: []mir.Operand{mir.ImmOp(7)}})
	addIdx := f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i32,
		Args: []mir.Operand{mir.RegOp(x), mir.RegOp(c)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(s)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNames(t, opNames(t, tbl, f, b), []string{"MOVrr", "ADDri", "MOVrr", "RETq"})

	add := f.Instr(addIdx)
	if add.Args[0] != mir.RegOp(x) || add.Args[1] != mir.ImmOp(7) {
		t.Errorf("immediate form operands = %+v, want %%%d, 7", add.Args, x)
	}
}

func TestRun_ConstantWithTwoUsesStays(t *testing.T) {
	tbl := amd64Table(t)
	i32 := mir.Int(32)
	f := mir.NewFunction("keep")
	b := f.NewBlock()
	c := reg(f, i32, mir.BankInt)
	s := reg(f, i32, mir.BankInt)
	f.Append(b, mir.Instr{Op: mir.OpConst, Result: c, Type: i32, Args: []mir.Operand{mir.ImmOp(7)}})
	f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i32,
		Args: []mir.Operand{mir.RegOp(c), mir.RegOp(c)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(s)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNames(t, opNames(t, tbl, f, b), []string{"MOVri", "ADDrr", "MOVrr", "RETq"})
}

func TestRun_FoldsSingleUseLoad(t *testing.T) {
	tbl := amd64Table(t)
	i64 := mir.Int(64)
	p64 := mir.Pointer(64)
	f := mir.NewFunction("loadfold")
	b := f.NewBlock()
	x := reg(f, i64, mir.BankInt)
	p := reg(f, p64, mir.BankInt)
	v := reg(f, i64, mir.BankInt)
	s := reg(f, i64, mir.BankInt)
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: x, Type: i64,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: p, Type: p64,
		Args: []mir.Operand{mir.ImmOp(1), mir.SymOp("rsi")}})
	f.Append(b, mir.Instr{Op: mir.OpLoad, Result: v, Type: i64, Args: []mir.Operand{mir.RegOp(p)}})
	addIdx := f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i64,
		Args: []mir.Operand{mir.RegOp(x), mir.RegOp(v)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(s)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNames(t, opNames(t, tbl, f, b), []string{"MOVrr", "MOVrr", "ADDrm", "MOVrr", "RETq"})

	add := f.Instr(addIdx)
	if add.Args[1] != mir.RegOp(p) {
		t.Errorf("memory form reads %+v, want the load address %%%d", add.Args[1], p)
	}
}

func TestRun_FusesCompareIntoBranch(t *testing.T) {
	tbl := amd64Table(t)
	i64, i8 := mir.Int(64), mir.Int(8)
	f := mir.NewFunction("br")
	b0 := f.NewBlock()
	b1 := f.NewBlock()
	b2 := f.NewBlock()
	a := reg(f, i64, mir.BankInt)
	d := reg(f, i64, mir.BankInt)
	c := reg(f, i8, mir.BankInt)
	f.Append(b0, mir.Instr{Op: mir.OpArg, Result: a, Type: i64,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
	f.Append(b0, mir.Instr{Op: mir.OpArg, Result: d, Type: i64,
		Args: []mir.Operand{mir.ImmOp(1), mir.SymOp("rsi")}})
	f.Append(b0, mir.Instr{Op: mir.OpICmp, Result: c, Type: i8, Args: []mir.Operand{
		mir.ImmOp(int64(mir.CondLt)), mir.RegOp(a), mir.RegOp(d)}})
	cbIdx := f.Append(b0, mir.Instr{Op: mir.OpCondBr, Flags: mir.FlagTerm,
		Args: []mir.Operand{mir.RegOp(c), mir.BlockOp(b1), mir.BlockOp(b2)}})
	f.Blocks[b0].Succs = []int{b1, b2}
	f.Append(b1, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(a)}})
	f.Append(b2, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(d)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNames(t, opNames(t, tbl, f, b0), []string{"MOVrr", "MOVrr", "CMPrr", "JCC"})

	cmp := f.Instr(cbIdx)
	if cmp.Args[0] != mir.RegOp(a) || cmp.Args[1] != mir.RegOp(d) {
		t.Errorf("fused compare reads %+v, want the comparison operands", cmp.Args)
	}
	jcc := f.Instr(f.Blocks[b0].Instrs[3])
	if jcc.Args[0] != mir.ImmOp(int64(mir.CondLt)) {
		t.Errorf("branch predicate = %+v, want lt", jcc.Args[0])
	}
	if jcc.Args[1] != mir.BlockOp(b1) || jcc.Args[2] != mir.BlockOp(b2) {
		t.Errorf("branch targets = %+v", jcc.Args)
	}
}

func TestRun_MultiUseCompareStaysMaterialized(t *testing.T) {
	tbl := amd64Table(t)
	i64, i8 := mir.Int(64), mir.Int(8)
	f := mir.NewFunction("br2")
	b0 := f.NewBlock()
	b1 := f.NewBlock()
	b2 := f.NewBlock()
	a := reg(f, i64, mir.BankInt)
	d := reg(f, i64, mir.BankInt)
	c := reg(f, i8, mir.BankInt)
	f.Append(b0, mir.Instr{Op: mir.OpArg, Result: a, Type: i64,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
	f.Append(b0, mir.Instr{Op: mir.OpArg, Result: d, Type: i64,
		Args: []mir.Operand{mir.ImmOp(1), mir.SymOp("rsi")}})
	f.Append(b0, mir.Instr{Op: mir.OpICmp, Result: c, Type: i8, Args: []mir.Operand{
		mir.ImmOp(int64(mir.CondLt)), mir.RegOp(a), mir.RegOp(d)}})
	f.Append(b0, mir.Instr{Op: mir.OpCondBr, Flags: mir.FlagTerm,
		Args: []mir.Operand{mir.RegOp(c), mir.BlockOp(b1), mir.BlockOp(b2)}})
	f.Blocks[b0].Succs = []int{b1, b2}
	// The flag value escapes to the join, so the branch cannot consume it.
	f.Append(b1, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(c)}})
	f.Append(b2, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(d)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantNames(t, opNames(t, tbl, f, b0), []string{"MOVrr", "MOVrr", "CMPrr", "SETccr", "TESTrr", "JNZ"})
}

func TestRun_Deterministic(t *testing.T) {
	tbl := amd64Table(t)
	build := func() *mir.Function {
		i32 := mir.Int(32)
		f := mir.NewFunction("det")
		b := f.NewBlock()
		x := reg(f, i32, mir.BankInt)
		c := reg(f, i32, mir.BankInt)
		s := reg(f, i32, mir.BankInt)
		f.Append(b, mir.Instr{Op: mir.OpArg, Result: x, Type: i32,
			Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
		f.Append(b, mir.Instr{Op: mir.OpConst, Result: c, Type: i32, Args: []mir.Operand{mir.ImmOp(7)}})
		f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i32,
			Args: []mir.Operand{mir.RegOp(x), mir.RegOp(c)}})
		f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(s)}})
		return f
	}
	f1, f2 := build(), build()
	if err := Run(f1, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := Run(f2, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f1.Dump(tbl.OpName) != f2.Dump(tbl.OpName) {
		t.Errorf("identical inputs selected differently:\n%s\n%s", f1.Dump(tbl.OpName), f2.Dump(tbl.OpName))
	}
}

func TestRun_NoMatchingPattern(t *testing.T) {
	tbl := amd64Table(t)
	f32 := mir.Float(32)
	f := mir.NewFunction("bad")
	b := f.NewBlock()
	// A float add whose operands sit in the wrong bank has no pattern.
	x := reg(f, f32, mir.BankInt)
	s := reg(f, f32, mir.BankInt)
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: x, Type: f32,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
	f.Append(b, mir.Instr{Op: mir.OpFAdd, Result: s, Type: f32,
		Args: []mir.Operand{mir.RegOp(x), mir.RegOp(x)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm, Args: []mir.Operand{mir.RegOp(s)}})

	err := Run(f, tbl)
	if err == nil || !strings.Contains(err.Error(), "no pattern matches") {
		t.Errorf("Run = %v, want no-pattern error", err)
	}
}
