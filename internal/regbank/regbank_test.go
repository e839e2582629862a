package regbank

import (
	"testing"

	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"

	_ "github.com/tinyrange/isel/internal/target/amd64"
)

// twoBankTable splits integer work between banks so assignment has a real
// choice to make: multiplies only happen in fpr, additions only in gpr, and
// copies go either way.
func twoBankTable() *target.Table {
	gpr := target.Banks(mir.BankInt)
	fpr := target.Banks(mir.BankFP)
	anyInt := mir.Type{Class: mir.ClassInt}

	tbl := target.NewTable("split")
	tbl.PointerBits = 64
	tbl.AddRule(mir.OpConst, target.Rule{Type: anyInt, Banks: gpr, Action: target.ActionLegal})
	tbl.AddRule(mir.OpCopy, target.Rule{Type: anyInt, Banks: gpr | fpr, Action: target.ActionLegal})
	tbl.AddRule(mir.OpMul, target.Rule{Type: anyInt, Banks: fpr, Action: target.ActionLegal})
	tbl.AddRule(mir.OpAdd, target.Rule{Type: anyInt, Banks: gpr, Action: target.ActionLegal})
	tbl.AddRule(mir.OpRet, target.Rule{Action: target.ActionLegal})
	return tbl
}

func countOp(f *mir.Function, op mir.Op) int {
	n := 0
	for bi := range f.Blocks {
		for _, idx := range f.Blocks[bi].Instrs {
			if f.Instr(idx).Op == op {
				n++
			}
		}
	}
	return n
}

func TestRun_MajorityBankWins(t *testing.T) {
	i32 := mir.Int(32)
	f := mir.NewFunction("maj")
	b := f.NewBlock()
	c := f.NewReg(i32)
	v := f.NewReg(i32)
	m := f.NewReg(i32)
	s := f.NewReg(i32)
	f.Append(b, mir.Instr{Op: mir.OpConst, Result: c, Type: i32, Args: []mir.Operand{mir.ImmOp(1)}})
	f.Append(b, mir.Instr{Op: mir.OpCopy, Result: v, Type: i32, Args: []mir.Operand{mir.RegOp(c)}})
	f.Append(b, mir.Instr{Op: mir.OpMul, Result: m, Type: i32,
		Args: []mir.Operand{mir.RegOp(v), mir.RegOp(v)}})
	addIdx := f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i32,
		Args: []mir.Operand{mir.RegOp(v), mir.RegOp(c)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm,
		Args: []mir.Operand{mir.RegOp(s)}})

	if err := Run(f, twoBankTable()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Two multiply reads beat one add read, so the copy lands in fpr and the
	// add gets a bridging copy.
	if f.RegBank(v) != mir.BankFP {
		t.Errorf("copy assigned %s, want fpr (two of three uses)", f.RegBank(v))
	}
	if f.RegBank(c) != mir.BankInt || f.RegBank(m) != mir.BankFP || f.RegBank(s) != mir.BankInt {
		t.Errorf("banks: const %s, mul %s, add %s", f.RegBank(c), f.RegBank(m), f.RegBank(s))
	}
	if n := countOp(f, mir.OpCopy); n != 2 {
		t.Errorf("%d copies in function, want the original plus one bridge", n)
	}
	add := f.Instr(addIdx)
	bridged := add.Args[0].Reg
	if bridged == v || f.RegBank(bridged) != mir.BankInt {
		t.Errorf("add still reads %s operand %%%d", f.RegBank(bridged), bridged)
	}

	if err := f.Verify(); err != nil {
		t.Fatalf("Verify after bank assignment: %v", err)
	}
}

func TestRun_MemoryBaseBridgedToIntegerBank(t *testing.T) {
	i32 := mir.Int(32)
	f := mir.NewFunction("mem")
	b := f.NewBlock()
	c := f.NewReg(i32)
	v := f.NewReg(i32)
	m := f.NewReg(i32)
	s := f.NewReg(i32)
	f.Append(b, mir.Instr{Op: mir.OpConst, Result: c, Type: i32, Args: []mir.Operand{mir.ImmOp(1)}})
	f.Append(b, mir.Instr{Op: mir.OpCopy, Result: v, Type: i32, Args: []mir.Operand{mir.RegOp(c)}})
	f.Append(b, mir.Instr{Op: mir.OpMul, Result: m, Type: i32,
		Args: []mir.Operand{mir.RegOp(v), mir.RegOp(v)}})
	addIdx := f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i32,
		Args: []mir.Operand{mir.RegOp(m), mir.MemOp(v, 8)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm,
		Args: []mir.Operand{mir.RegOp(s)}})

	if err := Run(f, twoBankTable()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The copy lands in fpr for the multiply, so its use as an address base
	// needs a bridge into the integer bank.
	if f.RegBank(v) != mir.BankFP {
		t.Fatalf("copy assigned %s, want fpr", f.RegBank(v))
	}
	mem := f.Instr(addIdx).Args[1]
	if mem.Kind != mir.OperandMem || mem.Imm != 8 {
		t.Fatalf("memory operand rewritten to %+v", mem)
	}
	if mem.Reg == v || f.RegBank(mem.Reg) != mir.BankInt {
		t.Errorf("memory base %%%d in %s, want a gpr bridge", mem.Reg, f.RegBank(mem.Reg))
	}

	if err := f.Verify(); err != nil {
		t.Fatalf("Verify after bank assignment: %v", err)
	}
}

func TestRun_ArgBankOverride(t *testing.T) {
	tbl, err := target.New("amd64")
	if err != nil {
		t.Fatalf("building amd64 table: %v", err)
	}
	f64, i8 := mir.Float(64), mir.Int(8)
	f := mir.NewFunction("cmp")
	b := f.NewBlock()
	a := f.NewReg(f64)
	d := f.NewReg(f64)
	r := f.NewReg(i8)
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: a, Type: f64,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("xmm0")}})
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: d, Type: f64,
		Args: []mir.Operand{mir.ImmOp(1), mir.SymOp("xmm1")}})
	f.Append(b, mir.Instr{Op: mir.OpFCmp, Result: r, Type: i8, Args: []mir.Operand{
		mir.ImmOp(int64(mir.CondULt)), mir.RegOp(a), mir.RegOp(d)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm,
		Args: []mir.Operand{mir.RegOp(r)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The comparison reads fp registers but its flag result is an integer.
	if f.RegBank(a) != mir.BankFP || f.RegBank(d) != mir.BankFP {
		t.Errorf("operand banks %s %s, want fpr", f.RegBank(a), f.RegBank(d))
	}
	if f.RegBank(r) != mir.BankInt {
		t.Errorf("result bank %s, want gpr", f.RegBank(r))
	}
	if n := countOp(f, mir.OpCopy); n != 0 {
		t.Errorf("%d copies inserted on an already consistent function", n)
	}
}

func TestRun_IntegerOnlyNeedsNoCopies(t *testing.T) {
	tbl, err := target.New("amd64")
	if err != nil {
		t.Fatalf("building amd64 table: %v", err)
	}
	i64 := mir.Int(64)
	f := mir.NewFunction("sum")
	b := f.NewBlock()
	x := f.NewReg(i64)
	y := f.NewReg(i64)
	s := f.NewReg(i64)
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: x, Type: i64,
		Args: []mir.Operand{mir.ImmOp(0), mir.SymOp("rdi")}})
	f.Append(b, mir.Instr{Op: mir.OpArg, Result: y, Type: i64,
		Args: []mir.Operand{mir.ImmOp(1), mir.SymOp("rsi")}})
	f.Append(b, mir.Instr{Op: mir.OpAdd, Result: s, Type: i64,
		Args: []mir.Operand{mir.RegOp(x), mir.RegOp(y)}})
	f.Append(b, mir.Instr{Op: mir.OpRet, Flags: mir.FlagTerm,
		Args: []mir.Operand{mir.RegOp(s)}})

	if err := Run(f, tbl); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, r := range []mir.Reg{x, y, s} {
		if f.RegBank(r) != mir.BankInt {
			t.Errorf("%%%d assigned %s, want gpr", r, f.RegBank(r))
		}
	}
	if n := countOp(f, mir.OpCopy); n != 0 {
		t.Errorf("%d copies inserted, want none", n)
	}
}
