package target

import (
	"testing"

	"github.com/tinyrange/isel/internal/mir"
)

var (
	i8  = mir.Int(8)
	i16 = mir.Int(16)
	i32 = mir.Int(32)
	i64 = mir.Int(64)
)

func TestBankSet(t *testing.T) {
	s := Banks(mir.BankInt, mir.BankFP)
	if !s.Has(mir.BankInt) || !s.Has(mir.BankFP) || s.Has(mir.BankVec) {
		t.Errorf("Banks membership wrong: %b", s)
	}
	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
	if s.First() != mir.BankInt {
		t.Errorf("First = %v, want gpr (lowest bank wins ties)", s.First())
	}
	if BankSet(0).First() != mir.BankNone {
		t.Errorf("empty set First = %v, want none", BankSet(0).First())
	}
}

func TestRuleFor_Precedence(t *testing.T) {
	tbl := NewTable("toy")
	gpr := Banks(mir.BankInt)
	tbl.AddRule(mir.OpAdd, Rule{Type: i32, Banks: gpr, Action: ActionLegal})
	tbl.AddRule(mir.OpAdd, Rule{Type: mir.Type{Class: mir.ClassInt}, Banks: gpr, Action: ActionWiden, Wide: i64})
	tbl.AddRule(mir.OpAdd, Rule{Action: ActionExpand})

	if r, ok := tbl.RuleFor(mir.OpAdd, i32); !ok || r.Action != ActionLegal {
		t.Errorf("exact rule not preferred: %+v %v", r, ok)
	}
	if r, ok := tbl.RuleFor(mir.OpAdd, i16); !ok || r.Action != ActionWiden || r.Wide != i64 {
		t.Errorf("class wildcard not used for i16: %+v %v", r, ok)
	}
	if r, ok := tbl.RuleFor(mir.OpAdd, mir.Float(32)); !ok || r.Action != ActionExpand {
		t.Errorf("full wildcard not used for f32: %+v %v", r, ok)
	}
}

func TestRuleFor_ResolvesZeroWide(t *testing.T) {
	tbl := NewTable("toy")
	gpr := Banks(mir.BankInt)
	tbl.AddRule(mir.OpAdd, Rule{Type: i16, Banks: gpr, Action: ActionLegal})
	tbl.AddRule(mir.OpAdd, Rule{Type: i64, Banks: gpr, Action: ActionLegal})
	tbl.AddRule(mir.OpAdd, Rule{Type: mir.Type{Class: mir.ClassInt}, Banks: gpr, Action: ActionWiden})

	r, ok := tbl.RuleFor(mir.OpAdd, mir.Int(3))
	if !ok || r.Wide != i16 {
		t.Errorf("zero Wide resolved to %v (%v), want next declared width i16", r.Wide, ok)
	}
	r, ok = tbl.RuleFor(mir.OpAdd, mir.Int(24))
	if !ok || r.Wide != i64 {
		t.Errorf("zero Wide for i24 resolved to %v (%v), want i64", r.Wide, ok)
	}
	// Nothing wide enough declared.
	if _, ok := tbl.RuleFor(mir.OpAdd, mir.Int(128)); ok {
		t.Errorf("RuleFor found a widening for i128 with no width to widen to")
	}
}

// Expand counts as a directly handled width: a shift declared expand at i8
// is a valid widening destination for an i3 shift.
func TestRuleFor_WidensToExpandedWidth(t *testing.T) {
	tbl := NewTable("toy")
	gpr := Banks(mir.BankInt)
	tbl.AddRule(mir.OpShl, Rule{Type: i8, Banks: gpr, Action: ActionExpand})
	tbl.AddRule(mir.OpShl, Rule{Type: mir.Type{Class: mir.ClassInt}, Banks: gpr, Action: ActionWiden})

	r, ok := tbl.RuleFor(mir.OpShl, mir.Int(3))
	if !ok || r.Action != ActionWiden || r.Wide != i8 {
		t.Errorf("RuleFor(shl, i3) = %+v (%v), want widen to i8", r, ok)
	}
}

func TestOpcodeAllocation(t *testing.T) {
	tbl := NewTable("toy")
	a := tbl.Opcode("ADDrr")
	b := tbl.Opcode("SUBrr")
	if a < mir.FirstTargetOp || b != a+1 {
		t.Errorf("opcodes allocated %v %v, want consecutive from FirstTargetOp", a, b)
	}
	if tbl.Opcode("ADDrr") != a {
		t.Errorf("re-requesting a name allocated a new opcode")
	}
	if got, ok := tbl.OpcodeByName("SUBrr"); !ok || got != b {
		t.Errorf("OpcodeByName = %v %v", got, ok)
	}
	if tbl.OpName(a) != "ADDrr" {
		t.Errorf("OpName = %q", tbl.OpName(a))
	}
	if tbl.OpName(mir.OpAdd) != "add" {
		t.Errorf("generic OpName = %q", tbl.OpName(mir.OpAdd))
	}
}

func TestCallConv_ArgSlots(t *testing.T) {
	cc := CallConv{
		IntArgRegs: []string{"r0", "r1"},
		FPArgRegs:  []string{"f0"},
		IntRetReg:  "r0",
		FPRetReg:   "f0",
		StackSlot:  8,
	}
	slots := cc.ArgSlots([]mir.Type{i64, mir.Float(64), i64, mir.Float(32), i32})
	want := []Slot{
		{Reg: "r0"},
		{Reg: "f0"},
		{Reg: "r1"},
		{Offset: 0, OnStack: true},
		{Offset: 8, OnStack: true},
	}
	for i := range want {
		if slots[i] != want[i] {
			t.Errorf("slot %d = %+v, want %+v", i, slots[i], want[i])
		}
	}
	if cc.RetReg(i64) != "r0" || cc.RetReg(mir.Float(64)) != "f0" {
		t.Errorf("RetReg wrong: %q %q", cc.RetReg(i64), cc.RetReg(mir.Float(64)))
	}
}
