package target

import (
	"strings"
	"testing"

	"github.com/tinyrange/isel/internal/mir"
)

const toyTable = `
format: v1.0.0
name: toy
pointer_bits: 64
calling:
  int_args: [r0, r1]
  int_ret: r0
  stack_align: 16
  stack_slot: 8
fusion: [ADDrr]
ops:
  add:
    - {type: i32, banks: [gpr], action: legal}
    - {type: int, banks: [gpr], action: widen}
  const:
    - {type: int, banks: [gpr], action: legal}
  zext:
    - {type: int, banks: [gpr], action: legal}
  trunc:
    - {type: int, banks: [gpr], action: legal}
  arg:
    - {banks: [gpr], action: legal}
  ret:
    - {action: legal}
patterns:
  add:
    - pri: 10
      result: {banks: [gpr]}
      args: [{banks: [gpr]}, {imm: true}]
      emit:
        - {opcode: ADDri, args: [a0, a1], def: true}
    - result: {banks: [gpr]}
      args: [{banks: [gpr]}, {banks: [gpr]}]
      emit:
        - {opcode: ADDrr, args: [a0, a1], def: true}
  const:
    - result: {banks: [gpr]}
      args: [{imm: true}]
      emit:
        - {opcode: MOVri, args: [a0], def: true}
  zext:
    - result: {banks: [gpr]}
      args: [{banks: [gpr]}]
      emit:
        - {opcode: MOVZXrr, args: [a0], def: true}
  trunc:
    - result: {banks: [gpr]}
      args: [{banks: [gpr]}]
      emit:
        - {opcode: MOVrr, args: [a0], def: true}
  arg:
    - result: {banks: [gpr]}
      args: [{imm: true}, {}]
      emit:
        - {opcode: MOVrr, args: [a1], def: true}
  ret:
    - pri: 10
      args: [{banks: [gpr]}]
      emit:
        - {opcode: MOVrr, args: ["@r0", a0]}
        - {opcode: RET, term: true}
    - args: []
      emit:
        - {opcode: RET, term: true}
`

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable([]byte(toyTable))
	if err != nil {
		t.Fatalf("ParseTable failed: %v", err)
	}
	if tbl.Name != "toy" || tbl.PointerBits != 64 {
		t.Errorf("header parsed wrong: %q %d", tbl.Name, tbl.PointerBits)
	}
	if !tbl.Legal(mir.OpAdd, i32, mir.BankInt) {
		t.Errorf("add i32 not legal")
	}
	if r, ok := tbl.RuleFor(mir.OpAdd, i8); !ok || r.Action != ActionWiden || r.Wide != i32 {
		t.Errorf("RuleFor(add, i8) = %+v (%v), want widen to i32", r, ok)
	}
	if tbl.Call.IntArgRegs[0] != "r0" || tbl.Call.StackSlot != 8 {
		t.Errorf("calling convention parsed wrong: %+v", tbl.Call)
	}
	if !tbl.SingleBanked() {
		t.Errorf("toy table should be single-banked")
	}
}

func TestParseTable_Patterns(t *testing.T) {
	tbl, err := ParseTable([]byte(toyTable))
	if err != nil {
		t.Fatalf("ParseTable failed: %v", err)
	}
	pats := tbl.PatternsFor(mir.OpAdd)
	if len(pats) != 2 {
		t.Fatalf("add has %d patterns, want 2", len(pats))
	}
	if !pats[0].Args[1].Imm || pats[0].Pri != 10 {
		t.Errorf("immediate form not first: %+v", pats[0])
	}
	addri, ok := tbl.OpcodeByName("ADDri")
	if !ok || pats[0].Emit[0].Opcode != addri {
		t.Errorf("ADDri template opcode wrong: %v %v", addri, ok)
	}

	ret := tbl.PatternsFor(mir.OpRet)
	if len(ret) != 2 || len(ret[0].Emit) != 2 || !ret[0].Emit[1].Term {
		t.Fatalf("ret patterns parsed wrong: %+v", ret)
	}
	if ret[0].Emit[0].Args[0] != SymRef("r0") {
		t.Errorf("symbol template arg parsed as %+v", ret[0].Emit[0].Args[0])
	}

	if len(tbl.FusionPairs) != 1 || tbl.OpName(tbl.FusionPairs[0]) != "ADDrr" {
		t.Errorf("fusion list parsed wrong: %v", tbl.FusionPairs)
	}
}

func TestParseTable_Rejects(t *testing.T) {
	cases := []struct {
		name, src, want string
	}{
		{"no name", "format: v1.0.0\npointer_bits: 64\n", "no name"},
		{"unknown op", "name: t\npointer_bits: 64\nops:\n  frobnicate:\n    - {action: legal}\n", "unknown generic op"},
		{"unknown action", "name: t\npointer_bits: 64\nops:\n  add:\n    - {type: i32, banks: [gpr], action: fold}\n", "unknown action"},
		{"unknown bank", "name: t\npointer_bits: 64\nops:\n  add:\n    - {type: i32, banks: [sgpr], action: legal}\n", "unknown bank"},
	}
	for _, c := range cases {
		if _, err := ParseTable([]byte(c.src)); err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: ParseTable = %v, want error containing %q", c.name, err, c.want)
		}
	}

	bad := strings.Replace(toyTable, "fusion: [ADDrr]", "fusion: [XCHGrr]", 1)
	if _, err := ParseTable([]byte(bad)); err == nil || !strings.Contains(err.Error(), "unknown opcode") {
		t.Errorf("fusion with unknown opcode: ParseTable = %v", err)
	}
}

func TestParseArgRef(t *testing.T) {
	cases := []struct {
		in   string
		want ArgRef
		ok   bool
	}{
		{"a0", RootArg(0), true},
		{"a2", RootArg(2), true},
		{"a1.0", SubArg(1, 0), true},
		{"#42", LitArg(42), true},
		{"#-1", LitArg(-1), true},
		{"@memcpy", SymRef("memcpy"), true},
		{"b0", ArgRef{}, false},
		{"a", ArgRef{}, false},
		{"#x", ArgRef{}, false},
	}
	for _, c := range cases {
		got, err := parseArgRef(c.in)
		if c.ok != (err == nil) {
			t.Errorf("parseArgRef(%q) err = %v, want ok=%v", c.in, err, c.ok)
			continue
		}
		if c.ok && !sameArgRef(got, c.want) {
			t.Errorf("parseArgRef(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

// sameArgRef compares literal operands by value rather than by pointer.
func sameArgRef(a, b ArgRef) bool {
	if (a.Lit == nil) != (b.Lit == nil) {
		return false
	}
	if a.Lit != nil && *a.Lit != *b.Lit {
		return false
	}
	a.Lit, b.Lit = nil, nil
	return a == b
}
