package amd64

import (
	"testing"

	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

func TestBuild(t *testing.T) {
	tbl, err := target.New("amd64")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tbl.PointerBits != 64 {
		t.Errorf("PointerBits = %d, want 64", tbl.PointerBits)
	}
	if tbl.SingleBanked() {
		t.Errorf("table has fp rules, SingleBanked should be false")
	}
	if tbl.Call.IntArgRegs[0] != "rdi" || tbl.Call.FPRetReg != "xmm0" {
		t.Errorf("calling convention wrong: %+v", tbl.Call)
	}
	if len(tbl.FusionPairs) == 0 {
		t.Errorf("no fusion pairs declared")
	}
}

func TestRules(t *testing.T) {
	tbl, err := target.New("amd64")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !tbl.Legal(mir.OpAdd, mir.Int(32), mir.BankInt) {
		t.Errorf("add i32 not legal")
	}
	if tbl.Legal(mir.OpAdd, mir.Int(32), mir.BankFP) {
		t.Errorf("add i32 legal in fpr")
	}

	// Sub-byte shifts widen to the narrowest width the shift fixup handles.
	if r, ok := tbl.RuleFor(mir.OpShl, mir.Int(3)); !ok || r.Action != target.ActionWiden || r.Wide != mir.Int(8) {
		t.Errorf("RuleFor(shl, i3) = %+v (%v), want widen to i8", r, ok)
	}
	if r, ok := tbl.RuleFor(mir.OpAdd, mir.Int(128)); !ok || r.Action != target.ActionNarrow {
		t.Errorf("RuleFor(add, i128) = %+v (%v), want narrow", r, ok)
	}
	if r, ok := tbl.RuleFor(mir.OpSDiv, mir.Int(128)); !ok || r.Action != target.ActionLibcall || r.LibCall != "__divti3" {
		t.Errorf("RuleFor(sdiv, i128) = %+v (%v), want __divti3", r, ok)
	}
	if r, ok := tbl.RuleFor(mir.OpSRem, mir.Int(64)); !ok || r.Action != target.ActionExpand {
		t.Errorf("RuleFor(srem, i64) = %+v (%v), want expand", r, ok)
	}

	// fcmp reads fp registers but produces a flag in a gpr.
	r, ok := tbl.RuleFor(mir.OpFCmp, mir.Float(64))
	if !ok || !r.Banks.Has(mir.BankInt) || len(r.ArgBanks) != 3 || !r.ArgBanks[1].Has(mir.BankFP) {
		t.Errorf("fcmp rule wrong: %+v (%v)", r, ok)
	}
}

func TestPatternsCoverLegalOps(t *testing.T) {
	tbl, err := target.New("amd64")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, op := range []mir.Op{mir.OpAdd, mir.OpLoad, mir.OpStore, mir.OpICmp, mir.OpSelect, mir.OpRet, mir.OpCondBr} {
		if len(tbl.PatternsFor(op)) == 0 {
			t.Errorf("no patterns for %s", op)
		}
	}
}
