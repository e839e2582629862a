package mir

import (
	"strings"
	"testing"
)

func TestFunction_ArenaEdits(t *testing.T) {
	f := NewFunction("edit")
	b := f.NewBlock()

	i32 := Int(32)
	r1 := f.NewReg(i32)
	r2 := f.NewReg(i32)
	r3 := f.NewReg(i32)

	f.Append(b, Instr{Op: OpConst, Result: r1, Type: i32, Args: []Operand{ImmOp(1)}})
	addIdx := f.Append(b, Instr{Op: OpAdd, Result: r3, Type: i32, Args: []Operand{RegOp(r1), RegOp(r2)}})
	f.Append(b, Instr{Op: OpRet, Args: []Operand{RegOp(r3)}, Flags: FlagTerm})

	// Insert the missing definition of r2 before the add.
	f.InsertBefore(b, 1, Instr{Op: OpConst, Result: r2, Type: i32, Args: []Operand{ImmOp(2)}})
	if got := len(f.Blocks[b].Instrs); got != 4 {
		t.Fatalf("block length = %d, want 4", got)
	}
	if err := f.Verify(); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// Removing tombstones the slot; indices held elsewhere stay valid.
	n := f.NumInstrs()
	f.Remove(addIdx)
	if f.NumInstrs() != n {
		t.Errorf("Remove changed arena size")
	}
	if f.Instr(addIdx).Op != OpNop {
		t.Errorf("Remove left op %v, want nop", f.Instr(addIdx).Op)
	}

	f.Compact()
	if got := len(f.Blocks[b].Instrs); got != 3 {
		t.Errorf("block length after Compact = %d, want 3", got)
	}
	for _, idx := range f.Blocks[b].Instrs {
		if f.Instr(idx).Op == OpNop {
			t.Errorf("Compact left a tombstone in the block list")
		}
	}
}

func TestFunction_UsesDefs(t *testing.T) {
	f := NewFunction("ud")
	b := f.NewBlock()
	i64 := Int(64)
	x := f.NewReg(i64)
	y := f.NewReg(i64)

	xIdx := f.Append(b, Instr{Op: OpConst, Result: x, Type: i64, Args: []Operand{ImmOp(7)}})
	yIdx := f.Append(b, Instr{Op: OpAdd, Result: y, Type: i64, Args: []Operand{RegOp(x), RegOp(x)}})
	f.Append(b, Instr{Op: OpRet, Args: []Operand{RegOp(y)}, Flags: FlagTerm})

	defs := f.Defs()
	if defs[x] != xIdx || defs[y] != yIdx {
		t.Errorf("Defs = %v, want x->%d y->%d", defs, xIdx, yIdx)
	}
	uses := f.Uses()
	if len(uses[x]) != 2 {
		t.Errorf("uses of x = %d, want 2 (one per operand occurrence)", len(uses[x]))
	}
	if len(uses[y]) != 1 {
		t.Errorf("uses of y = %d, want 1", len(uses[y]))
	}
}

func TestFunction_Dump(t *testing.T) {
	f := NewFunction("dump")
	b := f.NewBlock()
	i32 := Int(32)
	r := f.NewReg(i32)
	f.Append(b, Instr{Op: OpConst, Result: r, Type: i32, Args: []Operand{ImmOp(5)}})
	f.Append(b, Instr{Op: OpRet, Args: []Operand{RegOp(r)}, Flags: FlagTerm})

	want := "func @dump {\nb0:\n  %1:i32 = const 5\n  ret %1\n}\n"
	if got := f.String(); got != want {
		t.Errorf("Dump = %q, want %q", got, want)
	}

	// Banks show up once assigned.
	f.SetRegBank(r, BankInt)
	if !strings.Contains(f.String(), "%1:i32:gpr") {
		t.Errorf("Dump after bank assignment = %q, want bank suffix", f.String())
	}
}

func TestFunction_DumpDeterministic(t *testing.T) {
	build := func() string {
		f := NewFunction("det")
		b := f.NewBlock()
		i64 := Int(64)
		var prev Reg
		for i := 0; i < 8; i++ {
			r := f.NewReg(i64)
			args := []Operand{ImmOp(int64(i))}
			if prev != 0 {
				args = []Operand{RegOp(prev), ImmOp(int64(i))}
				f.Append(b, Instr{Op: OpAdd, Result: r, Type: i64, Args: args})
			} else {
				f.Append(b, Instr{Op: OpConst, Result: r, Type: i64, Args: args})
			}
			prev = r
		}
		f.Append(b, Instr{Op: OpRet, Args: []Operand{RegOp(prev)}, Flags: FlagTerm})
		return f.String()
	}
	if build() != build() {
		t.Fatalf("identical construction produced different dumps")
	}
}
