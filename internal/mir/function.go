package mir

import "fmt"

// OperandKind tags an Operand.
type OperandKind uint8

const (
	OperandNil OperandKind = iota
	OperandReg
	OperandImm
	OperandMem
	OperandBlock
	OperandSym
)

// Operand is a tagged variant over the operand forms an instruction can
// carry: a virtual register, an immediate, a memory reference (base register
// plus displacement), a basic-block label, or a symbol.
type Operand struct {
	Kind  OperandKind
	Reg   Reg    // OperandReg, OperandMem base
	Imm   int64  // OperandImm, OperandMem displacement
	Block int    // OperandBlock
	Sym   string // OperandSym
}

func RegOp(r Reg) Operand   { return Operand{Kind: OperandReg, Reg: r} }
func ImmOp(v int64) Operand { return Operand{Kind: OperandImm, Imm: v} }

func MemOp(base Reg, disp int64) Operand {
	return Operand{Kind: OperandMem, Reg: base, Imm: disp}
}
func BlockOp(b int) Operand  { return Operand{Kind: OperandBlock, Block: b} }
func SymOp(s string) Operand { return Operand{Kind: OperandSym, Sym: s} }

// Instruction flags.
const (
	FlagTerm      uint8 = 1 << iota // block terminator
	FlagFused                       // scheduler fusion hint
	FlagLegalized                   // emitted by the legalizer in final form
)

// Instr is one machine instruction: an operation, an optional result register
// with its type, and an ordered operand list.
type Instr struct {
	Op     Op
	Result Reg
	Type   Type
	Args   []Operand
	Flags  uint8
}

func (in *Instr) Term() bool { return in.Flags&FlagTerm != 0 }

// Block is an ordered list of arena indices plus the successor blocks named
// by its terminator.
type Block struct {
	Instrs []int
	Succs  []int
}

// RegInfo records what is known about a virtual register; the type is fixed
// at creation and the bank is filled in by the register bank selector.
type RegInfo struct {
	Type Type
	Bank Bank
}

// Function is the Function Unit handed from stage to stage. Instructions live
// in an append-only arena; deletion tombstones the slot with OpNop so indices
// held by in-flight iterations stay valid.
type Function struct {
	Name   string
	Blocks []Block

	arena []Instr
	regs  []RegInfo // regs[0] is the invalid register
}

func NewFunction(name string) *Function {
	return &Function{
		Name: name,
		regs: make([]RegInfo, 1),
	}
}

// NewReg allocates a virtual register of the given type.
func (f *Function) NewReg(t Type) Reg {
	f.regs = append(f.regs, RegInfo{Type: t})
	return Reg(len(f.regs) - 1)
}

// NumRegs returns the number of allocated virtual registers.
func (f *Function) NumRegs() int { return len(f.regs) - 1 }

func (f *Function) ValidReg(r Reg) bool { return r > 0 && int(r) < len(f.regs) }

func (f *Function) RegType(r Reg) Type {
	if !f.ValidReg(r) {
		return Type{}
	}
	return f.regs[r].Type
}

func (f *Function) RegBank(r Reg) Bank {
	if !f.ValidReg(r) {
		return BankNone
	}
	return f.regs[r].Bank
}

func (f *Function) SetRegBank(r Reg, b Bank) {
	if f.ValidReg(r) {
		f.regs[r].Bank = b
	}
}

// NewBlock appends an empty block and returns its index.
func (f *Function) NewBlock() int {
	f.Blocks = append(f.Blocks, Block{})
	return len(f.Blocks) - 1
}

// Instr returns the instruction at an arena index. The pointer stays valid
// until the next Append/Insert (the arena may be reallocated), so callers
// must not hold it across edits.
func (f *Function) Instr(idx int) *Instr { return &f.arena[idx] }

// NumInstrs returns the arena size, including tombstones.
func (f *Function) NumInstrs() int { return len(f.arena) }

func (f *Function) alloc(in Instr) int {
	f.arena = append(f.arena, in)
	return len(f.arena) - 1
}

// Append adds an instruction at the end of block b and returns its arena
// index.
func (f *Function) Append(b int, in Instr) int {
	idx := f.alloc(in)
	f.Blocks[b].Instrs = append(f.Blocks[b].Instrs, idx)
	return idx
}

// InsertBefore inserts an instruction into block b before position pos (an
// index into Block.Instrs, not an arena index) and returns its arena index.
func (f *Function) InsertBefore(b, pos int, in Instr) int {
	idx := f.alloc(in)
	blk := &f.Blocks[b]
	blk.Instrs = append(blk.Instrs, 0)
	copy(blk.Instrs[pos+1:], blk.Instrs[pos:])
	blk.Instrs[pos] = idx
	return idx
}

// InsertAfter inserts an instruction into block b after position pos.
func (f *Function) InsertAfter(b, pos int, in Instr) int {
	return f.InsertBefore(b, pos+1, in)
}

// Remove tombstones the instruction at an arena index.
func (f *Function) Remove(idx int) {
	f.arena[idx] = Instr{Op: OpNop}
}

// Compact drops tombstones from every block's instruction list. Arena
// indices are unchanged; only the per-block ordering lists shrink.
func (f *Function) Compact() {
	for bi := range f.Blocks {
		blk := &f.Blocks[bi]
		out := blk.Instrs[:0]
		for _, idx := range blk.Instrs {
			if f.arena[idx].Op != OpNop {
				out = append(out, idx)
			}
		}
		blk.Instrs = out
	}
}

// Uses returns, per virtual register, the arena indices of instructions that
// read it. Deterministic: indices appear in block/position order.
func (f *Function) Uses() map[Reg][]int {
	uses := make(map[Reg][]int)
	for bi := range f.Blocks {
		for _, idx := range f.Blocks[bi].Instrs {
			in := &f.arena[idx]
			if in.Op == OpNop {
				continue
			}
			for _, a := range in.Args {
				if a.Kind == OperandReg || a.Kind == OperandMem {
					if a.Reg != 0 {
						uses[a.Reg] = append(uses[a.Reg], idx)
					}
				}
			}
		}
	}
	return uses
}

// Defs returns, per virtual register, the arena index of the defining
// instruction. A register defined more than once maps to its first
// definition; Verify rejects such functions.
func (f *Function) Defs() map[Reg]int {
	defs := make(map[Reg]int)
	for bi := range f.Blocks {
		for _, idx := range f.Blocks[bi].Instrs {
			in := &f.arena[idx]
			if in.Op == OpNop || in.Result == 0 {
				continue
			}
			if _, ok := defs[in.Result]; !ok {
				defs[in.Result] = idx
			}
		}
	}
	return defs
}

// BlockOf returns the block index and position of an arena index, or -1, -1
// if the instruction is not in any block list.
func (f *Function) BlockOf(idx int) (int, int) {
	for bi := range f.Blocks {
		for pos, i := range f.Blocks[bi].Instrs {
			if i == idx {
				return bi, pos
			}
		}
	}
	return -1, -1
}

func (f *Function) String() string {
	return f.Dump(func(op Op) string { return op.String() })
}

// Dump renders the function deterministically. names resolves opcode names;
// target opcodes need the owning capability table's resolver.
func (f *Function) Dump(names func(Op) string) string {
	var b []byte
	b = fmt.Appendf(b, "func @%s {\n", f.Name)
	for bi := range f.Blocks {
		b = fmt.Appendf(b, "b%d:\n", bi)
		for _, idx := range f.Blocks[bi].Instrs {
			in := &f.arena[idx]
			if in.Op == OpNop {
				continue
			}
			b = append(b, "  "...)
			if in.Result != 0 {
				b = fmt.Appendf(b, "%%%d:%s", in.Result, f.RegType(in.Result))
				if bank := f.RegBank(in.Result); bank != BankNone {
					b = fmt.Appendf(b, ":%s", bank)
				}
				b = append(b, " = "...)
			}
			b = append(b, names(in.Op)...)
			for ai, a := range in.Args {
				if ai == 0 {
					b = append(b, ' ')
				} else {
					b = append(b, ", "...)
				}
				b = appendOperand(b, f, a)
			}
			if in.Flags&FlagFused != 0 {
				b = append(b, " ; fused"...)
			}
			b = append(b, '\n')
		}
	}
	b = append(b, "}\n"...)
	return string(b)
}

func appendOperand(b []byte, f *Function, a Operand) []byte {
	switch a.Kind {
	case OperandReg:
		return fmt.Appendf(b, "%%%d", a.Reg)
	case OperandImm:
		return fmt.Appendf(b, "%d", a.Imm)
	case OperandMem:
		if a.Imm != 0 {
			return fmt.Appendf(b, "[%%%d+%d]", a.Reg, a.Imm)
		}
		return fmt.Appendf(b, "[%%%d]", a.Reg)
	case OperandBlock:
		return fmt.Appendf(b, "b%d", a.Block)
	case OperandSym:
		return fmt.Appendf(b, "@%s", a.Sym)
	default:
		return append(b, "<nil>"...)
	}
}
