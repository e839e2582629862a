package mir

import "fmt"

// Op identifies an operation. Values below FirstTargetOp are the generic
// (architecture-independent) operations every stage understands; values at or
// above it are concrete target opcodes whose names come from the capability
// table that allocated them.
type Op int32

const (
	OpInvalid Op = iota
	OpNop         // tombstone left by deletions; skipped everywhere

	// Value movement.
	OpCopy
	OpConst
	OpFConst

	// Integer arithmetic.
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem

	// Bitwise.
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr
	OpRotl

	// Width conversions. Pack/unpack split a wide value into register-pair
	// halves and back; the external allocator assigns the pair.
	OpTrunc
	OpZExt
	OpSExt
	OpPack
	OpUnpackLo
	OpUnpackHi

	// Floating point.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpIntToFP
	OpFPToInt
	OpBitcast

	// Comparison and selection.
	OpICmp
	OpFCmp
	OpSelect

	// Memory.
	OpLoad
	OpStore
	OpFrameAddr
	OpGlobalAddr

	// Control flow and calls.
	OpArg
	OpBr
	OpCondBr
	OpCall
	OpCallArg
	OpCallRet
	OpRet

	numGenericOps
)

// FirstTargetOp is the first opcode value available to target tables.
const FirstTargetOp Op = 1 << 16

var genericOpNames = [numGenericOps]string{
	OpNop:        "nop",
	OpCopy:       "copy",
	OpConst:      "const",
	OpFConst:     "fconst",
	OpAdd:        "add",
	OpSub:        "sub",
	OpMul:        "mul",
	OpSDiv:       "sdiv",
	OpUDiv:       "udiv",
	OpSRem:       "srem",
	OpURem:       "urem",
	OpAnd:        "and",
	OpOr:         "or",
	OpXor:        "xor",
	OpShl:        "shl",
	OpLShr:       "lshr",
	OpAShr:       "ashr",
	OpRotl:       "rotl",
	OpTrunc:      "trunc",
	OpZExt:       "zext",
	OpSExt:       "sext",
	OpPack:       "pack",
	OpUnpackLo:   "unpacklo",
	OpUnpackHi:   "unpackhi",
	OpFAdd:       "fadd",
	OpFSub:       "fsub",
	OpFMul:       "fmul",
	OpFDiv:       "fdiv",
	OpFNeg:       "fneg",
	OpIntToFP:    "inttofp",
	OpFPToInt:    "fptoint",
	OpBitcast:    "bitcast",
	OpICmp:       "icmp",
	OpFCmp:       "fcmp",
	OpSelect:     "select",
	OpLoad:       "load",
	OpStore:      "store",
	OpFrameAddr:  "frameaddr",
	OpGlobalAddr: "globaladdr",
	OpArg:        "arg",
	OpBr:         "br",
	OpCondBr:     "condbr",
	OpCall:       "call",
	OpCallArg:    "callarg",
	OpCallRet:    "callret",
	OpRet:        "ret",
}

var genericOpsByName = func() map[string]Op {
	m := make(map[string]Op, numGenericOps)
	for op := OpNop; op < numGenericOps; op++ {
		m[genericOpNames[op]] = op
	}
	return m
}()

// Generic reports whether op is a generic operation rather than a target
// opcode.
func (op Op) Generic() bool { return op > OpInvalid && op < numGenericOps }

func (op Op) String() string {
	if op.Generic() {
		return genericOpNames[op]
	}
	if op >= FirstTargetOp {
		return fmt.Sprintf("target(%d)", int32(op-FirstTargetOp))
	}
	return fmt.Sprintf("op(%d)", int32(op))
}

// OpByName resolves the textual name of a generic operation.
func OpByName(name string) (Op, bool) {
	op, ok := genericOpsByName[name]
	return op, ok
}

// HasResult reports whether the generic op produces a value.
func (op Op) HasResult() bool {
	switch op {
	case OpStore, OpBr, OpCondBr, OpRet, OpCallArg, OpCall, OpNop:
		return false
	}
	return true
}

// Signed reports whether the generic op treats its integer operands as
// signed, which decides the extension used when widening.
func (op Op) Signed() bool {
	switch op {
	case OpSDiv, OpSRem, OpAShr, OpSExt:
		return true
	}
	return false
}

// Cond is a comparison predicate carried as the first immediate operand of
// icmp/fcmp instructions.
type Cond int64

const (
	CondEq Cond = iota
	CondNe
	CondLt  // signed / ordered
	CondLe  // signed / ordered
	CondGt  // signed / ordered
	CondGe  // signed / ordered
	CondULt // unsigned / unordered
	CondULe
	CondUGt
	CondUGe
)

func (c Cond) String() string {
	switch c {
	case CondEq:
		return "eq"
	case CondNe:
		return "ne"
	case CondLt:
		return "lt"
	case CondLe:
		return "le"
	case CondGt:
		return "gt"
	case CondGe:
		return "ge"
	case CondULt:
		return "ult"
	case CondULe:
		return "ule"
	case CondUGt:
		return "ugt"
	case CondUGe:
		return "uge"
	default:
		return fmt.Sprintf("cond(%d)", int64(c))
	}
}
