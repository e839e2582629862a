package target

import "github.com/tinyrange/isel/internal/mir"

// CallConv is the calling-convention descriptor: how argument and return
// values are assigned to register slots and stack offsets. Slots name
// physical registers only symbolically; binding them is the external
// allocator's job.
type CallConv struct {
	IntArgRegs []string // integer/pointer argument registers, in order
	FPArgRegs  []string // floating-point argument registers, in order
	IntRetReg  string
	FPRetReg   string
	StackAlign int64 // outgoing stack alignment in bytes
	StackSlot  int64 // bytes consumed per stack-passed argument
}

// Slot is one assigned argument location.
type Slot struct {
	Reg     string // register slot name, when !OnStack
	Offset  int64  // outgoing stack offset, when OnStack
	OnStack bool
}

// ArgSlots assigns a slot to each argument in order: integer and pointer
// arguments consume integer registers, float arguments consume FP registers,
// and overflow goes to the stack at increasing offsets.
func (cc *CallConv) ArgSlots(types []mir.Type) []Slot {
	slots := make([]Slot, len(types))
	nextInt, nextFP := 0, 0
	var stack int64
	slotSize := cc.StackSlot
	if slotSize == 0 {
		slotSize = 8
	}
	for i, ty := range types {
		if ty.Class == mir.ClassFloat {
			if nextFP < len(cc.FPArgRegs) {
				slots[i] = Slot{Reg: cc.FPArgRegs[nextFP]}
				nextFP++
				continue
			}
		} else {
			if nextInt < len(cc.IntArgRegs) {
				slots[i] = Slot{Reg: cc.IntArgRegs[nextInt]}
				nextInt++
				continue
			}
		}
		slots[i] = Slot{Offset: stack, OnStack: true}
		stack += slotSize
	}
	return slots
}

// RetReg returns the symbolic register a value of the given type is returned
// in.
func (cc *CallConv) RetReg(ty mir.Type) string {
	if ty.Class == mir.ClassFloat {
		return cc.FPRetReg
	}
	return cc.IntRetReg
}
