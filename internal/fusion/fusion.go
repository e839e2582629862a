// Package fusion marks compare instructions that sit immediately before a
// conditional branch so the external scheduler can keep the pair adjacent.
// It is the worked example of a target-inserted auxiliary pass: it runs
// after selection, changes no semantics, and only sets hint flags.
package fusion

import "github.com/tinyrange/isel/internal/mir"

// Run flags (compare, branch) pairs. pairs lists the concrete opcodes the
// target considers fusable heads; the tail must be a terminator with more
// than one successor.
func Run(f *mir.Function, pairs []mir.Op) error {
	fusable := make(map[mir.Op]bool, len(pairs))
	for _, op := range pairs {
		fusable[op] = true
	}
	for bi := range f.Blocks {
		instrs := f.Blocks[bi].Instrs
		var prev *mir.Instr
		for _, idx := range instrs {
			in := f.Instr(idx)
			if in.Op == mir.OpNop {
				continue
			}
			if in.Term() && len(f.Blocks[bi].Succs) > 1 && prev != nil && fusable[prev.Op] {
				prev.Flags |= mir.FlagFused
				in.Flags |= mir.FlagFused
			}
			prev = in
		}
	}
	return nil
}
