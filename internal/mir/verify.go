package mir

import "fmt"

// Verify checks the global well-formedness invariant every stage must
// re-establish before handing off: each block terminated exactly once, every
// branch target a valid block, successor lists consistent with terminators,
// each register defined once and defined before use on every path. It fails
// loudly on malformed input rather than letting a later stage corrupt output.
func (f *Function) Verify() error {
	if len(f.Blocks) == 0 {
		return fmt.Errorf("mir: function %s has no blocks", f.Name)
	}

	defs := make(map[Reg]int)
	for bi := range f.Blocks {
		blk := &f.Blocks[bi]
		term := -1
		for pos, idx := range blk.Instrs {
			if idx < 0 || idx >= len(f.arena) {
				return fmt.Errorf("mir: %s: block %d holds bad arena index %d", f.Name, bi, idx)
			}
			in := &f.arena[idx]
			if in.Op == OpNop {
				continue
			}
			if term >= 0 {
				return fmt.Errorf("mir: %s: block %d has instructions after its terminator", f.Name, bi)
			}
			if in.Term() {
				term = pos
			}
			for _, a := range in.Args {
				if a.Kind == OperandBlock && (a.Block < 0 || a.Block >= len(f.Blocks)) {
					return fmt.Errorf("mir: %s: block %d branches to missing block %d", f.Name, bi, a.Block)
				}
				if (a.Kind == OperandReg || a.Kind == OperandMem) && a.Reg != 0 && !f.ValidReg(a.Reg) {
					return fmt.Errorf("mir: %s: block %d uses unallocated register %%%d", f.Name, bi, a.Reg)
				}
			}
			if in.Result != 0 {
				if !f.ValidReg(in.Result) {
					return fmt.Errorf("mir: %s: block %d defines unallocated register %%%d", f.Name, bi, in.Result)
				}
				if prev, ok := defs[in.Result]; ok {
					return fmt.Errorf("mir: %s: register %%%d defined twice (instrs %d and %d)", f.Name, in.Result, prev, idx)
				}
				defs[in.Result] = idx
			}
		}
		if term < 0 {
			return fmt.Errorf("mir: %s: block %d is not terminated", f.Name, bi)
		}
		if err := f.checkSuccs(bi); err != nil {
			return err
		}
	}

	return f.checkDefBeforeUse()
}

// checkSuccs verifies that a block's successor list matches the block
// operands of its terminator, order preserved.
func (f *Function) checkSuccs(bi int) error {
	blk := &f.Blocks[bi]
	var want []int
	for _, idx := range blk.Instrs {
		in := &f.arena[idx]
		if in.Op == OpNop || !in.Term() {
			continue
		}
		for _, a := range in.Args {
			if a.Kind == OperandBlock {
				want = append(want, a.Block)
			}
		}
	}
	if len(want) != len(blk.Succs) {
		return fmt.Errorf("mir: %s: block %d successor list disagrees with terminator", f.Name, bi)
	}
	for i, s := range want {
		if blk.Succs[i] != s {
			return fmt.Errorf("mir: %s: block %d successor list disagrees with terminator", f.Name, bi)
		}
	}
	return nil
}

// checkDefBeforeUse runs a forward dataflow over blocks: a register is
// available at block entry only if it is defined on every path there.
func (f *Function) checkDefBeforeUse() error {
	n := len(f.regs)
	preds := make([][]int, len(f.Blocks))
	for bi := range f.Blocks {
		for _, s := range f.Blocks[bi].Succs {
			preds[s] = append(preds[s], bi)
		}
	}

	in := make([][]bool, len(f.Blocks))
	out := make([][]bool, len(f.Blocks))
	for bi := range f.Blocks {
		in[bi] = make([]bool, n)
		out[bi] = make([]bool, n)
		if bi != 0 {
			// Top element for the intersection; refined below.
			for r := 1; r < n; r++ {
				in[bi][r] = true
				out[bi][r] = true
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for bi := range f.Blocks {
			if bi != 0 {
				if len(preds[bi]) == 0 {
					// Unreachable; leave at top, it constrains nothing.
				} else {
					for r := 1; r < n; r++ {
						avail := true
						for _, p := range preds[bi] {
							if !out[p][r] {
								avail = false
								break
							}
						}
						if in[bi][r] != avail {
							in[bi][r] = avail
							changed = true
						}
					}
				}
			}
			cur := append([]bool(nil), in[bi]...)
			for _, idx := range f.Blocks[bi].Instrs {
				instr := &f.arena[idx]
				if instr.Op == OpNop {
					continue
				}
				if instr.Result != 0 {
					cur[instr.Result] = true
				}
			}
			for r := 1; r < n; r++ {
				if out[bi][r] != cur[r] {
					out[bi][r] = cur[r]
					changed = true
				}
			}
		}
	}

	for bi := range f.Blocks {
		cur := append([]bool(nil), in[bi]...)
		for _, idx := range f.Blocks[bi].Instrs {
			instr := &f.arena[idx]
			if instr.Op == OpNop {
				continue
			}
			for _, a := range instr.Args {
				if (a.Kind == OperandReg || a.Kind == OperandMem) && a.Reg != 0 && !cur[a.Reg] {
					return fmt.Errorf("mir: %s: block %d: register %%%d used before definition", f.Name, bi, a.Reg)
				}
			}
			if instr.Result != 0 {
				cur[instr.Result] = true
			}
		}
	}
	return nil
}
