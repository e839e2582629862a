// Package regbank implements the third pipeline stage: assigning every
// value-producing instruction's result to a register bank consistent with
// its consumers. Bank conflicts are resolved with explicit copy
// instructions; bits are never silently reinterpreted across banks. The
// choice is greedy per value over the immediate def/use set; a globally
// optimal assignment is out of scope here.
package regbank

import (
	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/target"
)

const stageName = "regbank"

// Run assigns a bank to every virtual register and inserts cross-bank copies
// where a consumer demands a bank the definition cannot provide.
func Run(f *mir.Function, tbl *target.Table) error {
	if err := assign(f, tbl); err != nil {
		return err
	}
	if err := insertCopies(f, tbl); err != nil {
		return err
	}
	if err := f.Verify(); err != nil {
		return diag.Errf(stageName, f.Name, -1, -1, "", "produced malformed function: %v", err)
	}
	return nil
}

// assign picks each definition's bank: among the banks the defining
// operation allows, the one most of the immediate uses can consume
// directly. Ties break toward the lowest-numbered bank so the result is
// deterministic.
func assign(f *mir.Function, tbl *target.Table) error {
	uses := f.Uses()
	for bi := range f.Blocks {
		for _, idx := range f.Blocks[bi].Instrs {
			in := f.Instr(idx)
			if in.Op == mir.OpNop || in.Result == 0 {
				continue
			}
			allowed := resultBanks(f, tbl, in)
			if allowed == 0 {
				return diag.Errf(stageName, f.Name, bi, idx, tbl.OpName(in.Op),
					"capability table for %s allows no bank for result type %s",
					tbl.Name, f.RegType(in.Result))
			}

			best := allowed.First()
			bestScore := -1
			for b := mir.Bank(1); b < mir.NumBanks; b++ {
				if !allowed.Has(b) {
					continue
				}
				score := 0
				for _, uidx := range uses[in.Result] {
					u := f.Instr(uidx)
					for p, a := range u.Args {
						if a.Kind == mir.OperandReg && a.Reg == in.Result {
							if req := argBanks(f, tbl, u, p); req == 0 || req.Has(b) {
								score++
							}
						}
					}
				}
				if score > bestScore {
					best = b
					bestScore = score
				}
			}
			f.SetRegBank(in.Result, best)
		}
	}
	return nil
}

// insertCopies walks uses and bridges every remaining mismatch with one copy
// immediately before the consumer.
func insertCopies(f *mir.Function, tbl *target.Table) error {
	for bi := range f.Blocks {
		for pos := 0; pos < len(f.Blocks[bi].Instrs); pos++ {
			idx := f.Blocks[bi].Instrs[pos]
			in := f.Instr(idx)
			if in.Op == mir.OpNop {
				continue
			}
			grew := 0
			for p := range in.Args {
				a := f.Instr(idx).Args[p]
				var req target.BankSet
				switch a.Kind {
				case mir.OperandReg:
					req = argBanks(f, tbl, f.Instr(idx), p)
				case mir.OperandMem:
					// Address arithmetic happens in the integer bank.
					req = target.Banks(mir.BankInt)
				default:
					continue
				}
				if a.Reg == 0 {
					continue
				}
				have := f.RegBank(a.Reg)
				if req == 0 || req.Has(have) {
					continue
				}
				ty := f.RegType(a.Reg)
				r := f.NewReg(ty)
				f.SetRegBank(r, req.First())
				f.InsertBefore(bi, pos+grew, mir.Instr{
					Op: mir.OpCopy, Result: r, Type: ty, Args: []mir.Operand{mir.RegOp(a.Reg)},
				})
				grew++
				f.Instr(idx).Args[p].Reg = r
			}
			pos += grew
		}
	}
	return nil
}

// resultBanks returns the banks the table allows for an instruction's
// result.
func resultBanks(f *mir.Function, tbl *target.Table, in *mir.Instr) target.BankSet {
	ty := f.RegType(in.Result)
	if r, ok := tbl.RuleFor(in.Op, keyType(f, in)); ok && r.Banks != 0 && keyClass(f, in) == ty.Class {
		return r.Banks
	}
	return target.Banks(mir.DefaultBank(ty.Class))
}

// argBanks returns the banks a consumer accepts for operand p: an explicit
// per-argument override from the rule if declared, the rule's bank set when
// the operand shares the legality key's class, or the class default.
func argBanks(f *mir.Function, tbl *target.Table, in *mir.Instr, p int) target.BankSet {
	key := keyType(f, in)
	r, ok := tbl.RuleFor(in.Op, key)
	if ok && p < len(r.ArgBanks) && r.ArgBanks[p] != 0 {
		return r.ArgBanks[p]
	}
	a := in.Args[p]
	if a.Kind != mir.OperandReg {
		return 0
	}
	cls := f.RegType(a.Reg).Class
	if ok && r.Banks != 0 && cls == key.Class {
		return r.Banks
	}
	return target.Banks(mir.DefaultBank(cls))
}

// keyType mirrors the legalizer's legality key: comparisons and stores key
// on their operand type, everything else on the result type when present.
func keyType(f *mir.Function, in *mir.Instr) mir.Type {
	switch in.Op {
	case mir.OpICmp, mir.OpFCmp, mir.OpStore:
		for _, a := range in.Args {
			if a.Kind == mir.OperandReg {
				return f.RegType(a.Reg)
			}
		}
		return mir.Type{}
	}
	if in.Type.Valid() {
		return in.Type
	}
	for _, a := range in.Args {
		if a.Kind == mir.OperandReg {
			return f.RegType(a.Reg)
		}
	}
	return mir.Type{}
}

func keyClass(f *mir.Function, in *mir.Instr) mir.Class {
	return keyType(f, in).Class
}
