package target

import (
	"fmt"
	"sort"

	"golang.org/x/mod/semver"

	"github.com/tinyrange/isel/internal/mir"
)

// Validate checks the table for the configuration defects the pipeline is
// not allowed to discover at compile time: cyclic or unbounded legalization
// chains, malformed patterns, and legal forms with no pattern to select.
// It must be called exactly once, before the table is shared; afterwards the
// table is frozen.
func (t *Table) Validate() error {
	if t.validated {
		return fmt.Errorf("target %s: already validated", t.Name)
	}
	if !semver.IsValid(t.Format) {
		return fmt.Errorf("target %s: bad format version %q", t.Name, t.Format)
	}
	if semver.Major(t.Format) != semver.Major(FormatVersion) {
		return fmt.Errorf("target %s: format %s incompatible with %s", t.Name, t.Format, FormatVersion)
	}
	if t.PointerBits == 0 {
		return fmt.Errorf("target %s: pointer width not declared", t.Name)
	}

	if err := t.checkChains(); err != nil {
		return err
	}
	if err := t.checkPatterns(); err != nil {
		return err
	}

	t.singleBanked = true
	for _, rules := range t.rules {
		for _, r := range rules {
			if r.Banks.Count() > 1 {
				t.singleBanked = false
			}
			for _, ab := range r.ArgBanks {
				if ab.Count() > 1 {
					t.singleBanked = false
				}
			}
		}
	}

	t.validated = true
	return nil
}

// checkChains walks every declared widen/promote/narrow edge to its end,
// rejecting cycles and recording the longest chain as the legalizer's pass
// bound.
func (t *Table) checkChains() error {
	ops := t.GenericOps()
	for _, op := range ops {
		for _, r := range t.rules[op] {
			switch r.Action {
			case ActionWiden, ActionPromote:
				n, err := t.walkChain(op, r.Type, r)
				if err != nil {
					return err
				}
				if n > t.maxChain {
					t.maxChain = n
				}
			case ActionNarrow:
				if r.Type.Valid() && r.Type.Bits%2 != 0 {
					return fmt.Errorf("target %s: %s: cannot narrow odd width %s", t.Name, op, r.Type)
				}
				n, err := t.walkChain(op, r.Type, r)
				if err != nil {
					return err
				}
				if n > t.maxChain {
					t.maxChain = n
				}
			case ActionLibcall:
				if r.LibCall == "" {
					return fmt.Errorf("target %s: %s: libcall rule without a symbol", t.Name, op)
				}
			}
		}
	}
	if t.maxChain == 0 {
		t.maxChain = 1
	}
	return nil
}

func (t *Table) walkChain(op mir.Op, from mir.Type, first Rule) (int, error) {
	seen := map[mir.Type]bool{}
	ty := from
	r := first
	steps := 0
	for {
		steps++
		if steps > 64 {
			return 0, fmt.Errorf("target %s: %s: legalization chain from %s exceeds bound", t.Name, op, from)
		}
		var next mir.Type
		switch r.Action {
		case ActionLegal, ActionExpand, ActionLibcall:
			return steps, nil
		case ActionWiden, ActionPromote:
			next = r.Wide
			if !next.Valid() {
				// Resolved lazily against declared legal widths; one step.
				if _, ok := t.nextLegalWidth(op, ty); !ok && ty.Valid() {
					return 0, fmt.Errorf("target %s: %s: no legal width to widen %s to", t.Name, op, ty)
				}
				return steps + 1, nil
			}
		case ActionNarrow:
			if !ty.Valid() {
				return steps, nil // wildcard narrow; checked per concrete type at run time
			}
			next = mir.Type{Bits: ty.Bits / 2, Class: ty.Class}
			if next.Bits == 0 {
				return 0, fmt.Errorf("target %s: %s: cannot narrow %s further", t.Name, op, ty)
			}
		default:
			return 0, fmt.Errorf("target %s: %s: rule for %s has no action", t.Name, op, ty)
		}
		if seen[next] {
			return 0, fmt.Errorf("target %s: cyclic legalization chain for %s at %s", t.Name, op, next)
		}
		seen[next] = true
		nr, ok := t.RuleFor(op, next)
		if !ok {
			return 0, fmt.Errorf("target %s: %s: chain leads to %s which has no rule", t.Name, op, next)
		}
		ty = next
		r = nr
	}
}

// checkPatterns sorts pattern lists into priority order and enforces
// selection totality: every legal form has at least one admitting pattern.
func (t *Table) checkPatterns() error {
	for op, pats := range t.patterns {
		sort.SliceStable(pats, func(i, j int) bool { return pats[i].Pri > pats[j].Pri })
		for pi := range pats {
			if err := t.checkPattern(op, &pats[pi]); err != nil {
				return err
			}
		}
	}

	for _, op := range t.GenericOps() {
		for _, r := range t.rules[op] {
			needPattern := r.Action == ActionLegal
			if r.Action == ActionExpand && (op == mir.OpShl || op == mir.OpLShr || op == mir.OpAShr) {
				// Shift expansion re-emits the shift itself with clamped
				// amounts, so the shift still needs a pattern.
				needPattern = true
			}
			if !needPattern {
				continue
			}
			if err := t.checkTotality(op, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Table) checkPattern(op mir.Op, p *Pattern) error {
	defs := 0
	for _, tmpl := range p.Emit {
		if tmpl.Opcode < mir.FirstTargetOp || int(tmpl.Opcode-mir.FirstTargetOp) >= len(t.opNames) {
			return fmt.Errorf("target %s: pattern for %s emits unknown opcode", t.Name, t.OpName(op))
		}
		if tmpl.Def {
			defs++
		}
		for _, a := range tmpl.Args {
			if a.Lit != nil || a.Sym != "" {
				continue
			}
			if a.Arg < 0 || (len(p.Args) > 0 && a.Arg >= len(p.Args)) {
				return fmt.Errorf("target %s: pattern for %s references operand %d out of range", t.Name, t.OpName(op), a.Arg)
			}
			if a.Sub >= 0 && (len(p.Args) == 0 || p.Args[a.Arg].FromOp == 0) {
				return fmt.Errorf("target %s: pattern for %s takes sub-operand of non-fused operand %d", t.Name, t.OpName(op), a.Arg)
			}
		}
	}
	if op.Generic() && op.HasResult() && defs != 1 {
		return fmt.Errorf("target %s: pattern for %s must define the result exactly once, got %d", t.Name, t.OpName(op), defs)
	}
	if len(p.Emit) == 0 {
		return fmt.Errorf("target %s: pattern for %s emits nothing", t.Name, t.OpName(op))
	}
	return nil
}

func (t *Table) checkTotality(op mir.Op, r Rule) error {
	pats := t.patterns[op]
	if !op.HasResult() {
		if len(pats) == 0 {
			return fmt.Errorf("target %s: %s is legal but has no pattern", t.Name, op)
		}
		return nil
	}
	banks := r.Banks
	if banks == 0 {
		banks = Banks(mir.DefaultBank(r.Type.Class))
	}
	for b := mir.Bank(1); b < mir.NumBanks; b++ {
		if !banks.Has(b) {
			continue
		}
		found := false
		for _, p := range pats {
			if p.Result.Admits(r.Type, b) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("target %s: %s at %s bank %s is legal but no pattern admits it", t.Name, op, r.Type, b)
		}
	}
	return nil
}
