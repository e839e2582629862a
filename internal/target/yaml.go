package target

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/isel/internal/mir"
)

// External table files let a target be described without recompiling. The
// format mirrors the in-code builder one to one and goes through the exact
// same validation as the built-in tables.

type yamlTable struct {
	Format      string                   `yaml:"format"`
	Name        string                   `yaml:"name"`
	PointerBits uint16                   `yaml:"pointer_bits"`
	Calling     yamlCallConv             `yaml:"calling"`
	Fusion      []string                 `yaml:"fusion"`
	Ops         map[string][]yamlRule    `yaml:"ops"`
	Patterns    map[string][]yamlPattern `yaml:"patterns"`
}

type yamlCallConv struct {
	IntArgs    []string `yaml:"int_args"`
	FPArgs     []string `yaml:"fp_args"`
	IntRet     string   `yaml:"int_ret"`
	FPRet      string   `yaml:"fp_ret"`
	StackAlign int64    `yaml:"stack_align"`
	StackSlot  int64    `yaml:"stack_slot"`
}

type yamlRule struct {
	Type     string     `yaml:"type"`
	Banks    []string   `yaml:"banks"`
	ArgBanks [][]string `yaml:"arg_banks"`
	Action   string     `yaml:"action"`
	Wide     string     `yaml:"wide"`
	LibCall  string     `yaml:"libcall"`
}

type yamlPattern struct {
	Pri    int              `yaml:"pri"`
	Result yamlConstraint   `yaml:"result"`
	Args   []yamlConstraint `yaml:"args"`
	Emit   []yamlTemplate   `yaml:"emit"`
}

type yamlConstraint struct {
	Type  string   `yaml:"type"`
	Banks []string `yaml:"banks"`
	From  string   `yaml:"from"`
	Imm   bool     `yaml:"imm"`
}

type yamlTemplate struct {
	Opcode string   `yaml:"opcode"`
	Args   []string `yaml:"args"`
	Def    bool     `yaml:"def"`
	Term   bool     `yaml:"term"`
}

// Load reads, parses, and validates a table file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	return ParseTable(data)
}

// ParseTable builds a validated table from YAML.
func ParseTable(data []byte) (*Table, error) {
	var yt yamlTable
	if err := yaml.Unmarshal(data, &yt); err != nil {
		return nil, fmt.Errorf("target: decode table: %w", err)
	}
	if yt.Name == "" {
		return nil, fmt.Errorf("target: table has no name")
	}

	t := NewTable(yt.Name)
	if yt.Format != "" {
		t.Format = yt.Format
	}
	t.PointerBits = yt.PointerBits
	t.Call = CallConv{
		IntArgRegs: yt.Calling.IntArgs,
		FPArgRegs:  yt.Calling.FPArgs,
		IntRetReg:  yt.Calling.IntRet,
		FPRetReg:   yt.Calling.FPRet,
		StackAlign: yt.Calling.StackAlign,
		StackSlot:  yt.Calling.StackSlot,
	}

	for opName, yrules := range yt.Ops {
		op, ok := mir.OpByName(opName)
		if !ok {
			return nil, fmt.Errorf("target %s: unknown generic op %q", yt.Name, opName)
		}
		for _, yr := range yrules {
			r, err := parseRule(yr)
			if err != nil {
				return nil, fmt.Errorf("target %s: op %s: %w", yt.Name, opName, err)
			}
			t.AddRule(op, r)
		}
	}

	for opName, ypats := range yt.Patterns {
		op, ok := mir.OpByName(opName)
		if !ok {
			return nil, fmt.Errorf("target %s: patterns for unknown op %q", yt.Name, opName)
		}
		for _, yp := range ypats {
			p, err := parsePattern(t, op, yp)
			if err != nil {
				return nil, fmt.Errorf("target %s: pattern for %s: %w", yt.Name, opName, err)
			}
			t.AddPattern(p)
		}
	}

	for _, name := range yt.Fusion {
		op, ok := t.OpcodeByName(name)
		if !ok {
			return nil, fmt.Errorf("target %s: fusion names unknown opcode %q", yt.Name, name)
		}
		t.FusionPairs = append(t.FusionPairs, op)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func parseRule(yr yamlRule) (Rule, error) {
	var r Rule
	var err error
	if r.Type, err = parseRuleType(yr.Type); err != nil {
		return r, err
	}
	if r.Banks, err = parseBanks(yr.Banks); err != nil {
		return r, err
	}
	for _, ab := range yr.ArgBanks {
		set, err := parseBanks(ab)
		if err != nil {
			return r, err
		}
		r.ArgBanks = append(r.ArgBanks, set)
	}
	switch yr.Action {
	case "legal":
		r.Action = ActionLegal
	case "widen":
		r.Action = ActionWiden
	case "narrow":
		r.Action = ActionNarrow
	case "promote":
		r.Action = ActionPromote
	case "expand":
		r.Action = ActionExpand
	case "libcall":
		r.Action = ActionLibcall
	default:
		return r, fmt.Errorf("unknown action %q", yr.Action)
	}
	if yr.Wide != "" {
		if r.Wide, err = mir.ParseType(yr.Wide); err != nil {
			return r, err
		}
	}
	r.LibCall = yr.LibCall
	return r, nil
}

// parseRuleType accepts an exact type ("i32"), a bare class ("int", "float",
// "vector", "pointer") as a width wildcard, or the empty string as a full
// wildcard.
func parseRuleType(s string) (mir.Type, error) {
	switch s {
	case "":
		return mir.Type{}, nil
	case "int":
		return mir.Type{Class: mir.ClassInt}, nil
	case "float":
		return mir.Type{Class: mir.ClassFloat}, nil
	case "vector":
		return mir.Type{Class: mir.ClassVector}, nil
	case "pointer":
		return mir.Type{Class: mir.ClassPointer}, nil
	}
	return mir.ParseType(s)
}

func parseBanks(names []string) (BankSet, error) {
	var s BankSet
	for _, n := range names {
		switch n {
		case "gpr":
			s |= Banks(mir.BankInt)
		case "fpr":
			s |= Banks(mir.BankFP)
		case "vec":
			s |= Banks(mir.BankVec)
		default:
			return 0, fmt.Errorf("unknown bank %q", n)
		}
	}
	return s, nil
}

func parseConstraint(yc yamlConstraint) (Constraint, error) {
	var c Constraint
	var err error
	if c.Type, err = parseRuleType(yc.Type); err != nil {
		return c, err
	}
	if c.Banks, err = parseBanks(yc.Banks); err != nil {
		return c, err
	}
	if yc.From != "" {
		op, ok := mir.OpByName(yc.From)
		if !ok {
			return c, fmt.Errorf("unknown generic op %q in from", yc.From)
		}
		c.FromOp = op
	}
	c.Imm = yc.Imm
	return c, nil
}

func parsePattern(t *Table, op mir.Op, yp yamlPattern) (Pattern, error) {
	p := Pattern{Op: op, Pri: yp.Pri}
	var err error
	if p.Result, err = parseConstraint(yp.Result); err != nil {
		return p, err
	}
	for _, yc := range yp.Args {
		c, err := parseConstraint(yc)
		if err != nil {
			return p, err
		}
		p.Args = append(p.Args, c)
	}
	for _, yt := range yp.Emit {
		if yt.Opcode == "" {
			return p, fmt.Errorf("emit entry without opcode")
		}
		tmpl := Template{Opcode: t.Opcode(yt.Opcode), Def: yt.Def, Term: yt.Term}
		for _, s := range yt.Args {
			ref, err := parseArgRef(s)
			if err != nil {
				return p, err
			}
			tmpl.Args = append(tmpl.Args, ref)
		}
		p.Emit = append(p.Emit, tmpl)
	}
	return p, nil
}

// parseArgRef accepts "a0" (root operand), "a0.1" (fused producer operand),
// "#42" (literal immediate), and "@sym" (literal symbol).
func parseArgRef(s string) (ArgRef, error) {
	switch {
	case strings.HasPrefix(s, "@"):
		return SymRef(s[1:]), nil
	case strings.HasPrefix(s, "#"):
		v, err := strconv.ParseInt(s[1:], 0, 64)
		if err != nil {
			return ArgRef{}, fmt.Errorf("bad literal %q", s)
		}
		return LitArg(v), nil
	case strings.HasPrefix(s, "a"):
		rest := s[1:]
		if i := strings.IndexByte(rest, '.'); i >= 0 {
			arg, err1 := strconv.Atoi(rest[:i])
			sub, err2 := strconv.Atoi(rest[i+1:])
			if err1 == nil && err2 == nil {
				return SubArg(arg, sub), nil
			}
		} else if arg, err := strconv.Atoi(rest); err == nil {
			return RootArg(arg), nil
		}
	}
	return ArgRef{}, fmt.Errorf("bad operand reference %q", s)
}
