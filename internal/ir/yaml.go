package ir

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/isel/internal/mir"
)

// The YAML module format used by the driver and tests. Parameters implicitly
// bind values v1..vN in order; instruction arguments are written "v3" (value),
// "b1" (block), "@puts" (symbol), or a bare integer (constant).

type yamlModule struct {
	Module    string         `yaml:"module"`
	Functions []yamlFunction `yaml:"functions"`
}

type yamlFunction struct {
	Name   string      `yaml:"name"`
	Params []string    `yaml:"params"`
	Blocks []yamlBlock `yaml:"blocks"`
}

type yamlBlock struct {
	Instrs []yamlInstr `yaml:"instrs"`
}

type yamlInstr struct {
	Op   string   `yaml:"op"`
	Type string   `yaml:"type"`
	Dst  int      `yaml:"dst"`
	Args []string `yaml:"args"`
}

// ParseModule decodes a YAML module description.
func ParseModule(data []byte) (*Module, error) {
	var ym yamlModule
	if err := yaml.Unmarshal(data, &ym); err != nil {
		return nil, fmt.Errorf("ir: decode module: %w", err)
	}
	m := &Module{Name: ym.Module}
	for _, yf := range ym.Functions {
		fn, err := parseFunction(yf)
		if err != nil {
			return nil, err
		}
		if err := fn.Check(); err != nil {
			return nil, err
		}
		m.Funcs = append(m.Funcs, *fn)
	}
	return m, nil
}

func parseFunction(yf yamlFunction) (*Function, error) {
	fn := &Function{Name: yf.Name}
	for _, p := range yf.Params {
		t, err := mir.ParseType(p)
		if err != nil {
			return nil, fmt.Errorf("ir: %s: param: %w", yf.Name, err)
		}
		fn.Params = append(fn.Params, Param{Type: t})
	}
	for _, yb := range yf.Blocks {
		var b Block
		for _, yi := range yb.Instrs {
			in := Instr{Op: yi.Op, Dst: Value(yi.Dst)}
			if yi.Type != "" {
				t, err := mir.ParseType(yi.Type)
				if err != nil {
					return nil, fmt.Errorf("ir: %s: %s: %w", yf.Name, yi.Op, err)
				}
				in.Type = t
			}
			for _, s := range yi.Args {
				a, err := parseArg(s)
				if err != nil {
					return nil, fmt.Errorf("ir: %s: %s: %w", yf.Name, yi.Op, err)
				}
				in.Args = append(in.Args, a)
			}
			b.Instrs = append(b.Instrs, in)
		}
		fn.Blocks = append(fn.Blocks, b)
	}
	return fn, nil
}

func parseArg(s string) (Arg, error) {
	switch {
	case s == "":
		return Arg{}, fmt.Errorf("empty argument")
	case strings.HasPrefix(s, "@"):
		return SymArg(s[1:]), nil
	case s[0] == 'v':
		n, err := strconv.Atoi(s[1:])
		if err == nil && n > 0 {
			return ValueArg(Value(n)), nil
		}
	case s[0] == 'b':
		n, err := strconv.Atoi(s[1:])
		if err == nil && n >= 0 {
			return BlockArg(n), nil
		}
	}
	if c, err := strconv.ParseInt(s, 0, 64); err == nil {
		return ConstArg(c), nil
	}
	return Arg{}, fmt.Errorf("bad argument %q", s)
}
