package target

import (
	"fmt"
	"sort"
)

// builders maps target names to table constructors. It is populated from
// init functions before main runs and only read afterwards; the tables it
// produces are validated and frozen before any function is compiled.
var builders = map[string]func() (*Table, error){}

// Register makes a built-in target available by name. It panics on duplicate
// registration, which is a programming error.
func Register(name string, build func() (*Table, error)) {
	if _, ok := builders[name]; ok {
		panic(fmt.Sprintf("target: %q registered twice", name))
	}
	builders[name] = build
}

// New builds and validates the named target's table.
func New(name string) (*Table, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("target: unknown target %q (have %v)", name, Names())
	}
	tbl, err := build()
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", name, err)
	}
	if !tbl.validated {
		if err := tbl.Validate(); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// Names lists registered targets in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
