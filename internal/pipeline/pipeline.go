// Package pipeline composes the lowering stages and drives them over a
// module. The configurator is purely declarative: the four core stages
// always run as translate, legalize, regbank, isel, and a target (or a
// test) may replace a stage's implementation or insert auxiliary passes
// around one. Functions are independent units of work and are lowered in
// parallel; the capability table is shared read-only.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/isel/internal/fusion"
	"github.com/tinyrange/isel/internal/ir"
	"github.com/tinyrange/isel/internal/isel"
	"github.com/tinyrange/isel/internal/legalize"
	"github.com/tinyrange/isel/internal/mir"
	"github.com/tinyrange/isel/internal/regbank"
	"github.com/tinyrange/isel/internal/target"
	"github.com/tinyrange/isel/internal/translate"
)

// Core stage names, in their fixed order.
const (
	StageTranslate = "translate"
	StageLegalize  = "legalize"
	StageRegBank   = "regbank"
	StageSelect    = "isel"
)

// Unit carries one function through the stages.
type Unit struct {
	IR    *ir.Function
	MIR   *mir.Function
	Table *target.Table
}

// Stage is one step of the pipeline. Stages mutate the unit in place and
// must leave a well-formed function behind on success.
type Stage interface {
	Name() string
	Run(u *Unit) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(u *Unit) error
}

func (s StageFunc) Name() string      { return s.StageName }
func (s StageFunc) Run(u *Unit) error { return s.Fn(u) }

// Option configures a Pipeline.
type Option func(*config)

type config struct {
	workers  int
	logger   *slog.Logger
	replaced map[string]Stage
	before   map[string][]Stage
	after    map[string][]Stage
	progress func(fn string)
}

// WithWorkers caps concurrent function lowering. Zero or negative means one
// worker per function up to the errgroup default.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithLogger routes stage debug logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithProgress installs a callback invoked once per function as it
// completes, from whichever worker finished it.
func WithProgress(fn func(name string)) Option {
	return func(c *config) { c.progress = fn }
}

// Replace substitutes a wholly custom implementation for a named core
// stage.
func Replace(name string, s Stage) Option {
	return func(c *config) { c.replaced[name] = s }
}

// InsertBefore adds an auxiliary pass immediately before a named core
// stage.
func InsertBefore(name string, s Stage) Option {
	return func(c *config) { c.before[name] = append(c.before[name], s) }
}

// InsertAfter adds an auxiliary pass immediately after a named core stage.
func InsertAfter(name string, s Stage) Option {
	return func(c *config) { c.after[name] = append(c.after[name], s) }
}

// Pipeline is an immutable, fully composed stage list bound to one target
// table. Safe for concurrent use.
type Pipeline struct {
	tbl      *target.Table
	stages   []Stage
	workers  int
	logger   *slog.Logger
	progress func(fn string)
}

// New composes a pipeline for the table. The core order is fixed here;
// options only substitute implementations or add side passes. Bank
// selection is skipped when the table declares a single bank for every
// type, which makes the assignment trivial.
func New(tbl *target.Table, opts ...Option) (*Pipeline, error) {
	c := &config{
		logger:   slog.Default(),
		replaced: map[string]Stage{},
		before:   map[string][]Stage{},
		after:    map[string][]Stage{},
	}
	for _, o := range opts {
		o(c)
	}
	for name := range c.replaced {
		if !coreStage(name) {
			return nil, fmt.Errorf("pipeline: replace names unknown stage %q", name)
		}
	}

	p := &Pipeline{tbl: tbl, workers: c.workers, logger: c.logger, progress: c.progress}

	add := func(name string, core Stage) {
		p.stages = append(p.stages, c.before[name]...)
		if s, ok := c.replaced[name]; ok {
			p.stages = append(p.stages, s)
		} else {
			p.stages = append(p.stages, core)
		}
		p.stages = append(p.stages, c.after[name]...)
	}

	add(StageTranslate, StageFunc{StageTranslate, func(u *Unit) error {
		out, err := translate.Function(u.IR, u.Table)
		if err != nil {
			return err
		}
		u.MIR = out
		return nil
	}})
	add(StageLegalize, StageFunc{StageLegalize, func(u *Unit) error {
		return legalize.New(u.Table).Run(u.MIR)
	}})
	if !tbl.SingleBanked() {
		add(StageRegBank, StageFunc{StageRegBank, func(u *Unit) error {
			return regbank.Run(u.MIR, u.Table)
		}})
	}
	add(StageSelect, StageFunc{StageSelect, func(u *Unit) error {
		return isel.Run(u.MIR, u.Table)
	}})
	if len(tbl.FusionPairs) > 0 {
		p.stages = append(p.stages, StageFunc{"fusion", func(u *Unit) error {
			return fusion.Run(u.MIR, u.Table.FusionPairs)
		}})
	}
	return p, nil
}

func coreStage(name string) bool {
	switch name {
	case StageTranslate, StageLegalize, StageRegBank, StageSelect:
		return true
	}
	return false
}

// Stages returns the composed stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// RunFunction lowers a single function to completion. Stages run strictly
// sequentially; there is no mid-function cancellation because partial
// machine IR has no meaningful observable state.
func (p *Pipeline) RunFunction(fn *ir.Function) (*mir.Function, error) {
	u := &Unit{IR: fn, Table: p.tbl}
	for _, s := range p.stages {
		start := time.Now()
		if err := s.Run(u); err != nil {
			return nil, err
		}
		p.logger.Debug("stage complete",
			"fn", fn.Name, "stage", s.Name(), "elapsed", time.Since(start))
	}
	return u.MIR, nil
}

// Run lowers every function in the module. Results come back in module
// order regardless of scheduling. Cancellation is honored between
// functions: a function already admitted runs to completion or failure.
// Any failed function aborts the whole compilation; no partial output is
// returned.
func (p *Pipeline) Run(ctx context.Context, m *ir.Module) ([]*mir.Function, error) {
	results := make([]*mir.Function, len(m.Funcs))
	g, gctx := errgroup.WithContext(ctx)
	if p.workers > 0 {
		g.SetLimit(p.workers)
	}
	for i := range m.Funcs {
		fn := &m.Funcs[i]
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			out, err := p.RunFunction(fn)
			if err != nil {
				return err
			}
			results[i] = out
			if p.progress != nil {
				p.progress(fn.Name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The group cancels its derived context the moment Wait returns, so a
	// real cancellation is only visible on the caller's context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
