package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/isel/internal/diag"
	"github.com/tinyrange/isel/internal/ir"
	"github.com/tinyrange/isel/internal/pipeline"
	"github.com/tinyrange/isel/internal/target"

	_ "github.com/tinyrange/isel/internal/target/amd64"
	_ "github.com/tinyrange/isel/internal/target/arm64"
)

func main() {
	if err := run(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func run() error {
	targetName := flag.String("target", runtime.GOARCH, "Built-in target to compile for")
	tablePath := flag.String("table", "", "Load the capability table from a YAML file instead")
	listTargets := flag.Bool("list-targets", false, "List built-in targets and exit")
	output := flag.String("o", "", "Write output here (default: stdout)")
	workers := flag.Int("workers", runtime.NumCPU(), "Maximum functions compiled in parallel")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <module.yaml>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Lower a module of target-independent IR to machine instructions.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s --target amd64 prog.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --table mychip.yaml -o prog.mir prog.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *listTargets {
		for _, name := range target.Names() {
			fmt.Println(name)
		}
		return nil
	}

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		return fmt.Errorf("module file required")
	}

	tbl, err := loadTable(*tablePath, *targetName)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	mod, err := ir.ParseModule(data)
	if err != nil {
		return fmt.Errorf("parse module: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithWorkers(*workers),
		pipeline.WithLogger(logger),
	}
	if term.IsTerminal(int(os.Stderr.Fd())) && len(mod.Funcs) > 1 {
		bar := progressbar.Default(int64(len(mod.Funcs)), "compile")
		defer bar.Close()
		opts = append(opts, pipeline.WithProgress(func(string) { bar.Add(1) }))
	}

	p, err := pipeline.New(tbl, opts...)
	if err != nil {
		return err
	}
	logger.Debug("pipeline composed", "target", tbl.Name, "stages", strings.Join(p.Stages(), ","))

	funcs, err := p.Run(context.Background(), mod)
	if err != nil {
		return err
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	for _, fn := range funcs {
		fmt.Fprintln(out, fn.Dump(tbl.OpName))
	}
	return nil
}

func loadTable(tablePath, targetName string) (*target.Table, error) {
	if tablePath != "" {
		tbl, err := target.Load(tablePath)
		if err != nil {
			return nil, fmt.Errorf("load table: %w", err)
		}
		return tbl, nil
	}
	return target.New(targetName)
}

// printError prints the failure, colored when stderr is a terminal. Stage
// diagnostics already carry their own function and block location.
func printError(err error) {
	msg := "iselc: " + err.Error()
	if _, ok := diag.AsError(err); ok && term.IsTerminal(int(os.Stderr.Fd())) {
		msg = ansi.Style{}.Bold().ForegroundColor(ansi.Red).Styled(msg)
	}
	fmt.Fprintln(os.Stderr, msg)
}
