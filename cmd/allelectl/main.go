package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"allele/internal/fitness"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	stdin  io.Reader = os.Stdin
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "evolve":
		return runEvolve(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "population":
		return runPopulation(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "reservoir":
		return runReservoir(ctx, args[1:])
	case "fitness":
		return runFitness(args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runFitness(args []string) error {
	fs := newFlagSet("fitness")
	jsonOut := fs.Bool("json", false, "emit names as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := fitness.List()
	if *jsonOut {
		return writeJSON(names)
	}
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: allelectl <init|evolve|runs|population|lineage|export|import|reservoir|fitness> [flags]", msg)
}
