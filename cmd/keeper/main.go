// The keeper binary runs the recurring payment execution engine: it
// discovers due payment schedules on the ledger, validates them against the
// payer's authorization grants, and executes them for the executor reward.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/orbitpay/keeper/pkg/contracts"
)

const version = "0.2.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "run", "serve":
		return runServe(stderr)
	case "sweep":
		return runSweepOnce(stdout, stderr)
	case "cancel":
		return runCancel(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "keeper %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// runServe runs the sweep loop and the control API until SIGINT/SIGTERM.
func runServe(stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "keeper: %v\n", err)
		return 1
	}
	defer rt.Close()

	return rt.Serve(ctx, stderr)
}

// runSweepOnce performs a single sweep cycle and prints its summary.
// Useful for cron-style operation and smoke tests against a live gateway.
func runSweepOnce(stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "keeper: %v\n", err)
		return 1
	}
	defer rt.Close()

	summary := rt.Engine.SweepOnce(ctx)
	printJSON(stdout, summary)
	if summary.Candidates == 0 && summary.SourceErrors > 0 {
		return 1
	}
	return 0
}

// runCancel sweeps the watched schedules and cancels every active one
// paying the given recipient.
func runCancel(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(stderr)
	recipient := fs.String("recipient", "", "recipient address whose schedules to cancel (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *recipient == "" {
		fmt.Fprintln(stderr, "Usage: keeper cancel --recipient <address>")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "keeper: %v\n", err)
		return 1
	}
	defer rt.Close()

	summary := rt.Engine.CancelSweep(ctx, contracts.Address(*recipient))
	printJSON(stdout, summary)
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "OrbitPay Keeper %s\n", version)
	fmt.Fprintln(w, "Recurring payment execution engine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  keeper <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  run       Run the sweep loop and control API (default)")
	fmt.Fprintln(w, "  sweep     Run exactly one sweep cycle and exit")
	fmt.Fprintln(w, "  cancel    Cancel active schedules paying a recipient (--recipient)")
	fmt.Fprintln(w, "  status    Query a running keeper's control API (--addr, --token)")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration is read from KEEPER_* environment variables; see")
	fmt.Fprintln(w, "pkg/config. KEEPER_EXECUTOR_KEY is required.")
	fmt.Fprintln(w, "")
}
