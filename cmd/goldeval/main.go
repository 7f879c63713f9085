package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/silsilat/gold-evaluator/pkg/config"
)

const version = "1.2.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// stdin is a variable to allow feeding input in tests
var stdin io.Reader = os.Stdin

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "evaluate", "eval":
		return runEvaluateCmd(args[2:], stdout, stderr)
	case "classify":
		return runClassifyCmd(args[2:], stdout, stderr)
	case "resolve":
		return runResolveCmd(args[2:], stdout, stderr)
	case "publish":
		return runPublishCmd(args[2:], stdout, stderr)
	case "seal":
		return runSealCmd(args[2:], stdout, stderr)
	case "open":
		return runOpenCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "goldeval %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	bold := color.New(color.Bold, color.FgBlue)
	_, _ = fmt.Fprintln(w, "")
	_, _ = bold.Fprintf(w, "Silsilat Gold Evaluator %s\n", version)
	_, _ = fmt.Fprintln(w, color.HiBlackString("Gold-collateral loan risk, explained and recorded."))
	_, _ = fmt.Fprintln(w, "")
	_, _ = color.New(color.Bold).Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  goldeval <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "EVALUATION")
	printCommand(w, "evaluate", "Evaluate a loan from a file or stdin (-)")
	printCommand(w, "policy", "Show the effective policy (--dir, --verify FILE)")

	printSection(w, "LEDGER & CONTENT")
	printCommand(w, "classify", "Classify a base64 topic message")
	printCommand(w, "resolve", "Resolve an IPFS reference (--key)")
	printCommand(w, "publish", "Pin a JSON file to IPFS")
	printCommand(w, "seal", "Encrypt stdin with the shared key")
	printCommand(w, "open", "Decrypt stdin with the shared key")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = color.New(color.Bold, color.FgCyan).Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s %s\n", color.GreenString("%-12s", name), desc)
}

// loadConfig reads the environment and an optional profile, and installs
// the process logger on stderr.
func loadConfig(profile string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.LoadFile(profile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg, stderr))
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
