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
	"time"

	"github.com/spf13/pflag"

	"github.com/silsilat/gold-evaluator/pkg/risk"
)

// runEvaluateCmd implements `goldeval evaluate [file|-]`.
//
// Exit codes:
//
//	0 = evaluation written to stdout
//	1 = loan input failed validation
//	2 = runtime error
func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := pflag.NewFlagSet("evaluate", pflag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profile string
		offline bool
		timeout time.Duration
		compact bool
	)
	cmd.StringVarP(&profile, "config", "c", "", "YAML profile overriding the environment")
	cmd.BoolVar(&offline, "offline", false, "Use built-in fallback quotes instead of market APIs")
	cmd.DurationVar(&timeout, "timeout", 5*time.Minute, "Deadline for the whole evaluation")
	cmd.BoolVar(&compact, "compact", false, "Write single-line JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(profile, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	raw, err := readInput(cmd.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read input: %v\n", err)
		return 2
	}

	loan, err := risk.ParseLoan(raw)
	if err != nil {
		var verr *risk.ValidationError
		if errors.As(err, &verr) {
			writeJSON(stdout, map[string]any{"error": "validation_error", "details": verr.Fields}, compact)
			return 1
		}
		return fatal(stdout, stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ev, cl, err := buildEvaluator(ctx, cfg, offline)
	if err != nil {
		return fatal(stdout, stderr, err)
	}
	defer cl.Close()

	out, err := ev.Evaluate(ctx, loan)
	if err != nil {
		return fatal(stdout, stderr, err)
	}
	writeJSON(stdout, out, compact)
	return 0
}

func fatal(stdout, stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	writeJSON(stdout, map[string]any{"error": "fatal", "message": err.Error()}, false)
	return 2
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, v any, compact bool) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if !compact {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
