package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/korg-bridge/config"
	"github.com/wippyai/korg-bridge/korg"
)

// setFlags collects repeated -set NAME=VALUE flags.
type setFlags map[string]string

func (s setFlags) String() string {
	var parts []string
	for k, v := range s {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (s setFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected NAME=VALUE, got %q", v)
	}
	s[name] = value
	return nil
}

func main() {
	sets := make(setFlags)
	var (
		wasmFile    = flag.String("wasm", "", "Path to the Korg guest wasm (overrides korg.toml)")
		configDir   = flag.String("config", ".", "Directory to search upwards for korg.toml")
		opName      = flag.String("op", "", "Operation to run: "+operationNames())
		list        = flag.Bool("list", false, "List operations and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Var(sets, "set", "Argument NAME=VALUE for -op (repeatable)")
	flag.Parse()

	cfg, err := loadConfig(*configDir, *wasmFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Guest.Path == "" {
		fmt.Fprintln(os.Stderr, "Usage: korg -wasm <korg.wasm> -op synth -set Teff=5000 -set logg=4.5")
		fmt.Fprintln(os.Stderr, "       korg -wasm <korg.wasm> -list")
		fmt.Fprintln(os.Stderr, "       korg -wasm <korg.wasm> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "The guest path may also come from korg.toml.")
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *opName, sets, *list); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func operationNames() string {
	names := make([]string, len(operations))
	for i, op := range operations {
		names[i] = op.name
	}
	return strings.Join(names, ", ")
}

func loadConfig(dir, wasmFile string) (*config.Config, error) {
	cfg, err := config.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if wasmFile != "" {
		abs, err := filepath.Abs(wasmFile)
		if err != nil {
			return nil, err
		}
		cfg.Guest.Path = abs
	}
	return cfg, nil
}

// openSession reads the guest and starts a client configured by cfg.
func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	data, err := os.ReadFile(cfg.GuestPath())
	if err != nil {
		return nil, fmt.Errorf("read guest: %w", err)
	}
	c, err := korg.Open(ctx, data, cfg.Options(logger)...)
	if err != nil {
		return nil, fmt.Errorf("open guest: %w", err)
	}
	return &session{client: c, wavelengths: cfg.Wavelengths()}, nil
}

func run(cfg *config.Config, opName string, sets setFlags, listOnly bool) error {
	ctx := context.Background()

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := openSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.client.Close(ctx)

	fmt.Printf("%s %s\n\n", titleStyle.Render("Korg"), cfg.GuestPath())

	if listOnly || opName == "" {
		fmt.Println("Operations:")
		for _, op := range operations {
			fmt.Printf("  %s\n", formatOperation(op))
			if doc, err := s.client.Doc(op.entry); err == nil {
				fmt.Printf("%s\n", helpStyle.Render("      "+firstLine(doc)))
			}
		}
		if !listOnly {
			fmt.Printf("\nUse -op to run an operation.\n")
		}
		return nil
	}

	op, ok := findOperation(opName)
	if !ok {
		return fmt.Errorf("unknown operation %q (have %s)", opName, operationNames())
	}
	in, err := op.convert(sets)
	if err != nil {
		return err
	}

	fmt.Printf("Calling %s...\n\n", funcStyle.Render(op.entry))
	out, err := op.run(ctx, s, in)
	if err != nil {
		return fmt.Errorf("call %s: %w", op.entry, err)
	}
	fmt.Println(resultStyle.Render(out))
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
