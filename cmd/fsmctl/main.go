package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/logging"
	"github.com/goliatone/go-fsm/machine"
)

// CLI is the fsmctl command tree.
type CLI struct {
	Config    string `short:"c" required:"" type:"existingfile" help:"Machine definition file (YAML or JSON)." env:"FSMCTL_CONFIG"`
	LogLevel  string `default:"warn" help:"Log level (trace, debug, info, warn, error)." env:"FSMCTL_LOG_LEVEL"`
	LogFormat string `default:"console" enum:"json,console,pretty" help:"Log format." env:"FSMCTL_LOG_FORMAT"`

	Validate ValidateCmd `cmd:"" help:"Validate machine definitions and print warnings."`
	Diagram  DiagramCmd  `cmd:"" help:"Render a machine as a Mermaid state diagram."`
	Events   EventsCmd   `cmd:"" help:"List the events defined from a state."`
	Fire     FireCmd     `cmd:"" help:"Fire an event on a record persisted in SQLite."`
}

type app struct {
	out     io.Writer
	logger  fsm.Logger
	configs machine.ConfigSet
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "fsmctl:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("fsmctl"),
		kong.Description("Inspect and drive declarative state machines."),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cli.LogLevel,
		Format: cli.LogFormat,
		Writer: stderr,
	})
	if err != nil {
		return err
	}

	configs, err := machine.LoadConfigFile(cli.Config)
	if err != nil {
		return err
	}

	return kctx.Run(&app{out: stdout, logger: logger, configs: configs})
}
