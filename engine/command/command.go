// Package command is a small command tree for the CLI: named subcommands
// with pflag flag sets, dispatched recursively. A command's context is
// cancelled on SIGINT/SIGTERM so handlers shut down cleanly.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
)

var ErrCommandNotFound = errors.New("command not found")

// Handler runs a command with the arguments left over after flag parsing.
type Handler interface {
	Handle(ctx context.Context, args []string) error
}

// HandlerFunc defines a functional implementation of Handler.
type HandlerFunc func(ctx context.Context, args []string) error

func (h HandlerFunc) Handle(ctx context.Context, args []string) error {
	return h(ctx, args)
}

// FlagRegistry registers a command's flags before parsing.
type FlagRegistry interface {
	RegisterFlags(cmd *Command, flags *pflag.FlagSet)
}

// FlagRegistryFunc defines a functional implementation of FlagRegistry.
type FlagRegistryFunc func(cmd *Command, flags *pflag.FlagSet)

func (f FlagRegistryFunc) RegisterFlags(cmd *Command, flags *pflag.FlagSet) {
	f(cmd, flags)
}

// ArgsProcessor rewrites the raw arguments before parsing. Used by the root
// command to select a default subcommand.
type ArgsProcessor interface {
	ProcessArgs(cmd *Command, args []string) []string
}

// ArgsProcessorFunc defines a functional implementation of ArgsProcessor.
type ArgsProcessorFunc func(cmd *Command, args []string) []string

func (f ArgsProcessorFunc) ProcessArgs(cmd *Command, args []string) []string {
	return f(cmd, args)
}

type Params struct {
	Name          string
	Desc          string
	ArgsProcessor ArgsProcessor
	FlagRegistry  FlagRegistry
	Handler       Handler
	SubCommands   []*Command
}

type Command struct {
	params      Params
	subCommands map[string]*Command
	writer      io.Writer
}

func New(params Params) *Command {
	var subCommands map[string]*Command

	if len(params.SubCommands) > 0 {
		subCommands = make(map[string]*Command, len(params.SubCommands))

		for _, cmd := range params.SubCommands {
			subCommands[cmd.Name()] = cmd
		}
	}

	c := &Command{
		params:      params,
		subCommands: subCommands,
	}

	c.SetWriter(os.Stderr)

	return c
}

// SetWriter sets the destination for usage output, recursively.
func (c *Command) SetWriter(w io.Writer) {
	c.writer = w

	for _, s := range c.params.SubCommands {
		s.SetWriter(w)
	}
}

func (c Command) Name() string {
	return c.params.Name
}

func (c Command) Desc() string {
	return c.params.Desc
}

func (c Command) usage(flags *pflag.FlagSet) {
	var b bytes.Buffer

	b.WriteString("Usage: ")
	b.WriteString(c.params.Name)

	flagUsages := flags.FlagUsages()

	if flagUsages != "" {
		b.WriteString(" [OPTIONS]")
	}

	if len(c.params.SubCommands) > 0 {
		b.WriteString(" [COMMAND] [ARG...]")
	}

	b.WriteString("\n")
	b.WriteString(c.params.Desc)
	b.WriteString("\n")

	if flagUsages != "" {
		b.WriteString("\nOptions:\n")
		b.WriteString(flagUsages)
		b.WriteString("\n")
	}

	if len(c.params.SubCommands) > 0 {
		b.WriteString("\nCommands:\n")

		maxLen := 12
		for _, s := range c.params.SubCommands {
			if ll := len(s.Name()); ll > maxLen {
				maxLen = ll
			}
		}

		for _, s := range c.params.SubCommands {
			b.WriteString(fmt.Sprintf("  %-*s %s\n", maxLen, s.Name(), s.Desc()))
		}

		b.WriteString("\n")
	}

	_, _ = b.WriteTo(c.writer)
}

func (c *Command) Exec(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	flags := pflag.NewFlagSet(c.Name(), pflag.ContinueOnError)

	flags.SetOutput(c.writer)

	flags.Usage = func() {
		c.usage(flags)
	}

	if c.params.ArgsProcessor != nil {
		args = c.params.ArgsProcessor.ProcessArgs(c, args)
	}

	// Stop flag parsing at the first positional argument so subcommands get
	// their own flags untouched.
	flags.SetInterspersed(false)

	if c.params.FlagRegistry != nil {
		c.params.FlagRegistry.RegisterFlags(c, flags)
	}

	if err := flags.Parse(args); err != nil {
		return errors.Annotatef(err, "parse args for command: %s", c.params.Name)
	}

	args = flags.Args()

	if c.params.Handler != nil {
		if err := c.params.Handler.Handle(ctx, args); err != nil {
			return errors.Trace(err)
		}
	}

	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}

	if len(args) > 0 && len(c.subCommands) > 0 {
		subName := args[0]

		subCommand, ok := c.subCommands[subName]
		if !ok {
			return errors.Annotatef(ErrCommandNotFound, "command: %s", subName)
		}

		if err := subCommand.Exec(ctx, args[1:]); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}
