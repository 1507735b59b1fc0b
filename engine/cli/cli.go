// Package cli wires the engine into a runnable command line tool.
package cli

import (
	"context"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/logger"
)

type Props struct {
	Log     logger.Logger
	Version string
	Args    []string
}

func Exec(ctx context.Context, props Props) error {
	cmd := NewRootCommand(props)
	err := cmd.Exec(ctx, props.Args)

	return errors.Trace(err)
}
