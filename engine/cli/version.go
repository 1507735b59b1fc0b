package cli

import (
	"context"
	"fmt"

	"github.com/soundmap/soundmap/engine/command"
)

type versionHandler struct {
	props Props
}

func (v *versionHandler) Handle(ctx context.Context, args []string) error {
	fmt.Println("soundmap", v.props.Version)

	return nil
}

func newVersionCmd(props Props) *command.Command {
	v := &versionHandler{props}

	return command.New(command.Params{
		Name:    "version",
		Desc:    "Show version information",
		Handler: v,
	})
}
