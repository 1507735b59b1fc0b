package cli

import (
	"github.com/soundmap/soundmap/engine/command"
)

func NewRootCommand(props Props) *command.Command {
	return command.New(command.Params{
		Name: "soundmap",
		Desc: "Soundmap is a spatial presence and audio mixing engine.",
		ArgsProcessor: command.ArgsProcessorFunc(func(c *command.Command, args []string) []string {
			for _, arg := range args {
				if len(arg) > 0 && arg[0] != '-' {
					break
				}

				if arg == "-h" || arg == "--help" {
					return args
				}
			}

			if len(args) == 0 {
				return []string{"join"}
			}

			first := args[0]
			if len(first) > 0 && first[0] == '-' {
				return append([]string{"join"}, args...)
			}

			return args
		}),
		SubCommands: []*command.Command{
			newJoinCmd(props),
			newVersionCmd(props),
		},
	})
}
