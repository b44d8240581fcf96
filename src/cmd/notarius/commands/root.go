package commands

import (
	"github.com/spf13/cobra"

	"github.com/notarius/notarius/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for notarius
var RootCmd = &cobra.Command{
	Use:              "notarius",
	Short:            "notarius BFT timestamping service",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(
		NewRunCmd(),
		NewKeygenCmd(),
		NewSubmitCmd(),
		NewProofCmd(),
		VersionCmd,
	)
}
