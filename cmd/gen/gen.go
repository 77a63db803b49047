package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for beacon",
	Long:  `Generate documentation for beacon`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
