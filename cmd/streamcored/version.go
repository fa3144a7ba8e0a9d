package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunkrelay/streamcore/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the streamcored version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(common.UserAgent)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
