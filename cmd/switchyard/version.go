package main

import (
	"fmt"

	"github.com/spf13/cobra"

	syd "github.com/oxidizr-arch/switchyard"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(syd.Version)
			return nil
		},
	}
}
