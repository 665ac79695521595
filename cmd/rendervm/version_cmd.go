package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("output")
			out := cmd.OutOrStdout()
			if strings.ToLower(format) == "json" {
				info, err := getOutputJSON(map[string]any{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(info))
				return nil
			}
			fmt.Fprintln(out, version)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output format (text, json)")
	return cmd
}
