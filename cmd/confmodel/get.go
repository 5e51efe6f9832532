package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/confmodel/internal/config"
)

func newGetCmd(opts *options) *cobra.Command {
	var def string
	cmd := &cobra.Command{
		Use:   "get FILE [PATH]",
		Short: "Print the value at a path",
		Example: `  confmodel get bot.json guild.prefix
  confmodel get -o yaml bot.yaml guild.channels[0]`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.OpenFile(args[0], config.WithReadOnly(true))
			if err != nil {
				return err
			}
			path, err := parsePathArg(args, 1)
			if err != nil {
				return err
			}

			var v any
			if cmd.Flags().Changed("default") {
				v = root.GetPathOr(path, def)
			} else if v, err = root.GetPath(path); err != nil {
				return err
			}

			out, err := formatValue(v, opts.output)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&def, "default", "", "Value printed when the path does not exist")
	return cmd
}
