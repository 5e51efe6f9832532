package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/confmodel/internal/config"
)

func newSetCmd() *cobra.Command {
	var (
		makePath bool
		literal  bool
	)
	cmd := &cobra.Command{
		Use:   "set FILE PATH VALUE",
		Short: "Set the value at a path and write the file",
		Long: `Set the value at a path and write the file.

VALUE is parsed as JSON, so numbers, booleans, null, arrays and objects keep
their type. Text that is not valid JSON is stored as a string. A missing
file is created.`,
		Example: `  confmodel set bot.json guild.prefix '"?"'
  confmodel set -p bot.json guild.limits '{"messages": 5}'
  confmodel set --string bot.json guild.name 42`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := parsePathArg(args, 1)
			if err != nil {
				return err
			}
			if len(path) == 0 {
				return errors.New("path must not be empty")
			}

			root, err := config.OpenFile(args[0])
			if err != nil {
				return err
			}
			if err := root.SetPath(path, decodeValue(args[2], literal), makePath); err != nil {
				return err
			}
			if err := root.Write(); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "set %s in %s", keyColor(path.String()), root.File())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&makePath, "make-path", "p", false, "Create missing intermediate objects")
	cmd.Flags().BoolVarP(&literal, "string", "s", false, "Store VALUE as a string without parsing it")
	return cmd
}

// decodeValue parses s as a single JSON value, falling back to the text
// itself.
func decodeValue(s string, literal bool) any {
	if literal {
		return s
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return v
}
