package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dshills/confmodel/internal/config"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys FILE [PATH]",
		Short: "List the keys or indices of an object or array",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.OpenFile(args[0], config.WithReadOnly(true))
			if err != nil {
				return err
			}
			path, err := parsePathArg(args, 1)
			if err != nil {
				return err
			}
			v, err := root.GetPath(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch node := v.(type) {
			case map[string]any:
				keys := make([]string, 0, len(node))
				for k := range node {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s\t%s\n", keyColor(k), dimColor(typeName(node[k])))
				}
			case []any:
				for i, item := range node {
					fmt.Fprintf(out, "%s\t%s\n", keyColor(fmt.Sprintf("[%d]", i)), dimColor(typeName(item)))
				}
			default:
				return fmt.Errorf("%s is a %s, not an object or array", path, typeName(v))
			}
			return nil
		},
	}
}
