package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/confmodel/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check that files parse and use no reserved keys",
		Long: `Check that each file parses with the store for its extension and that
no object in it uses a key reserved by the configuration model (keys starting
with "_" or "cfg_").`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, file := range args {
				if !validateFile(out, file) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed validation", failed, len(args))
			}
			return nil
		},
	}
}

// validateFile reports on one file and returns whether it is valid.
func validateFile(out io.Writer, file string) bool {
	root, err := config.OpenFile(file, config.WithReadOnly(true))
	if err != nil {
		printFail(out, "%s: %v", file, err)
		return false
	}

	var reserved []config.Path
	count := walkTree(root.Data(), config.Path{}, func(p config.Path, key string) {
		if config.IsReservedKey(key) {
			reserved = append(reserved, p)
		}
	})
	for _, p := range reserved {
		printFail(out, "%s:%s: reserved key name", file, p)
	}
	if len(reserved) > 0 {
		return false
	}
	printOK(out, "%s %s", file, dimColor(fmt.Sprintf("(%d values)", count)))
	return true
}

// walkTree calls visit for every object key below v and returns the number
// of values visited.
func walkTree(v any, at config.Path, visit func(p config.Path, key string)) int {
	n := 0
	switch node := v.(type) {
	case map[string]any:
		for k, item := range node {
			p := at.Append(k)
			visit(p, k)
			n += 1 + walkTree(item, p, visit)
		}
	case []any:
		for i, item := range node {
			n += 1 + walkTree(item, at.Append(i), visit)
		}
	}
	return n
}
