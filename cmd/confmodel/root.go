package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/confmodel/internal/config"
)

// options holds the flags shared by every command.
type options struct {
	logLevel string
	noColor  bool
	output   string
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	keyColor = color.New(color.FgCyan).SprintFunc()
	dimColor = color.New(color.Faint).SprintFunc()
)

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "confmodel",
		Short: "Inspect and edit configuration files",
		Long: `confmodel reads and writes JSON, YAML, TOML and bolt configuration files.

Paths address values with dotted keys and bracketed indices, for example
"guild.channels[2].name". TOML files are read-only.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q (must be debug, info, warning or error)", opts.logLevel)
			}
			logrus.SetLevel(level)
			logrus.SetOutput(cmd.ErrOrStderr())
			if opts.noColor || !isTerminal(cmd.OutOrStdout()) {
				color.NoColor = true
			}
			switch opts.output {
			case "json", "yaml":
			default:
				return fmt.Errorf("invalid output format %q (must be json or yaml)", opts.output)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.StringVarP(&opts.output, "output", "o", "json", "Output format for values (json, yaml)")

	cmd.AddCommand(
		newGetCmd(opts),
		newSetCmd(),
		newKeysCmd(),
		newValidateCmd(),
		newWatchCmd(),
	)
	return cmd
}

// parsePathArg parses the optional path argument at index i.
func parsePathArg(args []string, i int) (config.Path, error) {
	if len(args) <= i {
		return config.Path{}, nil
	}
	p, err := config.ParsePath(args[i])
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", args[i], err)
	}
	return p, nil
}

// formatValue renders a raw value in the selected output format.
func formatValue(v any, format string) (string, error) {
	switch format {
	case "yaml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encoding yaml: %w", err)
		}
		return strings.TrimSuffix(string(out), "\n"), nil
	default:
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding json: %w", err)
		}
		return string(out), nil
	}
}

// typeName names the primitive type of a raw value.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "float"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// isTerminal reports whether w writes to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", okMark("✓"), fmt.Sprintf(format, args...))
}

func printFail(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", failMark("✗"), fmt.Sprintf(format, args...))
}
