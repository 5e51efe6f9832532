package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/confmodel/internal/config"
	"github.com/dshills/confmodel/internal/config/notify"
	"github.com/dshills/confmodel/internal/config/store"
	"github.com/dshills/confmodel/internal/config/watcher"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch FILE",
		Short: "Reload a file whenever it changes and print the changed keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			n := notify.New()
			defer n.Close()
			n.Subscribe(func(c notify.Change) {
				printOK(out, "reloaded %s at %s", c.Source, time.Now().Format(time.TimeOnly))
			}, notify.TypeFilter(notify.ChangeReload))

			root, err := config.OpenFile(args[0], config.WithReadOnly(true), config.WithNotifier(n))
			if err != nil {
				return err
			}

			w, err := watcher.New(watcher.WithDebounce(debounce), watcher.WithLogger(logrus.WithField("module", "watcher")))
			if err != nil {
				return err
			}
			defer w.Close()

			// Reloads happen on this goroutine; Root is not safe for concurrent use
			events := make(chan watcher.Event, 1)
			w.OnChange(func(ev watcher.Event) {
				select {
				case events <- ev:
				default:
				}
			})
			if err := w.Watch(args[0]); err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			fmt.Fprintf(out, "watching %s\n", keyColor(root.File()))

			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					if ev.Op == watcher.OpRemove || ev.Op == watcher.OpRename {
						printFail(out, "%s was %s", root.File(), ev.Op)
						continue
					}
					prev := store.Clone(root.Data())
					if err := root.Read(); err != nil {
						printFail(out, "reload failed: %v", err)
						continue
					}
					printDiff(out, prev, root.Data())
				}
			}
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "Wait this long for changes to settle")
	return cmd
}

// printDiff lists the top-level keys added, removed or changed between two
// trees.
func printDiff(out io.Writer, prev, cur map[string]any) {
	keys := make(map[string]bool, len(prev)+len(cur))
	for k := range prev {
		keys[k] = true
	}
	for k := range cur {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		before, hadBefore := prev[k]
		after, hasAfter := cur[k]
		switch {
		case !hadBefore:
			fmt.Fprintf(out, "  %s %s\n", okMark("+"), k)
		case !hasAfter:
			fmt.Fprintf(out, "  %s %s\n", failMark("-"), k)
		case !cmp.Equal(before, after):
			fmt.Fprintf(out, "  %s %s\n", keyColor("~"), k)
		}
	}
}
