package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/semcode/internal/config"
	"github.com/dshills/semcode/internal/indexer"
	"github.com/dshills/semcode/internal/searcher"
	"github.com/dshills/semcode/internal/walker"
	"github.com/dshills/semcode/internal/watcher"
	"github.com/dshills/semcode/pkg/types"
)

func newIndexCmd() *cobra.Command {
	var reindex, noGit bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the current working tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.indexer().Run(cmd.Context(), indexer.Options{
				Reindex: reindex,
				NoGit:   noGit,
			})
			if err != nil {
				return err
			}
			fmt.Printf("indexed %d, skipped %d, deleted %d, failed %d (%d blocks, %s)\n",
				stats.FilesIndexed, stats.FilesSkipped, stats.FilesDeleted,
				stats.FilesFailed, stats.BlocksCreated, stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reindex, "reindex", false, "force full re-enumeration")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "skip git change detection")
	return cmd
}

// outputFormat resolves the --json/--md flags against the config default.
func outputFormat(jsonOut, mdOut bool, def string) types.OutputFormat {
	switch {
	case jsonOut:
		return types.FormatJSON
	case mdOut:
		return types.FormatMarkdown
	default:
		return types.OutputFormat(def)
	}
}

func newSearchCmd() *cobra.Command {
	var (
		mode, detail   string
		maxResults     int
		threshold      float64
		jsonOut, mdOut bool
		maxTokens      int
		expand         bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the index by natural language",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if threshold < 0 {
				threshold = a.cfg.Search.SimilarityThreshold
			}
			resp, err := a.searcher().Search(cmd.Context(), searcher.Request{
				Queries:       args,
				Mode:          types.SearchMode(mode),
				Detail:        types.DetailLevel(detail),
				MaxResults:    maxResults,
				Threshold:     threshold,
				ExpandSymbols: expand,
			})
			if err != nil {
				return err
			}
			out, err := searcher.Render(resp.Results, searcher.RenderOptions{
				Format:    outputFormat(jsonOut, mdOut, a.cfg.Search.OutputFormat),
				Detail:    types.DetailLevel(detail),
				MaxTokens: maxTokens,
			})
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "all", "search scope: all|code|docs|text")
	cmd.Flags().StringVar(&detail, "detail", "partial", "detail level: signatures|partial|full")
	cmd.Flags().IntVar(&maxResults, "max", 3, "maximum results (cap 20)")
	cmd.Flags().Float64Var(&threshold, "threshold", -1, "minimum similarity in [0,1]")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "truncate rendered output to a token budget")
	cmd.Flags().BoolVar(&expand, "expand-symbols", false, "include same-file blocks sharing symbols")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	cmd.Flags().BoolVar(&mdOut, "md", false, "Markdown output")
	return cmd
}

func newViewCmd() *cobra.Command {
	var (
		detail         string
		jsonOut, mdOut bool
	)
	cmd := &cobra.Command{
		Use:   "view <glob>",
		Short: "Render the indexed blocks of matching files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			out, err := a.searcher().View(cmd.Context(), args[0], searcher.RenderOptions{
				Format: outputFormat(jsonOut, mdOut, a.cfg.Search.OutputFormat),
				Detail: types.DetailLevel(detail),
			})
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&detail, "detail", "full", "detail level: signatures|partial|full")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output")
	cmd.Flags().BoolVar(&mdOut, "md", false, "Markdown output")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		debounceSec  int
		additionalMS int
		noGit        bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the tree and reindex on change",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if debounceSec <= 0 {
				debounceSec = a.cfg.Watch.DebounceSeconds
			}
			if additionalMS < 0 {
				additionalMS = a.cfg.Watch.AdditionalDelayMS
			}

			ig, err := walker.NewIgnorer(a.root, walker.Options{})
			if err != nil {
				return err
			}
			idx := a.indexer()
			sup, err := watcher.New(a.root, ig,
				func(ctx context.Context, changed []string) error {
					_, rerr := idx.Run(ctx, indexer.Options{NoGit: noGit, Hint: changed})
					return rerr
				},
				time.Duration(debounceSec)*time.Second,
				time.Duration(additionalMS)*time.Millisecond,
			)
			if err != nil {
				return err
			}

			// one full cycle before watching so the index starts warm
			if _, err := idx.Run(cmd.Context(), indexer.Options{NoGit: noGit}); err != nil {
				return err
			}
			if err := sup.Start(cmd.Context()); err != nil {
				return err
			}
			defer sup.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&debounceSec, "debounce", 0, "debounce window in seconds (1..30)")
	cmd.Flags().IntVar(&additionalMS, "additional-delay", -1, "settle delay in milliseconds (0..5000)")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "skip git change detection")
	return cmd
}

func newClearCmd() *cobra.Command {
	var all, documents, graphs, memories bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove indexed state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && !documents && !graphs && !memories {
				return fmt.Errorf("pass --all, --documents, --graphs or --memories")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if all || documents {
				if err := a.store.ClearBlocks(ctx); err != nil {
					return err
				}
			}
			if all || graphs {
				if err := a.store.ClearGraph(ctx); err != nil {
					return err
				}
			}
			if all || memories {
				if err := a.store.ClearMemories(ctx); err != nil {
					return err
				}
			}
			fmt.Println("cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear everything")
	cmd.Flags().BoolVar(&documents, "documents", false, "clear indexed blocks and files")
	cmd.Flags().BoolVar(&graphs, "graphs", false, "clear the knowledge graph")
	cmd.Flags().BoolVar(&memories, "memories", false, "clear memories")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the config template to .semcode.toml",
		RunE: func(_ *cobra.Command, _ []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			path := config.DefaultPath(root)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.Template), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cmd
}
