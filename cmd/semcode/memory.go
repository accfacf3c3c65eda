package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/semcode/internal/memory"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/pkg/types"
)

func printMemories(records []types.Memory) {
	for _, m := range records {
		tags := ""
		if len(m.Tags) > 0 {
			tags = "  [" + strings.Join(m.Tags, ", ") + "]"
		}
		fmt.Printf("%s  %-15s imp=%.2f  %s%s\n",
			m.ID, m.MemoryType, m.Importance, m.Title, tags)
	}
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Store and recall project memories",
	}

	withManager := func(run func(cmd *cobra.Command, args []string, a *app, mgr *memory.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			mgr, err := a.memory()
			if err != nil {
				return err
			}
			return run(cmd, args, a, mgr)
		}
	}

	var (
		memType    string
		importance float64
		tags       []string
		files      []string
	)
	memorize := &cobra.Command{
		Use:   "memorize <title> <content>",
		Short: "Store a new memory",
		Args:  cobra.ExactArgs(2),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			mt, err := types.ParseMemoryType(memType)
			if err != nil {
				return err
			}
			rec, err := mgr.Memorize(cmd.Context(), memory.MemorizeInput{
				Title:        args[0],
				Content:      args[1],
				MemoryType:   mt,
				Importance:   importance,
				Tags:         tags,
				RelatedFiles: files,
			})
			if err != nil {
				return err
			}
			fmt.Println(rec.ID)
			return nil
		}),
	}
	memorize.Flags().StringVar(&memType, "type", "insight", "memory type")
	memorize.Flags().Float64Var(&importance, "importance", 0.5, "importance in [0,1]")
	memorize.Flags().StringSliceVar(&tags, "tags", nil, "tags")
	memorize.Flags().StringSliceVar(&files, "files", nil, "related file paths")

	var (
		limit        int
		minRelevance float64
		filterType   string
		filterTags   []string
	)
	remember := &cobra.Command{
		Use:   "remember <query>...",
		Short: "Recall memories by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			var filters memory.RememberFilters
			if filterType != "" {
				mt, err := types.ParseMemoryType(filterType)
				if err != nil {
					return err
				}
				filters.Type = mt
			}
			filters.Tags = filterTags
			results, err := mgr.Remember(cmd.Context(), args, filters, limit, minRelevance)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s  %s\n", r.Score, r.Memory.ID, r.Memory.Title)
				fmt.Printf("       %s\n", firstLine(r.Memory.Content))
			}
			return nil
		}),
	}
	remember.Flags().IntVar(&limit, "limit", 5, "maximum results")
	remember.Flags().Float64Var(&minRelevance, "min-relevance", 0, "minimum similarity in [0,1]")
	remember.Flags().StringVar(&filterType, "type", "", "restrict to one memory type")
	remember.Flags().StringSliceVar(&filterTags, "tags", nil, "restrict to any of these tags")

	forget := &cobra.Command{
		Use:   "forget <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			return mgr.Forget(cmd.Context(), args[0])
		}),
	}

	var (
		updTitle      string
		updContent    string
		updImportance float64
	)
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a memory's fields",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			rec, err := mgr.Update(cmd.Context(), args[0], func(m *types.Memory) {
				if updTitle != "" {
					m.Title = updTitle
				}
				if updContent != "" {
					m.Content = updContent
				}
				if updImportance >= 0 {
					m.Importance = updImportance
				}
			})
			if err != nil {
				return err
			}
			fmt.Println(rec.ID, "updated")
			return nil
		}),
	}
	update.Flags().StringVar(&updTitle, "title", "", "new title")
	update.Flags().StringVar(&updContent, "content", "", "new content")
	update.Flags().Float64Var(&updImportance, "importance", -1, "new importance")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one memory",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			rec, err := mgr.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"id":            rec.ID,
				"title":         rec.Title,
				"content":       rec.Content,
				"type":          string(rec.MemoryType),
				"importance":    rec.Importance,
				"tags":          rec.Tags,
				"related_files": rec.RelatedFiles,
				"git_commit":    rec.GitCommit,
				"created_at":    time.Unix(rec.CreatedAt, 0).Format(time.RFC3339),
				"updated_at":    time.Unix(rec.UpdatedAt, 0).Format(time.RFC3339),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}),
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		RunE: withManager(func(cmd *cobra.Command, _ []string, _ *app, mgr *memory.Manager) error {
			records, err := mgr.List(cmd.Context(), storage.MemoryFilter{Limit: listLimit})
			if err != nil {
				return err
			}
			printMemories(records)
			return nil
		}),
	}
	list.Flags().IntVar(&listLimit, "limit", 50, "maximum records")

	byType := &cobra.Command{
		Use:   "by-type <type>",
		Short: "List memories of one type",
		Args:  cobra.ExactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			mt, err := types.ParseMemoryType(args[0])
			if err != nil {
				return err
			}
			records, err := mgr.ByType(cmd.Context(), mt, 50)
			if err != nil {
				return err
			}
			printMemories(records)
			return nil
		}),
	}

	byTags := &cobra.Command{
		Use:   "by-tags <tag>...",
		Short: "List memories carrying any tag",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			records, err := mgr.ByTags(cmd.Context(), args, 50)
			if err != nil {
				return err
			}
			printMemories(records)
			return nil
		}),
	}

	forFiles := &cobra.Command{
		Use:   "for-files <path>...",
		Short: "List memories citing any path",
		Args:  cobra.MinimumNArgs(1),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			records, err := mgr.ForFiles(cmd.Context(), args, 50)
			if err != nil {
				return err
			}
			printMemories(records)
			return nil
		}),
	}

	recent := &cobra.Command{
		Use:   "recent",
		Short: "List the most recently updated memories",
		RunE: withManager(func(cmd *cobra.Command, _ []string, _ *app, mgr *memory.Manager) error {
			records, err := mgr.Recent(cmd.Context(), 20)
			if err != nil {
				return err
			}
			printMemories(records)
			return nil
		}),
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Memory store summary",
		RunE: withManager(func(cmd *cobra.Command, _ []string, _ *app, mgr *memory.Manager) error {
			st, err := mgr.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d memories, average importance %.2f\n", st.Total, st.AvgImp)
			for t, n := range st.ByType {
				fmt.Printf("  %-15s %d\n", t, n)
			}
			return nil
		}),
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale low-importance memories",
		RunE: withManager(func(cmd *cobra.Command, _ []string, _ *app, mgr *memory.Manager) error {
			n, err := mgr.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d memories\n", n)
			return nil
		}),
	}

	var confirm bool
	clearAll := &cobra.Command{
		Use:   "clear-all",
		Short: "Delete every memory",
		RunE: withManager(func(cmd *cobra.Command, _ []string, _ *app, mgr *memory.Manager) error {
			return mgr.ClearAll(cmd.Context(), confirm)
		}),
	}
	clearAll.Flags().BoolVar(&confirm, "yes", false, "confirm deletion")

	relate := &cobra.Command{
		Use:   "relate <source-id> <target-id>",
		Short: "Link two memories",
		Args:  cobra.ExactArgs(2),
		RunE: withManager(func(cmd *cobra.Command, args []string, _ *app, mgr *memory.Manager) error {
			return mgr.Relate(cmd.Context(), args[0], args[1])
		}),
	}

	cmd.AddCommand(memorize, remember, forget, update, get, list,
		byType, byTags, forFiles, recent, stats, cleanup, clearAll, relate)
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
