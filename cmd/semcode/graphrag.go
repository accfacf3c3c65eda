package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newGraphRAGCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graphrag",
		Short: "Explore the file-level knowledge graph",
	}

	var limit, depth int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Find files by semantic similarity and graph proximity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.graphBuilder().Search(cmd.Context(), args[0], limit, depth)
			if err != nil {
				return err
			}
			for _, r := range results {
				marker := ""
				if r.Depth > 0 {
					marker = fmt.Sprintf(" (via graph, depth %d)", r.Depth)
				}
				fmt.Printf("%.3f  %s%s\n", r.Similarity, r.Node.ID, marker)
				if r.Node.Description != "" {
					fmt.Printf("       %s\n", r.Node.Description)
				}
			}
			return nil
		},
	}
	search.Flags().IntVar(&limit, "limit", 5, "direct hits to return")
	search.Flags().IntVar(&depth, "depth", 0, "edge-following depth (0 disables)")

	getNode := &cobra.Command{
		Use:   "get-node <path>",
		Short: "Show one file's node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			node, err := a.graphBuilder().Node(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(map[string]any{
				"id":          node.ID,
				"description": node.Description,
				"language":    node.Language,
				"symbols":     node.Symbols,
				"imports":     node.Imports,
				"exports":     node.Exports,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	getRels := &cobra.Command{
		Use:   "get-relationships <path>",
		Short: "List a file's edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			edges, err := a.graphBuilder().Relationships(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range edges {
				fmt.Printf("%s -[%s w=%.1f c=%.1f]-> %s\n",
					e.SourceID, e.Kind, e.Weight, e.Confidence, e.TargetID)
			}
			return nil
		},
	}

	var pathDepth int
	findPath := &cobra.Command{
		Use:   "find-path <source> <target>",
		Short: "Shortest path between two files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.graphBuilder().FindPath(cmd.Context(), args[0], args[1], pathDepth)
			if err != nil {
				return err
			}
			if path == nil {
				fmt.Println("no path found")
				return nil
			}
			fmt.Println(strings.Join(path, " -> "))
			return nil
		},
	}
	findPath.Flags().IntVar(&pathDepth, "max-depth", 3, "maximum traversal depth")

	overview := &cobra.Command{
		Use:   "overview",
		Short: "Graph summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.graphBuilder().Overview(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d nodes, %d edges\n", st.Nodes, st.Edges)
			return nil
		},
	}

	cmd.AddCommand(search, getNode, getRels, findPath, overview)
	return cmd
}
