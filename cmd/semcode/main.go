// Command semcode is the CLI for the semantic code-search and
// knowledge-graph engine: index a working tree, search it, explore the
// file graph, and manage memories.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: false})
	if os.Getenv("SEMCODE_DEBUG") != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	root := &cobra.Command{
		Use:           "semcode",
		Short:         "Local semantic code search and knowledge graph",
		Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newViewCmd(),
		newGraphRAGCmd(),
		newMemoryCmd(),
		newWatchCmd(),
		newClearCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logrus.WithError(err).Debug("command failed")
		os.Exit(1)
	}
}
