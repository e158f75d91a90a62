// Package main provides the onnxtool CLI entry point.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fs-eire/onnxtool/pkg/catalog"
	"github.com/fs-eire/onnxtool/pkg/config"
	"github.com/fs-eire/onnxtool/pkg/onnx"
	"github.com/fs-eire/onnxtool/pkg/rename"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "onnxtool",
		Short: "onnxtool - rename and inspect ONNX model graphs",
		Long: `onnxtool rewrites the display names of every computation node in an
ONNX model to sequential placeholders (node0, node1, ...) and writes the
result to a new file. All other model content is preserved byte for byte.

Run with no arguments to rename TCGA3.onnx into TCGA3_modified.onnx in the
working directory, or use the rename command to pick paths explicitly.`,
		SilenceUsage: true,
		RunE:         runRename,
	}
	addRenameFlags(rootCmd)

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("onnxtool v%s (%s)\n", version, commit)
		},
	})

	// Rename command (same behavior as the bare root invocation)
	renameCmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename all graph nodes to sequential placeholders",
		Long:  "Rename every computation node to <prefix><index>, preserving node order and all other model content.",
		RunE:  runRename,
	}
	addRenameFlags(renameCmd)
	rootCmd.AddCommand(renameCmd)

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info [model]",
		Short: "Inspect an ONNX model without modifying it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInfo,
	}
	rootCmd.AddCommand(infoCmd)

	// History command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded rename runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().String("catalog-dir", "", "Catalog directory (or ONNXTOOL_CATALOG_DIR)")
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRenameFlags(cmd *cobra.Command) {
	cmd.Flags().String("input", config.DefaultInput, "Input model path")
	cmd.Flags().String("output", config.DefaultOutput, "Output model path")
	cmd.Flags().String("prefix", config.DefaultPrefix, "Prefix for generated node names")
	cmd.Flags().String("config", "", "YAML config file")
	cmd.Flags().String("catalog-dir", "", "Record the run in this catalog directory")
}

// resolveConfig layers flags over environment, config file, and defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("input") {
		cfg.Input, _ = cmd.Flags().GetString("input")
	}
	if cmd.Flags().Changed("output") {
		cfg.Output, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("prefix") {
		cfg.Prefix, _ = cmd.Flags().GetString("prefix")
	}
	if cmd.Flags().Changed("catalog-dir") {
		cfg.CatalogDir, _ = cmd.Flags().GetString("catalog-dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRename(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	res, err := rename.File(rename.Options{
		Input:  cfg.Input,
		Output: cfg.Output,
		Prefix: cfg.Prefix,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ Renamed %d nodes: %s -> %s (%d bytes)\n",
		res.Nodes, cfg.Input, cfg.Output, res.OutputBytes)

	if cfg.CatalogDir != "" {
		cat, err := catalog.Open(cfg.CatalogDir)
		if err != nil {
			return err
		}
		defer cat.Close()

		err = cat.Record(&catalog.Entry{
			Digest: res.Digest,
			Input:  cfg.Input,
			Output: cfg.Output,
			Prefix: cfg.Prefix,
			Nodes:  res.Nodes,
		})
		if err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
		fmt.Printf("   Recorded in catalog (%s)\n", res.Digest[:12])
	}

	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := config.LoadFromEnv().Input
	if len(args) == 1 {
		path = args[0]
	}

	m, err := onnx.Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("Model: %s\n", path)
	fmt.Printf("  IR version:    %d\n", m.IRVersion)
	if m.ProducerName != "" {
		fmt.Printf("  Producer:      %s %s\n", m.ProducerName, m.ProducerVersion)
	}
	if m.ModelVersion != 0 {
		fmt.Printf("  Model version: %d\n", m.ModelVersion)
	}
	for _, set := range m.OpsetImport {
		domain := set.Domain
		if domain == "" {
			domain = "ai.onnx"
		}
		fmt.Printf("  Opset:         %s v%d\n", domain, set.Version)
	}

	if m.Graph == nil {
		fmt.Println("  Graph:         (none)")
		return nil
	}

	fmt.Printf("  Graph:         %q, %d nodes\n", m.Graph.Name, len(m.Graph.Nodes))

	// Op type histogram, most frequent first.
	counts := map[string]int{}
	for _, n := range m.Graph.Nodes {
		counts[n.OpType]++
	}
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if counts[ops[i]] != counts[ops[j]] {
			return counts[ops[i]] > counts[ops[j]]
		}
		return ops[i] < ops[j]
	})
	for _, op := range ops {
		name := op
		if name == "" {
			name = "(unset)"
		}
		fmt.Printf("    %-24s %d\n", name, counts[op])
	}

	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	if cmd.Flags().Changed("catalog-dir") {
		cfg.CatalogDir, _ = cmd.Flags().GetString("catalog-dir")
	}
	if cfg.CatalogDir == "" {
		return fmt.Errorf("no catalog directory configured (use --catalog-dir or ONNXTOOL_CATALOG_DIR)")
	}

	cat, err := catalog.Open(cfg.CatalogDir)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %s -> %s  %d nodes  prefix=%q  %s\n",
			e.RenamedAt.Format("2006-01-02 15:04:05"),
			e.Input, e.Output, e.Nodes, e.Prefix, e.Digest[:12])
	}
	return nil
}
