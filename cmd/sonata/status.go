package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sonatahq/sonata/internal/config"
	"github.com/sonatahq/sonata/internal/registry"
	"github.com/sonatahq/sonata/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured services and persisted state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	printCapabilityTable(cfg)
	printState(cfg)
	return nil
}

func printCapabilityTable(cfg *config.Config) {
	color.Cyan("Capability table")

	table := registry.DefaultStaticTable()
	source := "built-in"
	if path := cfg.Registry.StaticTablePath; path != "" {
		loaded, err := registry.LoadStaticTable(path)
		if err != nil {
			color.Red("  %s: %v", path, err)
			return
		}
		table = loaded
		source = path
	}
	fmt.Printf("  source: %s\n", source)

	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s\n", color.GreenString(id))
		for _, c := range table[id] {
			line := fmt.Sprintf("    %-20s confidence=%.2f", c.TaskType, c.Confidence)
			if len(c.Specializations) > 0 {
				line += " [" + strings.Join(c.Specializations, ", ") + "]"
			}
			if c.AverageLatency > 0 {
				line += " ~" + c.AverageLatency.String()
			}
			fmt.Println(line)
		}
	}
}

func printState(cfg *config.Config) {
	fmt.Println()
	color.Cyan("Persisted state")

	dbPath := cfg.State.DBPath
	if dbPath == "" {
		dbPath = state.DefaultDBPath()
	}
	fmt.Printf("  database: %s\n", dbPath)

	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("  (no database yet)")
		return
	}

	db, err := state.Open(dbPath)
	if err != nil {
		color.Red("  open failed: %v", err)
		return
	}
	defer db.Close()

	keys, err := db.Keys()
	if err != nil {
		color.Red("  list failed: %v", err)
		return
	}
	if len(keys) == 0 {
		fmt.Println("  no stored blobs")
		return
	}

	var contexts int
	for _, k := range keys {
		if strings.HasPrefix(k, "context:") {
			contexts++
		}
	}
	fmt.Printf("  stored blobs: %d (%d spilled contexts)\n", len(keys), contexts)
	for _, k := range keys {
		fmt.Printf("    %s\n", k)
	}
}
