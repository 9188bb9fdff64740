package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	statsSince string
	statsType  string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stored incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, err := time.ParseDuration(statsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration %q: %w", statsSince, err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStatistics(cmdContext(), time.Now().Add(-window), statsType)
		if err != nil {
			return err
		}

		header := lipgloss.NewStyle().Bold(true)
		scope := fmt.Sprintf("last %s", statsSince)
		if statsType != "" {
			scope += ", type " + statsType
		}
		fmt.Println(header.Render("Incident statistics (" + scope + ")"))
		fmt.Printf("  total:           %d\n", stats.Total)
		fmt.Printf("  avg threat:      %.2f\n", stats.AverageThreatScore)
		fmt.Printf("  high severity:   %d\n", stats.HighSeverity)

		if len(stats.ByType) > 0 {
			fmt.Println("\n  by type:")
			for _, k := range sortedKeys(stats.ByType) {
				fmt.Printf("    %-24s %d\n", k, stats.ByType[k])
			}
		}
		if len(stats.ByStage) > 0 {
			fmt.Println("\n  by attack stage:")
			for _, k := range sortedKeys(stats.ByStage) {
				fmt.Printf("    %-24s %d\n", k, stats.ByStage[k])
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "720h", "aggregation window")
	statsCmd.Flags().StringVar(&statsType, "type", "", "restrict to one alert type")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
