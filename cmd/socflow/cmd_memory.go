package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"socflow/internal/alert"
	"socflow/internal/llm"
	"socflow/internal/memory"
)

var (
	memoryK             int
	memoryMinSimilarity float64
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Query incident memory",
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find past incidents similar to a free-text query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		correlator := memory.NewCorrelator(s, nil)
		query := strings.Join(args, " ")
		incidents, err := correlator.Search(cmdContext(), query, memoryK, memoryMinSimilarity)
		if err != nil {
			return err
		}

		if len(incidents) == 0 {
			fmt.Println("No similar incidents found.")
			return nil
		}

		header := lipgloss.NewStyle().Bold(true)
		fmt.Println(header.Render(fmt.Sprintf("%d similar incidents:", len(incidents))))
		for _, inc := range incidents {
			fmt.Printf("\n  %s  similarity %.2f\n", inc.IncidentID, inc.Similarity)
			fmt.Printf("    %s, score %.2f, %s\n", inc.AlertType, inc.ThreatScore, inc.AttackStage)
			if inc.Summary != "" {
				fmt.Printf("    %s\n", inc.Summary)
			}
		}
		return nil
	},
}

var memoryExplainCmd = &cobra.Command{
	Use:   "explain <query>",
	Short: "Search memory and summarize what the matches mean",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var client llm.Client
		if cfg.LLM.APIKey != "" {
			client = llm.NewGeminiClientWithConfig(llm.GeminiConfig{
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.Model,
				BaseURL: cfg.LLM.BaseURL,
				Timeout: cfg.GetLLMTimeout(),
			})
		}

		correlator := memory.NewCorrelator(s, client)
		query := strings.Join(args, " ")
		incidents, err := correlator.Search(cmdContext(), query, memoryK, memoryMinSimilarity)
		if err != nil {
			return err
		}

		fmt.Println(correlator.Explain(cmdContext(), alert.Alert{Type: query}, incidents))
		return nil
	},
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <incident-id>",
	Short: "Show one stored incident",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		inc, err := s.GetByID(cmdContext(), args[0])
		if err != nil {
			return fmt.Errorf("incident %s not found", args[0])
		}

		fmt.Printf("%s  (%s)\n", inc.ID, inc.OccurredAt.Format("2006-01-02 15:04 MST"))
		fmt.Printf("  type:      %s (%s)\n", inc.AlertType, inc.Severity)
		fmt.Printf("  score:     %.2f\n", inc.ThreatScore)
		fmt.Printf("  stage:     %s\n", inc.AttackStage)
		fmt.Printf("  category:  %s\n", inc.ThreatCategory)
		if len(inc.Techniques) > 0 {
			fmt.Printf("  techniques: %s\n", strings.Join(inc.Techniques, ", "))
		}
		if inc.SourceIP != "" {
			fmt.Printf("  source ip: %s\n", inc.SourceIP)
		}
		if inc.CampaignID != "" {
			fmt.Printf("  campaign:  %s\n", inc.CampaignID)
		}
		if inc.Summary != "" {
			fmt.Printf("\n  %s\n", inc.Summary)
		}
		return nil
	},
}

var memoryCampaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List detected campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		campaigns, err := s.Campaigns(cmdContext())
		if err != nil {
			return err
		}
		if len(campaigns) == 0 {
			fmt.Println("No campaigns detected.")
			return nil
		}

		for _, c := range campaigns {
			span := c.LastSeen.Sub(c.FirstSeen).Hours()
			fmt.Printf("%s  %d incidents over %.1fh  (%s, last %s)\n",
				c.CampaignID, c.Incidents, span, c.TopType,
				c.LastSeen.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	memorySearchCmd.Flags().IntVar(&memoryK, "k", memory.SearchK, "maximum results")
	memorySearchCmd.Flags().Float64Var(&memoryMinSimilarity, "min-similarity", memory.SearchMinSimilarity, "minimum similarity")
	memoryExplainCmd.Flags().IntVar(&memoryK, "k", memory.SearchK, "maximum results")
	memoryExplainCmd.Flags().Float64Var(&memoryMinSimilarity, "min-similarity", memory.SearchMinSimilarity, "minimum similarity")

	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryExplainCmd)
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memoryCampaignsCmd)
}
