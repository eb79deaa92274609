package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LeeSinLiang/Janus-sub000/internal/strategy"
)

var (
	strategyPhase     int
	strategyDirection string
	strategyDiagram   bool
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Campaign strategy commands",
}

var strategyRegenerateCmd = &cobra.Command{
	Use:   "regenerate <campaign_id>",
	Short: "Replace the strategy from a phase onward",
	Long: `Archive every active post from --phase onward and plan a new set that
continues from the posts of earlier phases. Content generation for the new
posts is queued and runs on the next serve process.`,
	Args: cobra.ExactArgs(1),
	RunE: runStrategyRegenerate,
}

func init() {
	strategyRegenerateCmd.Flags().IntVar(&strategyPhase, "phase", 0, "First phase to replace (must be greater than 1)")
	strategyRegenerateCmd.Flags().StringVar(&strategyDirection, "direction", "", "Guidance for the new strategy")
	strategyRegenerateCmd.Flags().BoolVar(&strategyDiagram, "diagram", false, "Print the resulting diagram")
	strategyRegenerateCmd.MarkFlagRequired("phase")

	strategyCmd.AddCommand(strategyRegenerateCmd)
	rootCmd.AddCommand(strategyCmd)
}

func runStrategyRegenerate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Strategies().Regenerate(context.Background(), strategy.RegenerateRequest{
		CampaignID: args[0],
		FromPhase:  strategyPhase,
		Direction:  strategyDirection,
	})
	if err != nil {
		return fmt.Errorf("strategy regeneration failed: %w", err)
	}

	fmt.Printf("%s campaign %s is now at version %d\n",
		color.New(color.FgGreen).Sprint("OK"), res.CampaignID, res.NewVersion)
	fmt.Printf("  Archived: %d\n", res.ArchivedCount)
	fmt.Printf("  Created:  %d\n", res.CreatedCount)
	if res.Queued < res.CreatedCount {
		fmt.Printf("  Queued:   %s\n", color.New(color.FgYellow).Sprintf("%d of %d", res.Queued, res.CreatedCount))
	} else {
		fmt.Printf("  Queued:   %d\n", res.Queued)
	}
	for _, p := range res.Posts {
		fmt.Printf("    %s %-8s %s\n", color.New(color.FgCyan).Sprint("+"), p.NodeID, p.Title)
	}

	if strategyDiagram {
		fmt.Println()
		fmt.Println(res.Diagram)
	}
	return nil
}
