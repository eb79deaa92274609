package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger commands",
}

var triggerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate triggers and queue regenerations",
	RunE:  runTriggerCheck,
}

func init() {
	triggerCmd.AddCommand(triggerCheckCmd)
	rootCmd.AddCommand(triggerCmd)
}

func runTriggerCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Triggers().Check(context.Background())
	if err != nil {
		return fmt.Errorf("trigger check failed: %w", err)
	}

	fmt.Printf("Checked %d posts, %d fired\n", res.Checked, len(res.Fired))
	for _, f := range res.Fired {
		fmt.Printf("  %s %s: %s %s %d on %v (task %s)\n",
			color.New(color.FgGreen).Sprint("FIRED"),
			f.PostID, f.Metric, f.Comparison, f.Threshold, f.Variants, f.TaskID)
	}
	for _, s := range res.Skipped {
		fmt.Printf("  %s %s: %s\n", color.New(color.FgYellow).Sprint("SKIP "), s.PostID, s.Reason)
	}
	return nil
}
