package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LeeSinLiang/Janus-sub000/internal/db"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
)

var (
	campaignListLimit   int
	campaignShowArchive bool
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign inspection commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show a campaign and its posts",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

func init() {
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns to show")
	campaignShowCmd.Flags().BoolVar(&campaignShowArchive, "archived", false, "Include archived posts")

	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd)
	rootCmd.AddCommand(campaignCmd)
}

// openStore opens the campaign database without the task queue, so it can
// be used next to a running server
func openStore() (*repository.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, err
	}

	return repository.NewStore(database.DB), func() { database.Close() }, nil
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	campaigns, err := store.Campaigns.List(context.Background(), campaignListLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHASE\tVERSION\tNODES\tCREATED")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			c.ID,
			truncate(c.Name, 32),
			phaseColor(c.Phase),
			c.CurrentVersion,
			c.Metadata.TotalNodes,
			c.CreatedAt.Format(time.DateTime),
		)
	}
	return w.Flush()
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()

	c, err := store.Campaigns.GetByID(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	posts, err := store.Posts.ListByCampaign(ctx, c.ID, campaignShowArchive)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}

	fmt.Printf("Campaign: %s\n", c.Name)
	fmt.Printf("  ID:      %s\n", c.ID)
	fmt.Printf("  Phase:   %s\n", phaseColor(c.Phase))
	fmt.Printf("  Version: %d\n", c.CurrentVersion)
	if c.Metadata.Goals != "" {
		fmt.Printf("  Goals:   %s\n", c.Metadata.Goals)
	}
	fmt.Printf("  Graph:   %d nodes, %d connections\n", c.Metadata.TotalNodes, c.Metadata.TotalConnections)

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tPHASE\tTITLE\tSTATUS\tTRIGGER\tVERSION")
	for _, p := range posts {
		status := string(p.Status)
		if !p.IsActive {
			status = color.New(color.FgHiBlack).Sprint("archived")
		} else if p.Regenerating {
			status = color.New(color.FgCyan).Sprint("regenerating")
		}

		trig := "-"
		if p.Trigger != nil {
			trig = fmt.Sprintf("%s %s %d", p.Trigger.Metric, p.Trigger.Comparison, p.Trigger.Value)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			p.NodeID, p.Phase, truncate(p.Title, 40), status, trig, p.Version)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(c.Insights) > 0 {
		fmt.Println()
		fmt.Println("Insights:")
		for _, in := range c.Insights {
			fmt.Printf("  %s [%s] %s\n", in.CreatedAt.Format(time.DateTime), in.Kind, in.Message)
		}
	}
	return nil
}

func phaseColor(p models.CampaignPhase) string {
	switch p {
	case models.PhaseActive:
		return color.New(color.FgGreen).Sprint(p)
	case models.PhaseContentCreation, models.PhasePlanning:
		return color.New(color.FgYellow).Sprint(p)
	case models.PhaseCompleted:
		return color.New(color.FgBlue).Sprint(p)
	}
	return string(p)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
