package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
)

var (
	tasksListStatus string
	tasksListKind   string
	tasksListLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Background task queue commands",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued tasks",
	RunE:  runTasksList,
}

var tasksStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runTasksStats,
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksListStatus, "status", "", "Filter by status (pending, running, done, failed, deferred)")
	tasksListCmd.Flags().StringVar(&tasksListKind, "kind", "", "Filter by kind (generate_content, regenerate_content)")
	tasksListCmd.Flags().IntVar(&tasksListLimit, "limit", 50, "Maximum number of tasks to show")

	tasksCmd.AddCommand(tasksListCmd, tasksStatsCmd)
	rootCmd.AddCommand(tasksCmd)
}

func openTaskStorage() (*tasks.BoltStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	storage, err := tasks.NewBoltStorage(cfg.Queue.Path, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open task storage: %w", err)
	}
	return storage, nil
}

func runTasksList(cmd *cobra.Command, args []string) error {
	storage, err := openTaskStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	list, err := storage.List(context.Background(), tasks.ListFilter{
		Status: tasks.Status(tasksListStatus),
		Kind:   tasks.Kind(tasksListKind),
		Limit:  tasksListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tPOST\tSTATUS\tRETRIES\tUPDATED\tLAST ERROR")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Kind, t.PostID, statusColor(t.Status), t.RetryCount,
			t.UpdatedAt.Format(time.DateTime), truncate(t.LastError, 60))
	}
	return w.Flush()
}

func runTasksStats(cmd *cobra.Command, args []string) error {
	storage, err := openTaskStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Task Queue Statistics")
	fmt.Printf("  Pending:  %d\n", stats.Pending)
	fmt.Printf("  Running:  %d\n", stats.Running)
	fmt.Printf("  Deferred: %d\n", stats.Deferred)
	fmt.Printf("  Done:     %d\n", stats.Done)
	failed := fmt.Sprint(stats.Failed)
	if stats.Failed > 0 {
		failed = color.New(color.FgRed).Sprint(failed)
	}
	fmt.Printf("  Failed:   %s\n", failed)
	fmt.Printf("  Total:    %d\n", stats.Total)
	return nil
}

func statusColor(s tasks.Status) string {
	switch s {
	case tasks.StatusDone:
		return color.New(color.FgGreen).Sprint(s)
	case tasks.StatusFailed:
		return color.New(color.FgRed).Sprint(s)
	case tasks.StatusDeferred:
		return color.New(color.FgYellow).Sprint(s)
	}
	return string(s)
}
