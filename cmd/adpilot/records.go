package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"adpilot/internal/config"
	"adpilot/internal/store"
)

var (
	campaignListStatus string
	scheduleListStatus string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign record commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaign records",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show campaign record details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Activation schedule commands",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List activation jobs",
	RunE:  runScheduleList,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record store statistics",
	RunE:  runStats,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (draft, partial, created, active, archived, failed)")
	scheduleListCmd.Flags().StringVar(&scheduleListStatus, "status", "", "Filter by status (pending, completed, failed, cancelled)")

	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	rootCmd.AddCommand(campaignCmd, scheduleCmd, statsCmd)
}

// openRecordStore opens the store read-only so inspection works while
// the server holds the write lock.
func openRecordStore() (*store.BoltStore, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	s, err := store.OpenBoltStoreReadOnly(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	return s, nil
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	s, err := openRecordStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := store.ListCampaigns(context.Background(), s)
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if campaignListStatus != "" {
		filtered := make([]*store.CampaignRecord, 0)
		for _, r := range records {
			if string(r.Status) == campaignListStatus {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		fmt.Println("No campaign records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tACCOUNT\tNAME\tREMOTE ID\tCREATED")
	fmt.Fprintln(w, "--\t------\t-------\t----\t---------\t-------")

	for _, r := range records {
		name := r.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Status,
			r.AccountID,
			name,
			r.Remote.CampaignID,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d campaigns\n", len(records))

	return nil
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	s, err := openRecordStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	id := args[0]

	r, err := store.GetCampaign(ctx, s, id)
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}

	fmt.Printf("Campaign: %s\n\n", r.ID)
	fmt.Printf("Status:        %s\n", r.Status)
	fmt.Printf("Account:       %s\n", r.AccountID)
	fmt.Printf("Name:          %s\n", r.Name)
	fmt.Printf("Daily Budget:  %d\n", r.DailyBudget)
	fmt.Printf("Created:       %s\n", r.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:       %s\n", r.UpdatedAt.Format(time.RFC3339))

	if r.RemoteStatus != "" {
		fmt.Printf("Remote Status: %s\n", r.RemoteStatus)
	}
	if r.ActivatedAt != nil {
		fmt.Printf("Activated:     %s\n", r.ActivatedAt.Format(time.RFC3339))
	}
	if r.SyncedAt != nil {
		fmt.Printf("Synced:        %s\n", r.SyncedAt.Format(time.RFC3339))
	}

	fmt.Println("\nRemote IDs:")
	fmt.Printf("  Asset:     %s\n", orDash(r.Remote.AssetID))
	fmt.Printf("  Creative:  %s\n", orDash(r.Remote.CreativeID))
	fmt.Printf("  Campaign:  %s\n", orDash(r.Remote.CampaignID))
	fmt.Printf("  Ad Group:  %s\n", orDash(r.Remote.AdGroupID))
	fmt.Printf("  Ad:        %s\n", orDash(r.Remote.AdID))

	if r.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", r.LastError)
	}

	job, err := store.PendingScheduleForCampaign(ctx, s, id)
	if err == nil && job != nil {
		fmt.Printf("\nPending Activation:\n")
		fmt.Printf("  Job:     %s\n", job.JobID)
		fmt.Printf("  Run At:  %s\n", job.RunAt.Format(time.RFC3339))
	}

	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	s, err := openRecordStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := store.ListSchedules(context.Background(), s)
	if err != nil {
		return fmt.Errorf("failed to list schedules: %w", err)
	}

	if scheduleListStatus != "" {
		filtered := make([]*store.ScheduleRecord, 0)
		for _, r := range records {
			if string(r.Status) == scheduleListStatus {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		fmt.Println("No activation jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tCAMPAIGN\tRUN AT\tEXECUTED")
	fmt.Fprintln(w, "---\t------\t--------\t------\t--------")

	for _, r := range records {
		executed := "-"
		if r.ExecutedAt != nil {
			executed = r.ExecutedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.JobID,
			r.Status,
			r.CampaignID,
			r.RunAt.Format("2006-01-02 15:04"),
			executed,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d jobs\n", len(records))

	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openRecordStore()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := store.CollectStats(context.Background(), s)
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}

	fmt.Println("Record Store Statistics")
	fmt.Println("=======================")
	fmt.Printf("Accounts:   %d\n", stats.Accounts)
	fmt.Printf("Campaigns:  %d\n", stats.Campaigns)
	fmt.Printf("Schedules:  %d\n", stats.Schedules)
	fmt.Printf("  Pending:    %d\n", stats.PendingSchedules)
	fmt.Printf("  Completed:  %d\n", stats.CompletedSchedules)
	fmt.Printf("  Failed:     %d\n", stats.FailedSchedules)

	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
