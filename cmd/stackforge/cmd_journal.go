package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/stackforge/internal/journal"
	"github.com/yairfalse/stackforge/pkg/account"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Read and maintain the provisioning journal",
}

var journalHistoryCmd = &cobra.Command{
	Use:   "history KEY",
	Short: "Show every recorded event for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := journal.History(cfg.Journal.Dir, journalConfig(cfg.Journal), account.Key(args[0]))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No journal entries for %s\n", args[0])
			return nil
		}
		return printHistory(cmd.OutOrStdout(), entries)
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show journal file statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st := journal.StatsFromDir(cfg.Journal.Dir, journalConfig(cfg.Journal))
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Directory:     %s\n", cfg.Journal.Dir)
		fmt.Fprintf(w, "Files:         %d\n", st.Files)
		fmt.Fprintf(w, "Size:          %d bytes\n", st.SizeBytes)
		fmt.Fprintf(w, "Last sequence: %d\n", st.LastSequence)
		if st.Files > 0 {
			fmt.Fprintf(w, "Oldest:        %s\n", st.OldestFile)
			fmt.Fprintf(w, "Newest:        %s\n", st.NewestFile)
		}
		return nil
	},
}

var journalCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove journal files past the retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := journal.Cleanup(cfg.Journal.Dir, journalConfig(cfg.Journal), time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files (%d bytes)\n", st.FilesRemoved, st.BytesFreed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalHistoryCmd, journalStatsCmd, journalCleanupCmd)
}
