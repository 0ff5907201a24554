package cmd

import (
	"context"
	"fmt"

	"github.com/opsmith-ai/opsmith/pkg/config"
	"github.com/opsmith-ai/opsmith/pkg/history"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Manage conversation threads",
}

var threadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversation threads",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Get()
		store := history.NewClientWithTimeout(settings.Server.URL, settings.Server.Timeout)

		threads, err := store.ListThreads(context.Background(), settings.Provider)
		if err != nil {
			return err
		}
		if len(threads) == 0 {
			fmt.Println("no threads")
			return nil
		}
		for _, t := range threads {
			fmt.Printf("%s  %s  (%s)\n", t.ID, t.Title, t.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a conversation thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Get()
		store := history.NewClientWithTimeout(settings.Server.URL, settings.Server.Timeout)

		if err := store.DeleteThread(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted thread %s\n", args[0])
		return nil
	},
}

func init() {
	threadsCmd.AddCommand(threadsListCmd)
	threadsCmd.AddCommand(threadsDeleteCmd)
	rootCmd.AddCommand(threadsCmd)
}
