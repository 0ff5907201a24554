package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/opsmith-ai/opsmith/pkg/config"
	"github.com/opsmith-ai/opsmith/pkg/headless"
	"github.com/opsmith-ai/opsmith/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "opsmith",
	Short: "Chat with the Opsmith automation assistant",
	Long:  `Command-line client for the Opsmith automation assistant: streams replies, resumes conversations, and answers interrupts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := viper.GetString("prompt")
		if prompt == "" {
			return fmt.Errorf("a prompt is required (use --prompt)")
		}

		runner, err := headless.NewRunner()
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer func() {
			if err := runner.Cleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: cleanup error: %v\n", err)
			}
		}()

		return runner.Run(context.Background(), prompt)
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .opsmith/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("server", "", "assistant server URL")
	viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().String("provider", "", "provider (tenant) id")
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))

	rootCmd.PersistentFlags().StringP("thread", "t", "", "thread id to continue")
	viper.BindPFlag("thread", rootCmd.PersistentFlags().Lookup("thread"))

	rootCmd.Flags().StringP("prompt", "p", "", "prompt to send")
	viper.BindPFlag("prompt", rootCmd.Flags().Lookup("prompt"))
}

func initConfig() {
	if _, err := config.Load(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}
