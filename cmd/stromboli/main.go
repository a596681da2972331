package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stromboli",
	Short: "Agent loop runner for streaming LLM inference with tools",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "zerolog level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("base-url", "", "override the API base URL")
	rootCmd.PersistentFlags().String("model", "gpt-4o-mini", "model id")
	rootCmd.PersistentFlags().StringArray("fallback-model", nil, "additional model ids to fall back to")
	rootCmd.PersistentFlags().Int("max-steps", 5, "hard cap on request/response turns")
	rootCmd.PersistentFlags().Float64("temperature", 0.7, "sampling temperature")
	rootCmd.PersistentFlags().StringArray("option", nil, "provider option as key=value; keys may be dotted paths")
	rootCmd.PersistentFlags().StringArray("header", nil, "extra request header as key=value")

	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))
	viper.SetEnvPrefix("STROMBOLI")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResumeCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
