package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fluent.town/config"
	"fluent.town/speechmatics"
)

var (
	cfgFile string
	logger  *log.Logger
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml or ~/.config/fluent/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("speechmatics-api-key", "", "Speechmatics API key")
	rootCmd.PersistentFlags().
		String("evaluation-url", "", "Base URL of the evaluation backend")
	rootCmd.PersistentFlags().
		StringP("input", "i", "", "Audio input: empty for the microphone, - for raw float32 on stdin, or a .wav/.ogg/.opus/.raw file")

	viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag(
		config.KeySpeechmaticsAPIKey,
		rootCmd.PersistentFlags().Lookup("speechmatics-api-key"),
	)
	viper.BindPFlag(
		config.KeyEvaluationURL,
		rootCmd.PersistentFlags().Lookup("evaluation-url"),
	)
	viper.BindPFlag("input", rootCmd.PersistentFlags().Lookup("input"))

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(speechmatics.Cmd)
}

func initConfig() {
	if err := config.Init(viper.GetViper(), cfgFile); err != nil {
		fmt.Printf("Error reading config file: %s\n", err)
	}

	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           parseLevel(viper.GetString(config.KeyLogLevel)),
	})
	log.SetDefault(logger)
}

func parseLevel(s string) log.Level {
	level, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

var rootCmd = &cobra.Command{
	Use:   "fluent",
	Short: "Fluent records spoken answers and transcribes them live",
	Long: `Fluent captures audio from the microphone or a file, streams it to the
Speechmatics real-time API, and submits the transcribed chunks to the
evaluation backend for speaking and reading practice.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
