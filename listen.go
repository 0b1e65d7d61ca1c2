package main

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fluent.town/config"
	"fluent.town/tui"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Open the interactive practice screen",
	Long: `Open a terminal screen to record an answer, watch it being transcribed
and submit it for evaluation. Logs are written to fluent.log.`,
	Run: runListen,
}

func init() {
	listenCmd.Flags().String("kind", "speaking", "Evaluation kind (speaking or reading)")
	listenCmd.Flags().String("item", "", "Topic id for speaking, passage id for reading")
	listenCmd.Flags().String("log-file", "fluent.log", "Where to write logs while the screen is open")
}

func runListen(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("Configuration incomplete", "error", err)
	}

	logFile, _ := cmd.Flags().GetString("log-file")
	fileLogger, closer, err := tui.OpenFileLogger(logFile, parseLevel(viper.GetString(config.KeyLogLevel)))
	if err != nil {
		log.Fatal("Failed to open log file", "error", err)
	}
	defer closer.Close()

	kind, _ := cmd.Flags().GetString("kind")
	item, _ := cmd.Flags().GetString("item")
	submit, err := submitter(newEvaluator(cfg, fileLogger), kind, item)
	if err != nil {
		log.Fatal("Invalid evaluation kind", "error", err)
	}

	events := tui.NewEvents()
	sess := newSession(cfg, newMicrophone(cfg, viper.GetString("input"), fileLogger), fileLogger, events.Callbacks())
	defer sess.Close()

	if err := tui.Run(sess, submit, events); err != nil {
		log.Fatal("Practice screen failed", "error", err)
	}
}
