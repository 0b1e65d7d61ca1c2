package main

import (
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fluent.town/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prompt for API keys and write the config file",
	Run: func(cmd *cobra.Command, args []string) {
		RunSetup()
	},
}

func RunSetup() {
	log.Info("Starting Fluent setup...")

	dir, err := config.Dir()
	if err != nil {
		log.Fatal("Failed to find config directory", "error", err)
	}
	path := filepath.Join(dir, "config.yaml")

	speechmaticsAPIKey := viper.GetString(config.KeySpeechmaticsAPIKey)
	evaluationURL := viper.GetString(config.KeyEvaluationURL)
	language := viper.GetString(config.KeyLanguage)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Enter your Speechmatics API Key").
				EchoMode(huh.EchoModePassword).
				Value(&speechmaticsAPIKey),
			huh.NewInput().
				Title("Evaluation backend URL").
				Value(&evaluationURL),
			huh.NewSelect[string]().
				Title("Transcription language").
				Options(
					huh.NewOption("English", "en"),
					huh.NewOption("Spanish", "es"),
					huh.NewOption("French", "fr"),
					huh.NewOption("German", "de"),
				).
				Value(&language),
		),
	)

	if err := form.Run(); err != nil {
		log.Fatal("Error during setup", "error", err)
	}

	err = config.Save(path, map[string]string{
		config.KeySpeechmaticsAPIKey: speechmaticsAPIKey,
		config.KeyEvaluationURL:      evaluationURL,
		config.KeyLanguage:           language,
	})
	if err != nil {
		log.Fatal("Error saving configuration", "error", err)
	}

	log.Info("Setup completed successfully!", "path", path)
}
