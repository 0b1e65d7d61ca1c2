package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"fluent.town/audio"
	"fluent.town/config"
	"fluent.town/evaluation"
	"fluent.town/session"
)

// newMicrophone picks the audio input named by input.
func newMicrophone(cfg config.Config, input string, logger *log.Logger) audio.Microphone {
	switch input {
	case "":
		mic := audio.DefaultCommandMicrophone()
		if len(cfg.CaptureCommand) > 0 {
			mic.Name = cfg.CaptureCommand[0]
			mic.Args = cfg.CaptureCommand[1:]
		}
		mic.Logger = logger
		return mic
	case "-":
		return audio.NewReaderMicrophone(os.Stdin)
	default:
		return audio.FileMicrophone{Path: input}
	}
}

func newSession(cfg config.Config, mic audio.Microphone, logger *log.Logger, cb session.Callbacks) *session.Session {
	client := cfg.SpeechmaticsClient()
	return session.New(session.Deps{
		Microphone:  mic,
		Constraints: audio.DefaultConstraints(),
		Tokens:      session.SpeechmaticsTokens{Client: client, TTL: cfg.SpeechmaticsKeyTTL},
		Connector:   session.SpeechmaticsConnector{Client: client, Config: cfg.StartRecognition(audio.SampleRate)},
		Logger:      logger,
	}, cb)
}

func newEvaluator(cfg config.Config, logger *log.Logger) *evaluation.Client {
	client := evaluation.NewClient(cfg.EvaluationURL)
	client.MaxRetries = cfg.EvaluationMaxRetries
	client.Logger = logger
	return client
}

// submitter binds an evaluation kind and item id for commands that submit
// a single answer.
func submitter(client *evaluation.Client, kind, itemID string) (func(context.Context, []session.Chunk) (*evaluation.Evaluation, error), error) {
	k, err := evaluation.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, chunks []session.Chunk) (*evaluation.Evaluation, error) {
		return client.Submit(ctx, k, itemID, chunks)
	}, nil
}

func loadConfig() (config.Config, error) {
	cfg := config.Load(viper.GetViper())
	if cfg.SpeechmaticsAPIKey == "" {
		return cfg, errors.New("speechmatics api key is required: set --speechmatics-api-key, SPEECHMATICS_API_KEY or run `fluent setup`")
	}
	return cfg, nil
}
