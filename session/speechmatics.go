package session

import (
	"context"
	"time"

	"fluent.town/speechmatics"
)

type SpeechmaticsTokens struct {
	Client *speechmatics.Client
	TTL    time.Duration
}

func (s SpeechmaticsTokens) Token(ctx context.Context) (string, error) {
	key, err := s.Client.CreateTemporaryKey(ctx, s.TTL)
	if err != nil {
		return "", err
	}
	return key.Value, nil
}

type SpeechmaticsConnector struct {
	Client *speechmatics.Client
	Config speechmatics.StartRecognition
}

func (c SpeechmaticsConnector) Connect(ctx context.Context, token string) (Transcriber, error) {
	return c.Client.Dial(ctx, token, c.Config)
}
