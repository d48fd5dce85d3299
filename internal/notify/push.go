package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type PushSender interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// LogPushSender records pushes in the log. Mobile push credentials are not
// provisioned for this service yet.
type LogPushSender struct {
	logger zerolog.Logger
}

func NewLogPushSender(logger zerolog.Logger) *LogPushSender {
	return &LogPushSender{logger: logger}
}

func (s *LogPushSender) Send(_ context.Context, deviceToken, title, _ string, data map[string]string) error {
	token := deviceToken
	if len(token) > 8 {
		token = token[:8] + "..."
	}
	s.logger.Info().Str("token", token).Str("title", title).Str("type", data["type"]).Msg("push (log)")
	return nil
}
