package auth

import (
	"context"
	"log/slog"
)

// LinkSender はマジックリンクをユーザーに届ける。
type LinkSender interface {
	Send(ctx context.Context, email, link string) error
}

// LogLinkSender はマジックリンクをログに出力するだけのLinkSender。
// メール配送基盤を接続するまでの開発用。
type LogLinkSender struct {
	logger *slog.Logger
}

// NewLogLinkSender はLogLinkSenderを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogLinkSender(logger *slog.Logger) *LogLinkSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogLinkSender{logger: logger}
}

// Send はリンクをログに出力する。
func (s *LogLinkSender) Send(ctx context.Context, email, link string) error {
	s.logger.InfoContext(ctx, "magic link issued",
		slog.String("email", email),
		slog.String("link", link),
	)
	return nil
}

// compile-time interface check
var _ LinkSender = (*LogLinkSender)(nil)
