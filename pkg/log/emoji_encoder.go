package log

import (
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// emojiMap maps the "type" field set by LogHelper to a console prefix.
var emojiMap = map[string]string{
	"request":   "🌐",
	"success":   "✅",
	"database":  "💾",
	"redis":     "📦",
	"scheduler": "⏰",
	"workflow":  "🧭",
	"action":    "🎯",
	"startup":   "🚀",
	"audit":     "📋",
	"security":  "🔒",
	"broadcast": "📡",
	"predict":   "🤖",
}

// statusEmoji returns a traffic light for an HTTP status code.
func statusEmoji(status int) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	default:
		return "🟢"
	}
}

// EmojiConsoleEncoder wraps the zap console encoder and prefixes each message
// with an emoji chosen from the status field, the type field, or the level.
type EmojiConsoleEncoder struct {
	zapcore.Encoder
	config zapcore.EncoderConfig
}

// NewEmojiConsoleEncoder creates the development console encoder.
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
		config:  cfg,
	}
}

// EncodeEntry implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if emoji := pickEmoji(entry.Level, fields); emoji != "" {
		entry.Message = emoji + " " + entry.Message
	}
	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone implements zapcore.Encoder.
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{
		Encoder: enc.Encoder.Clone(),
		config:  enc.config,
	}
}

func pickEmoji(level zapcore.Level, fields []zapcore.Field) string {
	var logType string
	var status int64
	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	if status > 0 {
		return statusEmoji(int(status))
	}
	if e, ok := emojiMap[logType]; ok {
		return e
	}

	switch {
	case level >= zapcore.ErrorLevel:
		return "❌"
	case level == zapcore.WarnLevel:
		return "⚠️"
	case level == zapcore.InfoLevel:
		return "ℹ️"
	case level == zapcore.DebugLevel:
		return "🐛"
	}
	return ""
}
