package data

import (
	"context"
	"fmt"
	"sort"

	"CareFlow/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LogNotifier is the delivery stand-in: it logs every send and reports it as
// delivered. Recipients are masked by the logger.
type LogNotifier struct {
	logger *log.Helper
}

// NewLogNotifier creates a new log-only notifier
func NewLogNotifier(logger log.Logger) *LogNotifier {
	return &LogNotifier{
		logger: log.NewHelper(log.With(logger, "module", "data/notifier")),
	}
}

// Send logs the message (delivery disabled)
func (n *LogNotifier) Send(ctx context.Context, channel model.Channel, template, recipient string, mergeFields map[string]any) (bool, error) {
	switch channel {
	case model.ChannelEmail, model.ChannelSMS, model.ChannelPush:
	default:
		return false, fmt.Errorf("unsupported channel %q", channel)
	}
	if recipient == "" {
		return false, fmt.Errorf("recipient is required")
	}

	keys := make([]string, 0, len(mergeFields))
	for k := range mergeFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n.logger.WithContext(ctx).Infow("msg", "notification sent (delivery disabled)",
		"channel", string(channel),
		"template", template,
		"recipient", recipient,
		"merge_fields", keys)
	return true, nil
}
