package notify

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/config"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
)

// NotifiersFromConfig builds a notifier for each configured channel.
// Channels left out fall back to the log notifier at dispatch time.
func NotifiersFromConfig(cfg config.NotifyConfig, logger *zap.Logger) map[deadline.Channel]Notifier {
	out := make(map[deadline.Channel]Notifier)

	if cfg.DesktopEnabled {
		out[deadline.ChannelDesktop] = NewDesktopNotifier()
	}

	if cfg.OneSignalAppID != "" && cfg.OneSignalAPIKey.IsSet() {
		n, err := NewOneSignalNotifier(OneSignalConfig{
			AppID:  cfg.OneSignalAppID,
			APIKey: cfg.OneSignalAPIKey.Value(),
		})
		if err != nil {
			logger.Warn("onesignal disabled", zap.Error(err))
		} else {
			out[deadline.ChannelMobilePush] = n
		}
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken.IsSet() && cfg.TwilioTo != "" {
		n, err := NewTwilioNotifier(TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken.Value(),
			From:       cfg.TwilioFrom,
			To:         cfg.TwilioTo,
		})
		if err != nil {
			logger.Warn("twilio disabled", zap.Error(err))
		} else {
			out[deadline.ChannelChatMessage] = n
		}
	}

	return out
}
