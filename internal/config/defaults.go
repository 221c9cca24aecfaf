package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:             "~/.supportdesk",
			LogLevel:            "info",
			MaxConcurrentEvents: 4,
		},
		Store: StoreConfig{
			DBPath: "~/.supportdesk/supportdesk.db",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Console: ConsoleConfig{
				Enabled: true,
			},
		},
		Support: SupportConfig{
			Languages:          []string{"en", "es", "fr", "de"},
			HistoryReplayLimit: 50,
			QueryPreviewLen:    200,
		},
		Events: EventsConfig{
			Enabled:           false,
			Exchange:          "supportdesk.events",
			RetryAttempts:     5,
			RetryDelaySeconds: 1,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     9090,
			Endpoint: "/metrics",
		},
	}
}
