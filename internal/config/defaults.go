package config

const (
	defaultDataDir               = "~/.local/share/tillpoint"
	defaultLogDir                = "~/.local/share/tillpoint/logs"
	defaultAPIBind               = "127.0.0.1:7490"
	defaultFreshnessWindowMillis = 1500
	defaultReconnectAttempts     = 5
	defaultReconnectDelayMillis  = 500
	defaultReadTimeoutMillis     = 250
	defaultRetryAttempts         = 5
	defaultRetryDelayMillis      = 500
	defaultCurrency              = "BRL"
	defaultLocale                = "pt-BR"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Scale: Scale{
			FreshnessWindowMillis: defaultFreshnessWindowMillis,
			ReconnectAttempts:     defaultReconnectAttempts,
			ReconnectDelayMillis:  defaultReconnectDelayMillis,
			ReadTimeoutMillis:     defaultReadTimeoutMillis,
		},
		Checkout: Checkout{
			RetryAttempts:    defaultRetryAttempts,
			RetryDelayMillis: defaultRetryDelayMillis,
			Currency:         defaultCurrency,
			Locale:           defaultLocale,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
