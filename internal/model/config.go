package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LogConfig holds the destinations and level for the two log streams:
// an operational stream (console plus ops_file, info and up) and a
// verbose diagnostic stream (verbose_file only, debug and up).
type LogConfig struct {
	// Level is the minimum level for the operational stream.
	Level string `mapstructure:"level"`

	// OpsFile is the path of the operational log file. Empty disables
	// the file; the console stream is always on.
	OpsFile string `mapstructure:"ops_file"`

	// VerboseFile is the path of the debug-level diagnostic log file.
	// Empty disables the verbose stream entirely.
	VerboseFile string `mapstructure:"verbose_file"`
}

// Settings is the immutable process configuration, loaded once at startup.
type Settings struct {
	// IMAPHost is the mailbox server hostname.
	IMAPHost string `mapstructure:"imap_host"`

	// IMAPPort is the mailbox server port.
	IMAPPort string `mapstructure:"imap_port"`

	// IMAPUser is the mailbox login address. It doubles as the fallback
	// recipient for messages without a Delivered-To header.
	IMAPUser string `mapstructure:"imap_user"`

	// IMAPPassword is the mailbox credential. When absent, the entry
	// point falls back to the OS keyring under the login address.
	IMAPPassword string `mapstructure:"imap_password"`

	// IMAPTLS selects implicit TLS; when false the client uses STARTTLS.
	IMAPTLS bool `mapstructure:"imap_tls"`

	// Mailbox is the folder to watch.
	Mailbox string `mapstructure:"mailbox"`

	// WebhookURL is the Discord-style webhook endpoint.
	WebhookURL string `mapstructure:"webhook_url"`

	// EmailSenders are case-insensitive substrings matched against the
	// sender address.
	EmailSenders []string `mapstructure:"email_senders"`

	// Keywords are case-insensitive substrings matched against the
	// subject and body.
	Keywords []string `mapstructure:"keywords"`

	// CheckIntervalSeconds is the sleep between poll cycles.
	CheckIntervalSeconds int `mapstructure:"check_interval_seconds"`

	// RecipientExcludeList suppresses notifications for messages
	// delivered to these addresses. May be empty.
	RecipientExcludeList []string `mapstructure:"recipient_exclude_list"`

	// IOTimeoutSeconds bounds every network operation (dial, webhook).
	IOTimeoutSeconds int `mapstructure:"io_timeout_seconds"`

	// HistoryDB is the path of the sqlite notification audit log.
	// Empty disables it.
	HistoryDB string `mapstructure:"history_db"`

	// MetricsAddr is the listen address for /metrics and /healthz.
	// Empty disables the server.
	MetricsAddr string `mapstructure:"metrics_addr"`

	Log LogConfig `mapstructure:"log"`
}

// Interval returns the poll interval as a duration.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// IOTimeout returns the per-operation network timeout as a duration.
func (s *Settings) IOTimeout() time.Duration {
	return time.Duration(s.IOTimeoutSeconds) * time.Second
}

// Load reads the configuration from the given YAML file using Viper.
// Environment variables override file values (dots become underscores,
// e.g. IMAP_PASSWORD). An unreadable file is a fatal startup error;
// Load does not validate, since the password may still be resolved
// from the keyring afterwards.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("imap_port", "993")
	v.SetDefault("imap_tls", true)
	v.SetDefault("imap_password", "")
	v.SetDefault("mailbox", "INBOX")
	v.SetDefault("io_timeout_seconds", 30)
	v.SetDefault("history_db", "mailwatch.db")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.ops_file", "mailwatch.log")
	v.SetDefault("log.verbose_file", "mailwatch_verbose.log")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks that every required field is present. It is called
// after the keyring fallback, so the password must be set by now.
func (s *Settings) Validate() error {
	switch {
	case s.IMAPHost == "":
		return fmt.Errorf("config: imap_host is required")
	case s.IMAPUser == "":
		return fmt.Errorf("config: imap_user is required")
	case s.IMAPPassword == "":
		return fmt.Errorf("config: imap_password is required (config, env, or keyring)")
	case s.WebhookURL == "":
		return fmt.Errorf("config: webhook_url is required")
	case len(s.EmailSenders) == 0:
		return fmt.Errorf("config: email_senders must not be empty")
	case len(s.Keywords) == 0:
		return fmt.Errorf("config: keywords must not be empty")
	case s.CheckIntervalSeconds <= 0:
		return fmt.Errorf("config: check_interval_seconds must be positive")
	case s.IOTimeoutSeconds <= 0:
		return fmt.Errorf("config: io_timeout_seconds must be positive")
	}
	return nil
}
