package config

import "errors"

type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Mail      MailConfig      `json:"mail"`
	Discord   DiscordConfig   `json:"discord"`
	Slack     SlackConfig     `json:"slack"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

// ServerConfig controls the HTTP API listener.
// All durations are Go duration strings (e.g. "10s", "1m").
type ServerConfig struct {
	Addr         string `json:"addr,omitempty"` // default: ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// MaxUploadMB caps multipart request bodies. Default 32.
	MaxUploadMB int `json:"max_upload_mb,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MailConfig configures the SMTP dispatch backend.
type MailConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port,omitempty"` // default: 587
	Username   string `json:"username"`
	Password   string `json:"password"`
	From       string `json:"from"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DiscordConfig configures the Discord dispatch backend. The channel is
// fixed at process start; requests never choose one.
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChannelID  string `json:"channel_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SlackConfig configures the Slack dispatch backend.
type SlackConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`

	// UseNativeSchedule defers scheduled posts to Slack's
	// chat.scheduleMessage instead of the local scheduler.
	UseNativeSchedule bool `json:"use_native_schedule,omitempty"`
	RatePerSec        int  `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the scheduled-dispatch core.
type SchedulerConfig struct {
	// Timezone is the fixed zone caller timestamps are interpreted in.
	// IANA name; default "Asia/Kolkata".
	Timezone string `json:"timezone,omitempty"`

	// SweepEvery is the recovery sweep interval (Go duration string,
	// default "1m").
	SweepEvery string `json:"sweep_every,omitempty"`

	// Retention keeps finished job rows for diagnostics before pruning
	// (Go duration string, default "168h").
	Retention string `json:"retention,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relayd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate rejects configs that cannot produce a working process. Enabled
// backends must carry their credentials; disabled ones may stay blank.
func (c *Config) Validate() error {
	if c.Mail.Enabled {
		if c.Mail.Host == "" || c.Mail.From == "" {
			return errors.New("mail: host and from are required when enabled")
		}
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" || c.Discord.ChannelID == "" {
			return errors.New("discord: token and channel_id are required when enabled")
		}
	}
	if c.Slack.Enabled {
		if c.Slack.Token == "" || c.Slack.ChannelID == "" {
			return errors.New("slack: token and channel_id are required when enabled")
		}
	}
	if !c.Mail.Enabled && !c.Discord.Enabled && !c.Slack.Enabled {
		return errors.New("at least one dispatch backend must be enabled")
	}
	if c.Storage != nil {
		switch c.Storage.Driver {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return errors.New("storage: unknown driver " + c.Storage.Driver)
		}
	}
	return nil
}
