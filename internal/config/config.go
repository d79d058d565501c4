// Package config holds runtime configuration for both pplxpool binaries,
// bound through cobra flags mapped to viper keys layered under automatic
// environment variables.
package config

import "github.com/spf13/viper"

// Version is stamped into the MCP server's implementation metadata.
const Version = "0.1.0"

// Config holds all runtime configuration shared by cmd/pplxpool-server and
// cmd/pplxpool-mcp.
type Config struct {
	ConfigFile       string
	StateFile        string
	AdminToken       string
	AdminPort        int
	SOCKSProxy       string
	RequestTimeout   int
	MonitorInterval  float64
	MonitorEnable    bool
	FallbackToAuto   bool
	TelegramBotToken string
	TelegramChatID   string
	Verbose          bool
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/pplxpool-server or
// cmd/pplxpool-mcp).
func Load() Config {
	return Config{
		ConfigFile:       viper.GetString("config_file"),
		StateFile:        viper.GetString("state_file"),
		AdminToken:       viper.GetString("admin_token"),
		AdminPort:        viper.GetInt("admin_port"),
		SOCKSProxy:       viper.GetString("socks_proxy"),
		RequestTimeout:   viper.GetInt("request_timeout"),
		MonitorInterval:  viper.GetFloat64("monitor_interval"),
		MonitorEnable:    viper.GetBool("monitor_enable"),
		FallbackToAuto:   viper.GetBool("fallback_to_auto"),
		TelegramBotToken: viper.GetString("telegram_bot_token"),
		TelegramChatID:   viper.GetString("telegram_chat_id"),
		Verbose:          viper.GetBool("verbose"),
	}
}
