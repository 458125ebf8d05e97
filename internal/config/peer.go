package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Peer configures the headless call client.
type Peer struct {
	Server         string        `mapstructure:"server"`
	Call           string        `mapstructure:"call"`
	AutoAnswer     bool          `mapstructure:"auto_answer"`
	Echo           bool          `mapstructure:"echo"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AllowOverride  bool          `mapstructure:"allow_override"`
	STUNServers    []string      `mapstructure:"stun_servers"`
	Audio          bool          `mapstructure:"audio"`
	Video          bool          `mapstructure:"video"`
	LogLevel       string        `mapstructure:"log_level"`
}

// LoadPeer resolves peer settings from flags, CALL_* env and the config file,
// in that order of precedence.
func LoadPeer(args []string) (*Peer, error) {
	fs := pflag.NewFlagSet("peer", pflag.ContinueOnError)
	fs.String("server", "ws://localhost:8080/api/ws/signal", "signaling server websocket url")
	fs.String("call", "", "identity to dial once connected")
	fs.Bool("auto-answer", false, "accept incoming calls without asking")
	fs.Bool("echo", true, "send received media back to the caller")
	fs.Duration("connect-timeout", 30*time.Second, "time allowed from dial or accept until media flows")
	fs.Bool("allow-override", false, "let flagged offers replace the current call")
	fs.StringSlice("stun-servers", []string{"stun:stun.l.google.com:19302"}, "ICE STUN servers")
	fs.Bool("audio", true, "offer an audio track")
	fs.Bool("video", true, "offer a video track")
	fs.String("log-level", "info", "zerolog level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := newViper()
	for key, flag := range map[string]string{
		"server":          "server",
		"call":            "call",
		"auto_answer":     "auto-answer",
		"echo":            "echo",
		"connect_timeout": "connect-timeout",
		"allow_override":  "allow-override",
		"stun_servers":    "stun-servers",
		"audio":           "audio",
		"video":           "video",
		"log_level":       "log-level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	var cfg Peer
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse peer config: %w", err)
	}
	return &cfg, nil
}
