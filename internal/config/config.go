// Package config provides YAML-based configuration loading for jobchat.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// User roles. Every user belongs to exactly one.
const (
	RoleSeeker = "seeker"
	RolePoster = "poster"
)

// Config is the top-level jobchat configuration, loaded from jobchat.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Messaging MessagingConfig `yaml:"messaging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Log       LogConfig       `yaml:"log"`
	Users     []UserConfig    `yaml:"users"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig selects and addresses the backing store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// AuthConfig controls how caller identity is established. An empty secret
// puts the server in dev mode, trusting the X-User-ID header.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// MessagingConfig tunes message submission.
type MessagingConfig struct {
	DuplicateWindowSec int    `yaml:"duplicate_window_sec"`
	SentinelBody       string `yaml:"sentinel_body"`
	PushOnPost         *bool  `yaml:"push_on_post"`
}

// GatewayConfig tunes websocket connections.
type GatewayConfig struct {
	SendBuffer      int    `yaml:"send_buffer"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
	PongWaitSec     int    `yaml:"pong_wait_sec"`
	WriteWaitSec    int    `yaml:"write_wait_sec"`
	PresenceResync  string `yaml:"presence_resync"`
}

// LogConfig controls the logrus standard logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// UserConfig seeds one directory entry.
type UserConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	Role      string `yaml:"role"`
	Headline  string `yaml:"headline"`
	AvatarURL string `yaml:"avatar_url"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// PushEnabled reports whether the REST facade pushes newly created messages.
func (m MessagingConfig) PushEnabled() bool {
	return m.PushOnPost == nil || *m.PushOnPost
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "jobchat.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Name == "" {
		c.Database.Name = "jobchat"
	}
	if c.Messaging.DuplicateWindowSec == 0 {
		c.Messaging.DuplicateWindowSec = 5
	}
	if c.Messaging.SentinelBody == "" {
		c.Messaging.SentinelBody = "Chat initiated"
	}
	if c.Gateway.SendBuffer == 0 {
		c.Gateway.SendBuffer = 256
	}
	if c.Gateway.MaxMessageBytes == 0 {
		c.Gateway.MaxMessageBytes = 8192
	}
	if c.Gateway.PongWaitSec == 0 {
		c.Gateway.PongWaitSec = 60
	}
	if c.Gateway.WriteWaitSec == 0 {
		c.Gateway.WriteWaitSec = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	for i := range c.Users {
		c.Users[i].Role = strings.ToLower(strings.TrimSpace(c.Users[i].Role))
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Messaging.DuplicateWindowSec < 0 {
		errs = append(errs, "messaging.duplicate_window_sec must be positive")
	}
	if c.Gateway.SendBuffer < 0 {
		errs = append(errs, "gateway.send_buffer must be positive")
	}
	if c.Gateway.PongWaitSec < 0 || c.Gateway.WriteWaitSec < 0 {
		errs = append(errs, "gateway timeouts must be positive")
	}
	if c.Gateway.PresenceResync != "" {
		if _, err := CronParser.Parse(c.Gateway.PresenceResync); err != nil {
			errs = append(errs, fmt.Sprintf("gateway.presence_resync: %v", err))
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	seen := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		if u.ID == "" {
			errs = append(errs, fmt.Sprintf("users[%d].id is required", i))
		} else if seen[u.ID] {
			errs = append(errs, fmt.Sprintf("users[%d].id %q is duplicated", i, u.ID))
		}
		seen[u.ID] = true
		if !ValidRole(u.Role) {
			errs = append(errs, fmt.Sprintf("users[%d].role %q must be seeker or poster", i, u.Role))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidRole reports whether role is one of the two user categories.
func ValidRole(role string) bool {
	return role == RoleSeeker || role == RolePoster
}

// OppositeRole returns the category a user of role may contact.
func OppositeRole(role string) string {
	if role == RoleSeeker {
		return RolePoster
	}
	return RoleSeeker
}

// CronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
