package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"giftline/internal/domain"
)

// Config models giftline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		Path          string `yaml:"path"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	} `yaml:"database"`
	Auth struct {
		TokenTTL string `yaml:"token_ttl"`
		Issuer   string `yaml:"issuer"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Access struct {
		Roles map[string]Role `yaml:"roles"`
	} `yaml:"access"`
}

type Role struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "giftline.yml"

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.database.busy_timeout_ms must not be negative")
	}
	if c.Auth.TokenTTL != "" {
		if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
			return fmt.Errorf("config.auth.token_ttl: %w", err)
		}
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	if len(c.Access.Roles) == 0 {
		return fmt.Errorf("config.access.roles is required")
	}
	for roleID, role := range c.Access.Roles {
		if strings.TrimSpace(roleID) == "" {
			return fmt.Errorf("config.access.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
			if !domain.KnownPermission(perm) {
				return fmt.Errorf("role %s grants unknown permission %s", roleID, perm)
			}
		}
	}
	return nil
}

// RolePermissions returns the permission set configured for a role.
func (c *Config) RolePermissions(roleID string) ([]string, bool) {
	role, ok := c.Access.Roles[roleID]
	if !ok {
		return nil, false
	}
	return role.Permissions, true
}

// TokenTTL returns the login token lifetime, 12h when unset.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with giftline config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

database:
  path: data/giftline.db
  busy_timeout_ms: 250

auth:
  token_ttl: 12h
  issuer: giftline

log:
  level: info
  format: json

access:
  roles:
    Admin:
      description: "Full access, including staff accounts"
      permissions: ["*"]
    Santa:
      description: "Plans and runs deliveries"
      permissions:
        - targets.read
        - groups.read
        - groups.write
        - groups.fulfill
        - fleet.read
        - deliveries.read
        - inventory.read
        - regions.read
        - codes.read
        - events.read
    ListElf:
      description: "Maintains the recipient list"
      permissions:
        - recipients.read
        - recipients.write
        - codes.read
        - codes.write
        - regions.read
        - stats.read
        - inventory.read
    GiftElf:
      description: "Runs the workshop"
      permissions:
        - inventory.read
        - inventory.produce
        - inventory.produce.manual
        - inventory.adjust
        - production.read
    Keeper:
      description: "Looks after the fleet"
      permissions:
        - fleet.read
        - fleet.write
        - fleet.health
`
