// Package config loads the static configuration a deployment supplies at
// construction time: the backing repository, the Cloudinary account, client
// policy, and one schema per collection.
//
// Schemas are configuration, not code: the admin console and the public
// site share a single TOML file describing every collection.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/commitdb"
	"github.com/custodia-labs/commitdb/schema"
	"github.com/custodia-labs/commitdb/store/githubstore"
)

// NowRule is the default-value marker for "the timestamp of the insert".
// It is resolved per call, not when the configuration is loaded.
const NowRule = "@now"

// GitHub configures the backing content repository.
type GitHub struct {
	Owner          string `toml:"owner"`
	Repo           string `toml:"repo"`
	Branch         string `toml:"branch"`
	BasePath       string `toml:"base_path"`
	Token          string `toml:"token"`
	CommitterName  string `toml:"committer_name"`
	CommitterEmail string `toml:"committer_email"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Client configures façade policy.
type Client struct {
	MaxWriteAttempts int      `toml:"max_write_attempts"`
	MessagePrefix    string   `toml:"message_prefix"`
	WarmCollections  []string `toml:"warm_collections"`
}

// Cloudinary configures the media uploader.
type Cloudinary struct {
	URL       string `toml:"url"`
	CloudName string `toml:"cloud_name"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// Collection declares one collection's schema.
type Collection struct {
	Required []string          `toml:"required"`
	Types    map[string]string `toml:"types"`
	Defaults map[string]any    `toml:"defaults"`
}

// Config is the root of the configuration file.
type Config struct {
	GitHub      GitHub                `toml:"github"`
	Client      Client                `toml:"client"`
	Cloudinary  Cloudinary            `toml:"cloudinary"`
	Collections map[string]Collection `toml:"collections"`
}

// Load parses configuration from a reader.
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	dec := toml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile parses configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// validate rejects configurations that would fail later in surprising
// places, unknown field type names above all.
func (c *Config) validate() error {
	for name, col := range c.Collections {
		for field, typeName := range col.Types {
			if _, err := schema.ParseFieldType(typeName); err != nil {
				return fmt.Errorf("config: collection %q, field %q: %w", name, field, err)
			}
		}
	}
	return nil
}

// Registry builds the schema registry from the declared collections.
func (c *Config) Registry() (*schema.Registry, error) {
	schemas := make(map[string]schema.Schema, len(c.Collections))
	for name, col := range c.Collections {
		s := schema.Schema{Required: col.Required}

		if len(col.Types) > 0 {
			s.Types = make(map[string]schema.FieldType, len(col.Types))
			for field, typeName := range col.Types {
				ft, err := schema.ParseFieldType(typeName)
				if err != nil {
					return nil, fmt.Errorf("config: collection %q, field %q: %w", name, field, err)
				}
				s.Types[field] = ft
			}
		}

		if len(col.Defaults) > 0 {
			s.Defaults = make(map[string]schema.Default, len(col.Defaults))
			for field, value := range col.Defaults {
				if rule, ok := value.(string); ok && rule == NowRule {
					s.Defaults[field] = schema.Now()
					continue
				}
				s.Defaults[field] = schema.Literal(value)
			}
		}

		schemas[name] = s
	}
	return schema.NewRegistry(schemas), nil
}

// StoreConfig maps the [github] section onto the adapter's configuration.
func (c *Config) StoreConfig() githubstore.Config {
	return githubstore.Config{
		Owner:          c.GitHub.Owner,
		Repo:           c.GitHub.Repo,
		Branch:         c.GitHub.Branch,
		BasePath:       c.GitHub.BasePath,
		Token:          c.GitHub.Token,
		CommitterName:  c.GitHub.CommitterName,
		CommitterEmail: c.GitHub.CommitterEmail,
		Timeout:        time.Duration(c.GitHub.TimeoutSeconds) * time.Second,
	}
}

// ClientOptions maps the [client] section onto façade options.
func (c *Config) ClientOptions() []commitdb.Option {
	var opts []commitdb.Option
	if c.Client.MaxWriteAttempts > 0 {
		opts = append(opts, commitdb.WithMaxWriteAttempts(c.Client.MaxWriteAttempts))
	}
	if c.Client.MessagePrefix != "" {
		opts = append(opts, commitdb.WithMessagePrefix(c.Client.MessagePrefix))
	}
	return opts
}
