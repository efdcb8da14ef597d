package chatengine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/davidakpele/chatengine/credentials"
	"github.com/davidakpele/chatengine/markdown"
	"github.com/davidakpele/chatengine/models"
	"github.com/davidakpele/chatengine/sessions"
	"github.com/davidakpele/chatengine/stores"
)

// Config holds everything needed to run an Engine.
type Config struct {
	Endpoint       string        `toml:"endpoint"`
	AuthURL        string        `toml:"auth_url"`
	Token          string        `toml:"token"`
	UserID         uint64        `toml:"user_id"`
	RequestTimeout time.Duration `toml:"-"`
	ListenAddr     string        `toml:"listen_addr"`
	TitleLimit     int           `toml:"title_limit"`
	Highlight      bool          `toml:"highlight"`
	HighlightStyle string        `toml:"highlight_style"`
	Sanitize       bool          `toml:"sanitize"`
	// BlockIDPrefix prefixes the ids of rendered code blocks, "code" when empty.
	BlockIDPrefix string `toml:"block_id_prefix"`

	// Stores are mirrored in order; the first one wins on reads.
	Stores []*stores.StoreConfig `toml:"store"`
}

// fileConfig is the on-disk shape. Durations are written as strings like "45s".
type fileConfig struct {
	Config
	RequestTimeout string `toml:"request_timeout"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Endpoint:       sessions.DefaultEndpoint,
		AuthURL:        credentials.DefaultBaseURL,
		RequestTimeout: sessions.DefaultRequestTimeout,
		ListenAddr:     "127.0.0.1:8080",
		TitleLimit:     models.DefaultTitleLimit,
		HighlightStyle: markdown.DefaultHighlightStyle,
		Sanitize:       true,
	}
}

// WithEndpoint sets the chat socket URL
func (c *Config) WithEndpoint(endpoint string) *Config {
	c.Endpoint = endpoint
	return c
}

// WithAuthURL sets the base URL of the account service
func (c *Config) WithAuthURL(url string) *Config {
	c.AuthURL = url
	return c
}

// WithIdentity sets the token and user id the session is opened with
func (c *Config) WithIdentity(token string, userID uint64) *Config {
	c.Token = token
	c.UserID = userID
	return c
}

// WithRequestTimeout sets how long a request may go without a reply
func (c *Config) WithRequestTimeout(d time.Duration) *Config {
	c.RequestTimeout = d
	return c
}

// WithListenAddr sets the address of the HTTP view
func (c *Config) WithListenAddr(addr string) *Config {
	c.ListenAddr = addr
	return c
}

// WithHighlighting enables chroma highlighting of fenced code
func (c *Config) WithHighlighting(style string) *Config {
	c.Highlight = true
	if style != "" {
		c.HighlightStyle = style
	}
	return c
}

// WithBlockIDPrefix sets the prefix of rendered code block ids
func (c *Config) WithBlockIDPrefix(prefix string) *Config {
	c.BlockIDPrefix = prefix
	return c
}

// WithStore adds a snapshot store. The first store added wins on reads.
func (c *Config) WithStore(store *stores.StoreConfig) *Config {
	c.Stores = append(c.Stores, store)
	return c
}

// WithSQLiteStore adds a SQLite store with the specified database path
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	return c.WithStore(stores.NewStoreConfig(stores.TypeSQLite, dbPath))
}

// WithPostgresStore adds a PostgreSQL store with the specified DSN
func (c *Config) WithPostgresStore(dsn string) *Config {
	return c.WithStore(stores.NewStoreConfig(stores.TypePostgres, dsn))
}

// WithRedisStore adds a Redis store with the specified URL
func (c *Config) WithRedisStore(url string) *Config {
	return c.WithStore(stores.NewStoreConfig(stores.TypeRedis, url))
}

// Validate reports settings an Engine cannot start with. Store types are
// normalized to their lower-case names.
func (c *Config) Validate() error {
	if _, err := sessions.BuildURL(c.Endpoint); err != nil {
		return err
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout)
	}
	for _, s := range c.Stores {
		t, err := stores.ParseStoreType(s.Type)
		if err != nil {
			return err
		}
		s.Type = t
	}
	return nil
}

// RendererOptions translates the rendering settings into markdown options.
func (c *Config) RendererOptions() []markdown.Option {
	var opts []markdown.Option
	if c.Highlight {
		opts = append(opts, markdown.WithHighlighting(c.HighlightStyle))
	}
	if c.Sanitize {
		opts = append(opts, markdown.WithSanitizer())
	}
	if c.BlockIDPrefix != "" {
		opts = append(opts, markdown.WithBlockIDPrefix(c.BlockIDPrefix))
	}
	return opts
}

// LoadConfig reads path when it is not empty, then applies .env files and the
// CHATENGINE_* environment on top. Missing .env files are ignored.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		fc := fileConfig{Config: *cfg}
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		*cfg = fc.Config
		cfg.RequestTimeout = NewConfig().RequestTimeout
		if fc.RequestTimeout != "" {
			d, err := time.ParseDuration(fc.RequestTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid request_timeout %q: %w", fc.RequestTimeout, err)
			}
			cfg.RequestTimeout = d
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CHATENGINE_ENDPOINT", &c.Endpoint)
	str("CHATENGINE_AUTH_URL", &c.AuthURL)
	str("CHATENGINE_TOKEN", &c.Token)
	str("CHATENGINE_LISTEN_ADDR", &c.ListenAddr)
	str("CHATENGINE_HIGHLIGHT_STYLE", &c.HighlightStyle)

	if v, ok := lookup("CHATENGINE_USER_ID"); ok && v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHATENGINE_USER_ID %q: %w", v, err)
		}
		c.UserID = id
	}
	if v, ok := lookup("CHATENGINE_REQUEST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CHATENGINE_REQUEST_TIMEOUT %q: %w", v, err)
		}
		c.RequestTimeout = d
	}
	if v, ok := lookup("CHATENGINE_HIGHLIGHT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CHATENGINE_HIGHLIGHT %q: %w", v, err)
		}
		c.Highlight = b
	}
	if v, ok := lookup("CHATENGINE_STORE"); ok && v != "" {
		// "sqlite=chat.sqlite,redis=redis://localhost:6379/0" replaces the configured stores.
		c.Stores = nil
		for _, item := range strings.Split(v, ",") {
			kind, conn, _ := strings.Cut(strings.TrimSpace(item), "=")
			t, err := stores.ParseStoreType(kind)
			if err != nil {
				return fmt.Errorf("invalid CHATENGINE_STORE: %w", err)
			}
			c.Stores = append(c.Stores, stores.NewStoreConfig(t, conn))
		}
	}
	return nil
}
