// Package config carries HttpServerConfig (spec.md §6): every
// recognized listen/limit/timeout/TLS/error-document option, loadable
// from a TOML file (github.com/BurntSushi/toml, the format aofei/air
// loads its own server config from) or built programmatically via
// functional options.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/coreware/httpd/srvlog"
)

// Defaults named directly in spec.md §6.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 80
	DefaultMaxRequestSize    = 16 << 10 // 16 KiB
	DefaultMaxMultipartSize  = 1 << 20  // 1 MiB
	DefaultMaxPendingConns   = 128
	DefaultErrorDocCacheTime = 0
)

// Config is the complete recognized configuration surface from
// spec.md §6. The zero value is not usable directly: Host/Port are
// empty and a zero MaxRequestSize rejects every request with 431. Use
// New, which fills in the documented defaults (every timeout disabled).
type Config struct {
	Host string
	Port int

	MaxConnections        int
	MaxPendingConnections int

	MaxRequestSize   int64
	MaxMultipartSize int64

	RequestTimeout   time.Duration
	KeepAliveTimeout time.Duration
	ResponseTimeout  time.Duration

	DefaultContentType string
	DefaultCharset     string

	Verbosity srvlog.Verbosity

	SSLKeyPath      string
	SSLCertPath     string
	SSLKeyPassPhrase string

	// ErrorDocumentMap maps a status code to the path of an HTML
	// template containing ${message}, ${statusCode}, ${statusStr}.
	ErrorDocumentMap      map[int]string
	ErrorDocumentCacheTime time.Duration
}

// New returns a Config with every spec.md §6 default filled in.
func New(opts ...Option) *Config {
	c := &Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		MaxPendingConnections: DefaultMaxPendingConns,
		MaxRequestSize:        DefaultMaxRequestSize,
		MaxMultipartSize:      DefaultMaxMultipartSize,
		DefaultContentType:    "text/plain",
		DefaultCharset:        "UTF-8",
		ErrorDocumentMap:      map[int]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option mutates a Config built via New.
type Option func(*Config)

func WithAddr(host string, port int) Option {
	return func(c *Config) { c.Host, c.Port = host, port }
}

func WithMaxConnections(n int) Option {
	return func(c *Config) { c.MaxConnections = n }
}

func WithTimeouts(request, keepAlive, response time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout, c.KeepAliveTimeout, c.ResponseTimeout = request, keepAlive, response
	}
}

func WithTLS(certPath, keyPath, passPhrase string) Option {
	return func(c *Config) {
		c.SSLCertPath, c.SSLKeyPath, c.SSLKeyPassPhrase = certPath, keyPath, passPhrase
	}
}

func WithVerbosity(v srvlog.Verbosity) Option {
	return func(c *Config) { c.Verbosity = v }
}

func WithErrorDocument(status int, path string) Option {
	return func(c *Config) {
		if c.ErrorDocumentMap == nil {
			c.ErrorDocumentMap = map[int]string{}
		}
		c.ErrorDocumentMap[status] = path
	}
}

// fileConfig is the TOML-decodable shape; durations are plain seconds
// per spec.md §9's resolved ambiguity (seconds for all three timeouts).
type fileConfig struct {
	Host                  string         `toml:"host"`
	Port                  int            `toml:"port"`
	MaxConnections        int            `toml:"max_connections"`
	MaxPendingConnections int            `toml:"max_pending_connections"`
	MaxRequestSize        int64          `toml:"max_request_size"`
	MaxMultipartSize      int64          `toml:"max_multipart_size"`
	RequestTimeoutSeconds  int64         `toml:"request_timeout_seconds"`
	KeepAliveTimeoutSeconds int64        `toml:"keep_alive_timeout_seconds"`
	ResponseTimeoutSeconds int64         `toml:"response_timeout_seconds"`
	DefaultContentType    string         `toml:"default_content_type"`
	DefaultCharset        string         `toml:"default_charset"`
	Verbosity             int            `toml:"verbosity"`
	SSLKeyPath            string         `toml:"ssl_key_path"`
	SSLCertPath           string         `toml:"ssl_cert_path"`
	SSLKeyPassPhrase      string         `toml:"ssl_key_pass_phrase"`
	ErrorDocumentMap      map[string]string `toml:"error_document_map"`
	ErrorDocumentCacheTimeSeconds int64  `toml:"error_document_cache_time_seconds"`
}

// LoadFile decodes a TOML configuration file into a Config, applying
// spec.md §6 defaults for anything the file leaves at its zero value.
func LoadFile(path string) (*Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, errors.Wrapf(err, "config: decoding %s", path)
	}

	c := New()
	if fc.Host != "" {
		c.Host = fc.Host
	}
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	c.MaxConnections = fc.MaxConnections
	if fc.MaxPendingConnections != 0 {
		c.MaxPendingConnections = fc.MaxPendingConnections
	}
	if fc.MaxRequestSize != 0 {
		c.MaxRequestSize = fc.MaxRequestSize
	}
	if fc.MaxMultipartSize != 0 {
		c.MaxMultipartSize = fc.MaxMultipartSize
	}
	c.RequestTimeout = time.Duration(fc.RequestTimeoutSeconds) * time.Second
	c.KeepAliveTimeout = time.Duration(fc.KeepAliveTimeoutSeconds) * time.Second
	c.ResponseTimeout = time.Duration(fc.ResponseTimeoutSeconds) * time.Second
	if fc.DefaultContentType != "" {
		c.DefaultContentType = fc.DefaultContentType
	}
	if fc.DefaultCharset != "" {
		c.DefaultCharset = fc.DefaultCharset
	}
	c.Verbosity = srvlog.Verbosity(fc.Verbosity)
	c.SSLKeyPath = fc.SSLKeyPath
	c.SSLCertPath = fc.SSLCertPath
	c.SSLKeyPassPhrase = fc.SSLKeyPassPhrase
	c.ErrorDocumentCacheTime = time.Duration(fc.ErrorDocumentCacheTimeSeconds) * time.Second
	for k, v := range fc.ErrorDocumentMap {
		code, err := parseStatusKey(k)
		if err != nil {
			return nil, errors.Wrapf(err, "config: error_document_map key %q", k)
		}
		c.ErrorDocumentMap[code] = v
	}
	return c, nil
}

func parseStatusKey(k string) (int, error) {
	var code int
	_, err := fmt.Sscanf(k, "%d", &code)
	return code, err
}
