// Package config loads the adapter configuration from YAML and the
// environment and turns it into connection settings and entity metadata.
package config

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/spf13/viper"

	"github.com/isometry/ldap-crud/internal/crud"
	"github.com/isometry/ldap-crud/internal/ldap"
	"github.com/isometry/ldap-crud/internal/metadata"
)

// EnvPrefix prefixes environment overrides, e.g. LDAPCRUD_LDAP_PASSWORD.
const EnvPrefix = "LDAPCRUD"

// Searched in order when no file is named explicitly.
var configPaths = []string{".", "./config", "/etc/ldap-crud"}

// Scalar keys that may be set from the environment.
var envKeys = []string{
	"request_timeout",
	"server.listen",
	"server.mode",
	"ldap.urls",
	"ldap.domain",
	"ldap.timeout",
	"ldap.bind_dn",
	"ldap.password",
	"ldap.kerberos_realm",
	"ldap.kerberos_keytab",
	"ldap.kerberos_config",
	"ldap.kerberos_spn",
	"ldap.start_tls",
	"ldap.tls_ca_cert_file",
	"ldap.skip_tls_verify",
	"ldap.max_connections",
	"ldap.max_idle_time",
	"ldap.health_check",
	"ldap.max_retries",
	"ldap.initial_backoff",
	"ldap.max_backoff",
	"ldap.backoff_factor",
}

// Config is the complete adapter configuration.
type Config struct {
	// RequestTimeout bounds requests that carry no timeout of their own.
	RequestTimeout time.Duration `mapstructure:"request_timeout" default:"30s"`

	Server ServerConfig `mapstructure:"server"`
	LDAP   LDAPConfig   `mapstructure:"ldap"`

	// Placeholders supplies ${key} values in metadata datastore settings.
	// Keys are case-insensitive and stored lowercase.
	Placeholders map[string]string `mapstructure:"placeholders"`

	Entities []EntityConfig `mapstructure:"entities"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen" default:":8080"`
	Mode   string `mapstructure:"mode" default:"release"`
}

// LDAPConfig configures the directory connection pool.
type LDAPConfig struct {
	URLs []string `mapstructure:"urls"`
	// Domain is resolved through DNS SRV records when URLs is empty.
	Domain  string        `mapstructure:"domain"`
	Timeout time.Duration `mapstructure:"timeout" default:"30s"`

	BindDN         string `mapstructure:"bind_dn"`
	Password       string `mapstructure:"password"`
	KerberosRealm  string `mapstructure:"kerberos_realm"`
	KerberosKeytab string `mapstructure:"kerberos_keytab"`
	KerberosConfig string `mapstructure:"kerberos_config"`
	KerberosSPN    string `mapstructure:"kerberos_spn"`

	StartTLS      bool   `mapstructure:"start_tls"`
	TLSCACertFile string `mapstructure:"tls_ca_cert_file"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify"`

	MaxConnections int           `mapstructure:"max_connections" default:"10"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time" default:"5m"`
	HealthCheck    time.Duration `mapstructure:"health_check" default:"30s"`

	MaxRetries     int           `mapstructure:"max_retries" default:"3"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" default:"500ms"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" default:"30s"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" default:"2.0"`
}

// EntityConfig binds one metadata file to its datastore settings. Non-empty
// settings override the metadata document.
type EntityConfig struct {
	Name          string             `mapstructure:"name"`
	MetadataFile  string             `mapstructure:"metadata_file"`
	BaseDN        string             `mapstructure:"basedn"`
	UIDField      string             `mapstructure:"uid_field"`
	ObjectClasses []string           `mapstructure:"object_classes"`
	Attributes    []AttributeMapping `mapstructure:"attributes"`
}

// AttributeMapping stores a field under an attribute of a different name.
type AttributeMapping struct {
	Field     string `mapstructure:"field"`
	Attribute string `mapstructure:"attribute"`
}

// Load reads the configuration from path, or from ldap-crud.yaml in the
// search paths when path is empty, then applies environment overrides.
func Load(ctx context.Context, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ldap-crud")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
		tflog.Warn(ctx, "No configuration file found, using environment only", map[string]any{
			"search_paths": configPaths,
		})
	} else {
		tflog.Info(ctx, "Configuration loaded", map[string]any{
			"file": v.ConfigFileUsed(),
		})
	}

	return decode(v)
}

// Parse reads YAML configuration from data. Environment overrides apply.
func Parse(data string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var merr *multierror.Error

	if len(c.LDAP.URLs) == 0 && c.LDAP.Domain == "" {
		merr = multierror.Append(merr, errors.New("ldap.urls: at least one URL or ldap.domain is required"))
	}
	for _, u := range c.LDAP.URLs {
		if _, err := ldap.ParseLDAPURL(u); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("ldap.urls: %s: %w", u, err))
		}
	}
	if c.LDAP.BindDN != "" && c.LDAP.Password == "" && c.LDAP.KerberosRealm == "" {
		merr = multierror.Append(merr, errors.New("ldap.password: required with ldap.bind_dn"))
	}
	if c.LDAP.KerberosRealm != "" && c.LDAP.KerberosKeytab == "" && c.LDAP.Password == "" {
		merr = multierror.Append(merr, errors.New("ldap.kerberos_realm: requires ldap.kerberos_keytab or ldap.password"))
	}
	if c.LDAP.BackoffFactor <= 1.0 {
		merr = multierror.Append(merr, errors.New("ldap.backoff_factor: must be greater than 1.0"))
	}
	if c.RequestTimeout < 0 {
		merr = multierror.Append(merr, errors.New("request_timeout: must not be negative"))
	}

	if len(c.Entities) == 0 {
		merr = multierror.Append(merr, errors.New("entities: at least one entity is required"))
	}
	var seen []string
	for i, e := range c.Entities {
		if e.Name == "" {
			merr = multierror.Append(merr, fmt.Errorf("entities[%d].name: required", i))
		} else if slices.Contains(seen, e.Name) {
			merr = multierror.Append(merr, fmt.Errorf("entities[%d].name: %s declared twice", i, e.Name))
		}
		seen = append(seen, e.Name)

		if e.MetadataFile == "" {
			merr = multierror.Append(merr, fmt.Errorf("entities[%d].metadata_file: required", i))
		}
		for j, m := range e.Attributes {
			if m.Field == "" || m.Attribute == "" {
				merr = multierror.Append(merr, fmt.Errorf("entities[%d].attributes[%d]: field and attribute are required", i, j))
			}
		}
	}

	return merr.ErrorOrNil()
}

// Discoverer resolves a DNS domain to LDAP URLs.
type Discoverer interface {
	DiscoverURLs(ctx context.Context, domain string) ([]string, error)
}

// DiscoverServers fills ldap.urls from DNS when only ldap.domain is set.
func (c *Config) DiscoverServers(ctx context.Context, d Discoverer) error {
	if len(c.LDAP.URLs) > 0 || c.LDAP.Domain == "" {
		return nil
	}

	urls, err := d.DiscoverURLs(ctx, c.LDAP.Domain)
	if err != nil {
		return fmt.Errorf("discovering servers for %s: %w", c.LDAP.Domain, err)
	}

	tflog.Info(ctx, "Discovered LDAP servers", map[string]any{
		"domain": c.LDAP.Domain,
		"urls":   urls,
	})
	c.LDAP.URLs = urls
	return nil
}

// ConnectionConfig returns the pool settings.
func (c *Config) ConnectionConfig() *ldap.ConnectionConfig {
	config := ldap.DefaultConfig()

	config.LDAPURLs = slices.Clone(c.LDAP.URLs)
	config.Timeout = c.LDAP.Timeout

	config.BindDN = c.LDAP.BindDN
	config.Password = c.LDAP.Password
	config.KerberosRealm = c.LDAP.KerberosRealm
	config.KerberosKeytab = c.LDAP.KerberosKeytab
	config.KerberosConfig = c.LDAP.KerberosConfig
	config.KerberosSPN = c.LDAP.KerberosSPN

	config.StartTLS = c.LDAP.StartTLS
	config.TLSCACertFile = c.LDAP.TLSCACertFile
	if c.LDAP.SkipTLSVerify {
		if config.TLSConfig == nil {
			config.TLSConfig = &tls.Config{}
		}
		config.TLSConfig.InsecureSkipVerify = true
	}

	config.MaxConnections = c.LDAP.MaxConnections
	config.MaxIdleTime = c.LDAP.MaxIdleTime
	config.HealthCheck = c.LDAP.HealthCheck

	config.MaxRetries = c.LDAP.MaxRetries
	config.InitialBackoff = c.LDAP.InitialBackoff
	config.MaxBackoff = c.LDAP.MaxBackoff
	config.BackoffFactor = c.LDAP.BackoffFactor

	return config
}

// ControllerOptions returns the controller settings.
func (c *Config) ControllerOptions() crud.Options {
	opts := crud.Options{
		AttributeMappings: make(map[string]map[string]string),
		DefaultTimeout:    c.RequestTimeout,
	}
	for _, e := range c.Entities {
		if len(e.Attributes) == 0 {
			continue
		}
		mapping := make(map[string]string, len(e.Attributes))
		for _, m := range e.Attributes {
			mapping[m.Field] = m.Attribute
		}
		opts.AttributeMappings[e.Name] = mapping
	}
	return opts
}

// LoadRegistry parses the metadata file of every entity and registers it
// with its configured datastore settings. Relative metadata paths are
// resolved against dir.
func (c *Config) LoadRegistry(ctx context.Context, dir string) (*metadata.Registry, error) {
	registry := metadata.NewRegistry()

	var merr *multierror.Error
	for _, e := range c.Entities {
		if err := c.loadEntity(registry, dir, e); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("entity %s: %w", e.Name, err))
			continue
		}
		tflog.Debug(ctx, "Entity registered", map[string]any{
			"entity":        e.Name,
			"metadata_file": e.MetadataFile,
		})
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	return registry, nil
}

func (c *Config) loadEntity(registry *metadata.Registry, dir string, e EntityConfig) error {
	path := e.MetadataFile
	if dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	md, err := metadata.Parse(data, c.Placeholders)
	if err != nil {
		return err
	}
	if md.Name != e.Name {
		return fmt.Errorf("%w: %s declares entity %q", metadata.ErrInvalidMetadata, e.MetadataFile, md.Name)
	}

	return registry.Register(md.WithDatastore(metadata.Datastore{
		BaseDN:        e.BaseDN,
		UniqueAttr:    e.UIDField,
		ObjectClasses: e.ObjectClasses,
	}))
}
