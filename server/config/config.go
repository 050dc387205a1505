package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/webwriter-app/webwriter-sub004/internal/registry"
)

const (
	defaultNpmRegistry  = "https://registry.npmjs.org"
	defaultNpmMirror    = "https://cdn.jsdelivr.net/npm"
	defaultListingAPI   = "https://data.jsdelivr.com/v1/package/npm"
	defaultFetchTimeout = 60
)

type Config struct {
	Port             uint16           `json:"port,omitempty"`
	WorkDir          string           `json:"workDir,omitempty"`
	LogDir           string           `json:"logDir,omitempty"`
	LogLevel         string           `json:"logLevel,omitempty"`
	AccessLog        bool             `json:"accessLog,omitempty"`
	Origin           string           `json:"origin,omitempty"`
	NpmRegistry      string           `json:"npmRegistry,omitempty"`
	NpmMirror        string           `json:"npmMirror,omitempty"`
	ListingAPI       string           `json:"listingApi,omitempty"`
	Catalog          registry.Catalog `json:"catalog,omitempty"`
	BanList          BanList          `json:"banList,omitempty"`
	Cache            string           `json:"cache,omitempty"`
	CacheTTL         uint32           `json:"cacheTTL,omitempty"`
	Database         string           `json:"database,omitempty"`
	SnippetsDB       string           `json:"snippetsDB,omitempty"`
	FetchTimeout     int              `json:"fetchTimeout,omitempty"`
	BuildTarget      string           `json:"buildTarget,omitempty"`
	CorsAllowOrigins []string         `json:"corsAllowOrigins,omitempty"`
	CompressRaw      json.RawMessage  `json:"compress,omitempty"`
	Compress         bool             `json:"-"`
}

type BanList struct {
	Packages []string   `json:"packages"`
	Scopes   []BanScope `json:"scopes"`
}

type BanScope struct {
	Name     string   `json:"name"`
	Excludes []string `json:"excludes"`
}

// Load loads config from the given file.
func Load(filename string) (*Config, error) {
	var (
		cfg     *Config
		cfgFile *os.File
		err     error
	)

	cfgFile, err = os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("fail to read config file: %w", err)
	}
	defer cfgFile.Close()

	err = json.NewDecoder(cfgFile).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("fail to parse config: %w", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.WorkDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("fail to get current user home directory: %w", err)
		}
		cfg.WorkDir = path.Join(homeDir, ".widgetd")
	} else {
		cfg.WorkDir, err = filepath.Abs(cfg.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("fail to get absolute path of the work directory: %w", err)
		}
	}
	return fixConfig(cfg)
}

func Default() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/home"
	}
	cfg, err := fixConfig(&Config{
		WorkDir: path.Join(homeDir, ".widgetd"),
	})
	if err != nil {
		panic(err)
	}
	return cfg
}

func fixConfig(c *Config) (*Config, error) {
	var err error
	if c.Port == 0 {
		c.Port = 8086
		if v := os.Getenv("WIDGETD_PORT"); v != "" {
			if p, e := strconv.Atoi(v); e == nil && p > 0 && p < 65536 {
				c.Port = uint16(p)
			}
		}
	}
	if v := os.Getenv("WIDGETD_ORIGIN"); v != "" {
		c.Origin = v
	}
	if c.Origin == "" {
		c.Origin = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if c.Origin, err = normalizeURL("origin", c.Origin); err != nil {
		return nil, err
	}
	if v := os.Getenv("NPM_REGISTRY"); v != "" {
		c.NpmRegistry = v
	}
	if c.NpmRegistry == "" {
		c.NpmRegistry = defaultNpmRegistry
	}
	if c.NpmRegistry, err = normalizeURL("npm registry", c.NpmRegistry); err != nil {
		return nil, err
	}
	if v := os.Getenv("NPM_MIRROR"); v != "" {
		c.NpmMirror = v
	}
	if c.NpmMirror == "" {
		c.NpmMirror = defaultNpmMirror
	}
	if c.NpmMirror, err = normalizeURL("npm mirror", c.NpmMirror); err != nil {
		return nil, err
	}
	if c.ListingAPI == "" {
		c.ListingAPI = defaultListingAPI
	} else if c.ListingAPI != "-" {
		if c.ListingAPI, err = normalizeURL("listing api", c.ListingAPI); err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if orig := strings.TrimSpace(p); orig != "" {
				c.CorsAllowOrigins = append(c.CorsAllowOrigins, orig)
			}
		}
	}
	origins := make([]string, 0, len(c.CorsAllowOrigins))
	for _, orig := range c.CorsAllowOrigins {
		if orig == "*" {
			origins = append(origins, orig)
			continue
		}
		u, e := url.Parse(orig)
		if e == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			origins = append(origins, u.Scheme+"://"+u.Host)
		}
	}
	c.CorsAllowOrigins = origins
	if c.Cache == "" {
		c.Cache = "memory:default"
	}
	if c.Database == "" {
		c.Database = path.Join(c.WorkDir, "handles.db")
	}
	if c.SnippetsDB == "" {
		c.SnippetsDB = fmt.Sprintf("postdb:%s", path.Join(c.WorkDir, "snippets.db"))
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.LogDir == "" {
		c.LogDir = path.Join(c.WorkDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv("LOG_LEVEL")
		if c.LogLevel == "" {
			c.LogLevel = "info"
		}
	}
	if !c.AccessLog {
		c.AccessLog = os.Getenv("ACCESS_LOG") == "true"
	}
	c.Compress = !(bytes.Equal(c.CompressRaw, []byte("false")) || os.Getenv("COMPRESS") == "false")
	return c, nil
}

func normalizeURL(name string, v string) (string, error) {
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid %s url: %q", name, v)
	}
	return strings.TrimRight(v, "/"), nil
}

// IsPackageBanned checks if the package is banned.
// The `packages` list is the highest priority ban rule to match,
// so the `excludes` list in the `scopes` list won't take effect if the package is banned in `packages` list
func (banList *BanList) IsPackageBanned(fullName string) bool {
	var (
		scope                   string
		nameWithoutVersionScope string
		fullNameWithoutVersion  string
	)
	paths := strings.Split(fullName, "/")
	if len(paths) < 2 {
		// the package has no scope prefix
		nameWithoutVersionScope = strings.Split(paths[0], "@")[0]
		fullNameWithoutVersion = nameWithoutVersionScope
	} else {
		scope = paths[0]
		nameWithoutVersionScope = strings.Split(paths[1], "@")[0]
		fullNameWithoutVersion = fmt.Sprintf("%s/%s", scope, nameWithoutVersionScope)
	}

	for _, p := range banList.Packages {
		if fullNameWithoutVersion == p {
			return true
		}
	}

	for _, s := range banList.Scopes {
		if scope == s.Name {
			return !isPackageExcluded(nameWithoutVersionScope, s.Excludes)
		}
	}

	return false
}

func isPackageExcluded(name string, excludes []string) bool {
	for _, exclude := range excludes {
		if name == exclude {
			return true
		}
	}
	return false
}
