// Package config loads restore settings from defaults, an optional YAML file,
// RESTORE_* environment variables and command line flags, in that order of
// precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ErrMissing is returned when a required setting is empty.
var ErrMissing = errors.New("missing required setting")

// envPrefix namespaces every environment variable read by Load.
const envPrefix = "RESTORE_"

type Config struct {
	Archive   ArchiveConfig   `yaml:"archive"`
	Restore   RestoreConfig   `yaml:"restore"`
	Window    WindowConfig    `yaml:"window"`
	Splunk    SplunkConfig    `yaml:"splunk"`
	Integrity IntegrityConfig `yaml:"integrity"`
	Reports   ReportsConfig   `yaml:"reports"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Audit     AuditConfig     `yaml:"audit"`
	DryRun    bool            `yaml:"dry_run"`

	// Set from flags only.
	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// ArchiveConfig locates the frozen buckets.
type ArchiveConfig struct {
	Backend  string `yaml:"backend"` // local | s3 | gcs | url
	Path     string `yaml:"path"`    // frozendb directory for the local backend
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	URL      string `yaml:"url"`
}

// RestoreConfig is where buckets are thawed and which index rebuilds them.
type RestoreConfig struct {
	Path  string `yaml:"path"`
	Index string `yaml:"index"`
}

// WindowConfig holds the requested time range in "YYYY-MM-DD HH:MM:SS".
type WindowConfig struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"` // IANA name, empty means local time
}

// SplunkConfig locates the splunk binary and bounds its commands.
type SplunkConfig struct {
	Home           string        `yaml:"home"`
	Binary         string        `yaml:"binary"`
	Restart        bool          `yaml:"restart"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
	RebuildTimeout time.Duration `yaml:"rebuild_timeout"`
	RestartTimeout time.Duration `yaml:"restart_timeout"`
}

// IntegrityConfig controls the integrity check stage.
type IntegrityConfig struct {
	Enabled     bool `yaml:"enabled"`
	PurgeFailed bool `yaml:"purge_failed"`
}

// ReportsConfig says where run reports are written.
type ReportsConfig struct {
	Dir      string `yaml:"dir"`
	Manifest bool   `yaml:"manifest"`
}

// LoggingConfig selects the log format and level.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`
	Namespace string `yaml:"namespace"`
}

// CatalogConfig points at the optional restore catalog.
type CatalogConfig struct {
	DSN    string `yaml:"dsn"`
	Strict bool   `yaml:"strict"`
}

// AuditConfig enables the hash-chained audit log when Dir is set.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Archive: ArchiveConfig{Backend: "local"},
		Splunk: SplunkConfig{
			CheckTimeout:   30 * time.Minute,
			RebuildTimeout: 2 * time.Hour,
			RestartTimeout: 10 * time.Minute,
		},
		Reports: ReportsConfig{Dir: "logs", Manifest: true},
		Logging: LoggingConfig{Format: "text", Level: "info"},
		Metrics: MetricsConfig{Namespace: "bucket_restorer"},
	}
}

// Load builds the configuration from args (without the program name).
// getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	path := configPath(args, getenv)
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := NewFlagSet(&cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if extra := fs.Args(); len(extra) > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(extra, " "))
	}
	cfg.ConfigFile = path

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// configPath finds --config before the full flag set is built, so flags
// can take their defaults from the file.
func configPath(args []string, getenv func(string) string) string {
	var path string
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsAllowlist.UnknownFlags = true
	fs.SetOutput(nopWriter{})
	fs.Usage = func() {}
	fs.StringVarP(&path, "config", "c", getenv(envPrefix+"CONFIG"), "")
	// Errors surface again in the full parse.
	_ = fs.Parse(args)
	return path
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"ARCHIVE_BACKEND":  &c.Archive.Backend,
		"ARCHIVE_PATH":     &c.Archive.Path,
		"ARCHIVE_BUCKET":   &c.Archive.Bucket,
		"ARCHIVE_PREFIX":   &c.Archive.Prefix,
		"ARCHIVE_ENDPOINT": &c.Archive.Endpoint,
		"ARCHIVE_REGION":   &c.Archive.Region,
		"ARCHIVE_URL":      &c.Archive.URL,
		"PATH":             &c.Restore.Path,
		"INDEX":            &c.Restore.Index,
		"START_DATE":       &c.Window.Start,
		"END_DATE":         &c.Window.End,
		"TIMEZONE":         &c.Window.Timezone,
		"SPLUNK_HOME":      &c.Splunk.Home,
		"SPLUNK_BINARY":    &c.Splunk.Binary,
		"REPORTS_DIR":      &c.Reports.Dir,
		"LOG_FORMAT":       &c.Logging.Format,
		"LOG_LEVEL":        &c.Logging.Level,
		"METRICS_FILE":     &c.Metrics.Textfile,
		"CATALOG_DSN":      &c.Catalog.DSN,
		"AUDIT_DIR":        &c.Audit.Dir,
	}
	for key, dst := range strs {
		if v := getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"CHECK_INTEGRITY": &c.Integrity.Enabled,
		"PURGE_FAILED":    &c.Integrity.PurgeFailed,
		"RESTART_SPLUNK":  &c.Splunk.Restart,
		"WRITE_MANIFEST":  &c.Reports.Manifest,
		"CATALOG_STRICT":  &c.Catalog.Strict,
		"DRY_RUN":         &c.DryRun,
	}
	for key, dst := range bools {
		if v := getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"CHECK_TIMEOUT":   &c.Splunk.CheckTimeout,
		"REBUILD_TIMEOUT": &c.Splunk.RebuildTimeout,
		"RESTART_TIMEOUT": &c.Splunk.RestartTimeout,
	}
	for key, dst := range durations {
		if v := getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}
	return nil
}

// NewFlagSet binds the command line flags to c. The current values of c
// become the flag defaults, so only flags given on the command line
// override earlier sources.
func NewFlagSet(c *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("bucket-restorer", pflag.ContinueOnError)
	fs.SortFlags = false
	// Accept --archive_path as well as --archive-path.
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&c.ConfigFile, "config", "c", c.ConfigFile, "YAML configuration file")

	fs.StringVarP(&c.Archive.Path, "archive-path", "a", c.Archive.Path, "frozen buckets directory (local backend)")
	fs.StringVarP(&c.Restore.Path, "restore-path", "r", c.Restore.Path, "thawed buckets directory")
	fs.StringVarP(&c.Restore.Index, "restore-index", "i", c.Restore.Index, "index the buckets are rebuilt into")
	fs.StringVarP(&c.Window.Start, "start-date", "s", c.Window.Start, `window start, "YYYY-MM-DD HH:MM:SS"`)
	fs.StringVarP(&c.Window.End, "end-date", "e", c.Window.End, `window end, "YYYY-MM-DD HH:MM:SS"`)
	fs.StringVarP(&c.Splunk.Home, "splunk-home", "H", c.Splunk.Home, "Splunk installation directory (replaces the old -sh)")
	fs.BoolVar(&c.Integrity.Enabled, "check-integrity", c.Integrity.Enabled, "verify bucket integrity before rebuilding")
	fs.BoolVar(&c.Splunk.Restart, "restart-splunk", c.Splunk.Restart, "restart Splunk after rebuilding")

	fs.StringVar(&c.Window.Timezone, "timezone", c.Window.Timezone, "IANA time zone of the window dates (default local time)")
	fs.StringVar(&c.Archive.Backend, "archive-backend", c.Archive.Backend, "archive backend: local, s3, gcs or url")
	fs.StringVar(&c.Archive.Bucket, "archive-bucket", c.Archive.Bucket, "object storage bucket (s3, gcs)")
	fs.StringVar(&c.Archive.Prefix, "archive-prefix", c.Archive.Prefix, "key prefix of the frozen buckets (s3, gcs, url)")
	fs.StringVar(&c.Archive.Endpoint, "archive-endpoint", c.Archive.Endpoint, "custom S3 endpoint")
	fs.StringVar(&c.Archive.Region, "archive-region", c.Archive.Region, "S3 region")
	fs.StringVar(&c.Archive.URL, "archive-url", c.Archive.URL, "gocloud bucket URL (url backend)")
	fs.StringVar(&c.Splunk.Binary, "splunk-binary", c.Splunk.Binary, "path of the splunk binary (default <splunk-home>/bin/splunk)")
	fs.DurationVar(&c.Splunk.CheckTimeout, "check-timeout", c.Splunk.CheckTimeout, "timeout of one integrity check (0 disables)")
	fs.DurationVar(&c.Splunk.RebuildTimeout, "rebuild-timeout", c.Splunk.RebuildTimeout, "timeout of one rebuild (0 disables)")
	fs.DurationVar(&c.Splunk.RestartTimeout, "restart-timeout", c.Splunk.RestartTimeout, "timeout of the restart (0 disables)")
	fs.BoolVar(&c.Integrity.PurgeFailed, "purge-failed", c.Integrity.PurgeFailed, "remove buckets that fail the integrity check from the restore path")
	fs.StringVar(&c.Reports.Dir, "reports-dir", c.Reports.Dir, "directory for the run reports")
	fs.BoolVar(&c.Reports.Manifest, "write-manifest", c.Reports.Manifest, "write a JSON run manifest next to the reports")
	fs.StringVar(&c.Logging.Format, "log-format", c.Logging.Format, "log format: text or json")
	fs.StringVar(&c.Logging.Level, "log-level", c.Logging.Level, "log level: debug, info, warn or error")
	fs.StringVar(&c.Metrics.Textfile, "metrics-file", c.Metrics.Textfile, "write Prometheus metrics to this file")
	fs.StringVar(&c.Catalog.DSN, "catalog-dsn", c.Catalog.DSN, "PostgreSQL DSN of the restore catalog")
	fs.BoolVar(&c.Catalog.Strict, "catalog-strict", c.Catalog.Strict, "abort the run when the catalog cannot be written")
	fs.StringVar(&c.Audit.Dir, "audit-dir", c.Audit.Dir, "directory of the hash-chained audit log (disabled when empty)")
	fs.BoolVar(&c.DryRun, "dry-run", c.DryRun, "list the buckets that would be restored and exit")
	fs.BoolVar(&c.ShowVersion, "version", false, "print the version and exit")

	return fs
}

// Validate checks that every required setting is present.
func (c Config) Validate() error {
	var errs []error
	missing := func(name string) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, name))
	}

	switch c.Archive.Backend {
	case "local", "":
		if c.Archive.Path == "" {
			missing("archive path")
		}
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			missing("archive bucket")
		}
	case "url":
		if c.Archive.URL == "" {
			missing("archive url")
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive backend %q", c.Archive.Backend))
	}

	if c.Restore.Path == "" {
		missing("restore path")
	}
	if c.Restore.Index == "" {
		missing("restore index")
	}
	if c.Window.Start == "" {
		missing("start date")
	}
	if c.Window.End == "" {
		missing("end date")
	}
	if c.Splunk.Home == "" && c.Splunk.Binary == "" {
		missing("splunk home or binary")
	}
	if c.Reports.Dir == "" {
		missing("reports dir")
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Location returns the time zone the window dates are interpreted in.
func (c Config) Location() (*time.Location, error) {
	if c.Window.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Window.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Window.Timezone, err)
	}
	return loc, nil
}
