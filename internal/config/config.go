package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultPath is the config file read when no explicit path is given.
const DefaultPath = "networth-sync.toml"

const dateFormat = "2006-01-02"

// Tags policies for the transaction sheet.
const (
	TagsOverwrite = "overwrite"
	TagsPreserve  = "preserve"
)

// Config holds every option the sync pipeline needs. It is built once at
// startup and passed into each component; nothing below cmd/ reads the
// process environment.
type Config struct {
	SpreadsheetID string             `toml:"spreadsheet_id"`
	Summary       SummaryConfig      `toml:"summary"`
	Transactions  TransactionsConfig `toml:"transactions"`
	Window        WindowConfig       `toml:"window"`
	Aggregator    AggregatorConfig   `toml:"aggregator"`
	Session       SessionConfig      `toml:"session"`
	Google        GoogleConfig       `toml:"google"`
	Archive       ArchiveConfig      `toml:"archive"`

	RunTimeout time.Duration `toml:"run_timeout"`
	LogLevel   string        `toml:"log_level"`
}

// SummaryConfig locates the monthly summary table (columns A:C).
type SummaryConfig struct {
	Sheet    string `toml:"sheet"`
	FirstRow int    `toml:"first_row"`
}

// TransactionsConfig locates the transaction table (columns A:I).
type TransactionsConfig struct {
	Sheet      string `toml:"sheet"`
	StartRow   int    `toml:"start_row"`
	TagsPolicy string `toml:"tags_policy"`
}

// WindowConfig describes the transaction fetch window. StartDate, when set,
// pins the window start; otherwise the window spans Days days ending
// EndOffsetDays before today.
type WindowConfig struct {
	Days          int    `toml:"days"`
	StartDate     string `toml:"start_date"`
	EndOffsetDays int    `toml:"end_offset_days"`
	PageSize      int    `toml:"page_size"`
}

// AggregatorConfig holds Personal Capital settings. The password is only
// ever taken from the environment.
type AggregatorConfig struct {
	BaseURL           string        `toml:"base_url"`
	Email             string        `toml:"email"`
	Password          string        `toml:"-"`
	RequestTimeout    time.Duration `toml:"request_timeout"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
}

// SessionConfig selects where the aggregator session is persisted: a local
// path or a gs://bucket/object URI.
type SessionConfig struct {
	Location string `toml:"location"`
}

// GoogleConfig holds the Sheets OAuth client secret and token cache paths.
type GoogleConfig struct {
	CredentialsFile string `toml:"credentials_file"`
	TokenFile       string `toml:"token_file"`
}

// ArchiveConfig enables the BigQuery archive when both fields are set.
type ArchiveConfig struct {
	ProjectID string `toml:"project_id"`
	Dataset   string `toml:"dataset"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Summary: SummaryConfig{
			Sheet:    "wall_chart",
			FirstRow: 1,
		},
		Transactions: TransactionsConfig{
			Sheet:      "transactions",
			StartRow:   2,
			TagsPolicy: TagsPreserve,
		},
		Window: WindowConfig{
			Days:          90,
			EndOffsetDays: 1,
			PageSize:      500,
		},
		Aggregator: AggregatorConfig{
			BaseURL:           "https://home.personalcapital.com",
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 2,
		},
		Session: SessionConfig{
			Location: "session.json",
		},
		Google: GoogleConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
		RunTimeout: 5 * time.Minute,
		LogLevel:   "info",
	}
}

// Load builds a Config from defaults, the TOML file at path, a .env file in
// the working directory and finally the process environment. A missing
// config file is not an error unless the path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	str("SPREADSHEET_ID", &cfg.SpreadsheetID)
	str("SUMMARY_SHEET", &cfg.Summary.Sheet)
	num("SUMMARY_FIRST_ROW", &cfg.Summary.FirstRow)
	str("TRANSACTIONS_SHEET", &cfg.Transactions.Sheet)
	num("TRANSACTIONS_START_ROW", &cfg.Transactions.StartRow)
	str("TAGS_POLICY", &cfg.Transactions.TagsPolicy)
	num("WINDOW_DAYS", &cfg.Window.Days)
	str("WINDOW_START_DATE", &cfg.Window.StartDate)
	num("WINDOW_END_OFFSET_DAYS", &cfg.Window.EndOffsetDays)
	num("PAGE_SIZE", &cfg.Window.PageSize)
	str("AGGREGATOR_BASE_URL", &cfg.Aggregator.BaseURL)
	str("PEW_EMAIL", &cfg.Aggregator.Email)
	str("PEW_PASSWORD", &cfg.Aggregator.Password)
	dur("REQUEST_TIMEOUT", &cfg.Aggregator.RequestTimeout)
	str("SESSION_LOCATION", &cfg.Session.Location)
	str("GOOGLE_CREDENTIALS_FILE", &cfg.Google.CredentialsFile)
	str("GOOGLE_TOKEN_FILE", &cfg.Google.TokenFile)
	str("ARCHIVE_PROJECT", &cfg.Archive.ProjectID)
	str("ARCHIVE_DATASET", &cfg.Archive.Dataset)
	dur("RUN_TIMEOUT", &cfg.RunTimeout)
	str("LOG_LEVEL", &cfg.LogLevel)

	return errors.Join(errs...)
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs []error

	if c.Summary.Sheet == "" {
		errs = append(errs, errors.New("summary.sheet is required"))
	}
	if c.Summary.FirstRow < 1 {
		errs = append(errs, fmt.Errorf("summary.first_row must be >= 1, got %d", c.Summary.FirstRow))
	}
	if c.Transactions.Sheet == "" {
		errs = append(errs, errors.New("transactions.sheet is required"))
	}
	if c.Transactions.StartRow < 1 {
		errs = append(errs, fmt.Errorf("transactions.start_row must be >= 1, got %d", c.Transactions.StartRow))
	}
	switch c.Transactions.TagsPolicy {
	case TagsOverwrite, TagsPreserve:
	default:
		errs = append(errs, fmt.Errorf("transactions.tags_policy must be %q or %q, got %q", TagsOverwrite, TagsPreserve, c.Transactions.TagsPolicy))
	}
	if c.Window.PageSize < 1 {
		errs = append(errs, fmt.Errorf("window.page_size must be >= 1, got %d", c.Window.PageSize))
	}
	if c.Window.EndOffsetDays < 0 {
		errs = append(errs, fmt.Errorf("window.end_offset_days must be >= 0, got %d", c.Window.EndOffsetDays))
	}
	if c.Window.StartDate != "" {
		if _, err := time.Parse(dateFormat, c.Window.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("window.start_date %q: expected YYYY-MM-DD", c.Window.StartDate))
		}
	} else if c.Window.Days < 1 {
		errs = append(errs, fmt.Errorf("window.days must be >= 1, got %d", c.Window.Days))
	}
	if c.Aggregator.BaseURL == "" {
		errs = append(errs, errors.New("aggregator.base_url is required"))
	}
	if c.Aggregator.RequestTimeout <= 0 {
		errs = append(errs, errors.New("aggregator.request_timeout must be positive"))
	}
	if c.Session.Location == "" {
		errs = append(errs, errors.New("session.location is required"))
	}
	if (c.Archive.ProjectID == "") != (c.Archive.Dataset == "") {
		errs = append(errs, errors.New("archive.project_id and archive.dataset must be set together"))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, errors.New("run_timeout must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateSync checks the options only the spreadsheet sync needs on top of
// Validate.
func (c Config) ValidateSync() error {
	err := c.Validate()
	if c.SpreadsheetID == "" {
		err = errors.Join(err, errors.New("spreadsheet_id is required (set SPREADSHEET_ID)"))
	}
	return err
}

// FetchWindow returns the [start, end] transaction window relative to now.
func (c Config) FetchWindow(now time.Time) (start, end time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	end = day.AddDate(0, 0, -c.Window.EndOffsetDays)
	if c.Window.StartDate != "" {
		if s, err := time.ParseInLocation(dateFormat, c.Window.StartDate, now.Location()); err == nil {
			return s, end
		}
	}
	return end.AddDate(0, 0, -c.Window.Days), end
}

// ArchiveEnabled reports whether the BigQuery archive is configured.
func (c Config) ArchiveEnabled() bool {
	return c.Archive.ProjectID != "" && c.Archive.Dataset != ""
}
