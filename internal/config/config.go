// Package config loads runtime settings for every entry point.
//
// Values come from defaults, an optional config file and the environment,
// in increasing precedence. Environment names are the keys upper-cased with
// dots replaced by underscores, so page.size is read from PAGE_SIZE.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Lllllllleong/reportbatchflow/internal/errors"
	"github.com/Lllllllleong/reportbatchflow/internal/generate"
	"github.com/Lllllllleong/reportbatchflow/internal/pipeline"
)

// FileEnv names the environment variable holding a config file path.
const FileEnv = "CONFIG_FILE"

// DefaultArchiveName is the file name offered for download and used in the output bucket.
const DefaultArchiveName = "patient_reports.zip"

// Config is the full runtime configuration.
type Config struct {
	WorkDir          string        `mapstructure:"work_dir"`
	TemplateDir      string        `mapstructure:"template_dir"`
	TemplateName     string        `mapstructure:"template_name"`
	Engine           string        `mapstructure:"engine"`
	WkhtmltopdfPath  string        `mapstructure:"wkhtmltopdf_path"`
	ChromeBin        string        `mapstructure:"chrome_bin"`
	ChromeControlURL string        `mapstructure:"chrome_control_url"`
	EngineTimeout    time.Duration `mapstructure:"engine_timeout"`
	Concurrency      int           `mapstructure:"concurrency"`
	Page             PageConfig    `mapstructure:"page"`
	ValidateOutput   bool          `mapstructure:"validate_output"`
	CombinedPDF      bool          `mapstructure:"combined_pdf"`
	ArchiveName      string        `mapstructure:"archive_name"`

	// HTTP upload surface.
	AllowedOrigin  string `mapstructure:"allowed_origin"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`

	// Bucket-triggered batches.
	ProjectID           string `mapstructure:"project_id"`
	OutputBucket        string `mapstructure:"output_bucket"`
	FirestoreCollection string `mapstructure:"firestore_collection"`
	WorkflowID          string `mapstructure:"workflow_id"`
	WorkflowLocation    string `mapstructure:"workflow_location"`
}

// PageConfig is the page geometry passed to the document engine. Margins are in inches.
type PageConfig struct {
	Size            string  `mapstructure:"size"`
	Landscape       bool    `mapstructure:"landscape"`
	MarginTop       float64 `mapstructure:"margin_top"`
	MarginRight     float64 `mapstructure:"margin_right"`
	MarginBottom    float64 `mapstructure:"margin_bottom"`
	MarginLeft      float64 `mapstructure:"margin_left"`
	LocalFileAccess bool    `mapstructure:"local_file_access"`
}

// SetDefaults configures default values for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("work_dir", filepath.Join(os.TempDir(), "reportbatch"))
	v.SetDefault("template_dir", "")
	v.SetDefault("template_name", "patient_report")
	v.SetDefault("engine", generate.EngineWkhtmltopdf)
	v.SetDefault("wkhtmltopdf_path", "wkhtmltopdf")
	v.SetDefault("chrome_bin", "")
	v.SetDefault("chrome_control_url", "")
	v.SetDefault("engine_timeout", generate.DefaultTimeout)
	v.SetDefault("concurrency", 1)

	page := generate.DefaultPageOptions()
	v.SetDefault("page.size", page.PageSize)
	v.SetDefault("page.landscape", page.Landscape)
	v.SetDefault("page.margin_top", page.MarginTop)
	v.SetDefault("page.margin_right", page.MarginRight)
	v.SetDefault("page.margin_bottom", page.MarginBottom)
	v.SetDefault("page.margin_left", page.MarginLeft)
	v.SetDefault("page.local_file_access", false)

	v.SetDefault("validate_output", false)
	v.SetDefault("combined_pdf", false)
	v.SetDefault("archive_name", DefaultArchiveName)

	v.SetDefault("allowed_origin", "*")
	v.SetDefault("max_upload_bytes", 32<<20) // 32 MiB

	v.SetDefault("project_id", "")
	v.SetDefault("output_bucket", "")
	v.SetDefault("firestore_collection", "report_batches")
	v.SetDefault("workflow_id", "")
	v.SetDefault("workflow_location", "us-central1")
}

// NewViper returns a viper instance with defaults and environment binding.
// When configFile is empty, the CONFIG_FILE environment variable is consulted.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile == "" {
		configFile = os.Getenv(FileEnv)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}
	return v, nil
}

// Load builds and validates a Config.
func Load(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper builds and validates a Config from an existing viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.Newf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.EngineTimeout <= 0 {
		return errors.Newf("engine_timeout must be positive, got %s", c.EngineTimeout)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.Newf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.WorkDir == "" {
		return errors.New("work_dir must be set")
	}
	if strings.ContainsAny(c.ArchiveName, `/\`) || c.ArchiveName == "" {
		return errors.Newf("archive_name %q must be a plain file name", c.ArchiveName)
	}
	switch strings.ToLower(c.Engine) {
	case generate.EngineWkhtmltopdf, generate.EngineChrome:
	default:
		return errors.WithHintf(errors.Newf("unknown engine %q", c.Engine),
			"use %q or %q", generate.EngineWkhtmltopdf, generate.EngineChrome)
	}
	if err := c.PageOptions().Validate(); err != nil {
		return errors.Wrap(err, "invalid page settings")
	}
	return nil
}

// PageOptions converts the page section for the document engine.
func (c *Config) PageOptions() generate.PageOptions {
	return generate.PageOptions{
		PageSize:        c.Page.Size,
		Landscape:       c.Page.Landscape,
		MarginTop:       c.Page.MarginTop,
		MarginRight:     c.Page.MarginRight,
		MarginBottom:    c.Page.MarginBottom,
		MarginLeft:      c.Page.MarginLeft,
		LocalFileAccess: c.Page.LocalFileAccess,
	}
}

// EngineConfig selects the document engine.
func (c *Config) EngineConfig() generate.EngineConfig {
	return generate.EngineConfig{
		Name:             c.Engine,
		WkhtmltopdfPath:  c.WkhtmltopdfPath,
		ChromeBin:        c.ChromeBin,
		ChromeControlURL: c.ChromeControlURL,
		LocalFileAccess:  c.Page.LocalFileAccess,
	}
}

// GeneratorOptions configures the generator wrapped around the engine.
func (c *Config) GeneratorOptions() generate.Options {
	return generate.Options{
		Page:     c.PageOptions(),
		Timeout:  c.EngineTimeout,
		Validate: c.ValidateOutput,
	}
}

// PipelineSettings configures the batch pipeline.
func (c *Config) PipelineSettings() pipeline.Settings {
	return pipeline.Settings{
		WorkDir:     c.WorkDir,
		Concurrency: c.Concurrency,
		CombinedPDF: c.CombinedPDF,
	}
}
