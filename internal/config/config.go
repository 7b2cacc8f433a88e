package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/metrics"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/trvi"
)

// Config holds the full application configuration.
type Config struct {
	Inputs   InputsConfig   `yaml:"inputs" mapstructure:"inputs"`
	Graph    GraphConfig    `yaml:"graph" mapstructure:"graph"`
	TRVI     TRVIConfig     `yaml:"trvi" mapstructure:"trvi"`
	Spatial  SpatialConfig  `yaml:"spatial" mapstructure:"spatial"`
	Moran    MoranConfig    `yaml:"moran" mapstructure:"moran"`
	GWR      GWRConfig      `yaml:"gwr" mapstructure:"gwr"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// InputsConfig locates the pipeline inputs and their key columns.
type InputsConfig struct {
	Boundaries    string `yaml:"boundaries" mapstructure:"boundaries"`
	GEOIDField    string `yaml:"geoid_field" mapstructure:"geoid_field"`
	NameField     string `yaml:"name_field" mapstructure:"name_field"`
	Nodes         string `yaml:"nodes" mapstructure:"nodes"`
	Edges         string `yaml:"edges" mapstructure:"edges"`
	MHI           string `yaml:"mhi" mapstructure:"mhi"`
	MHISheet      string `yaml:"mhi_sheet" mapstructure:"mhi_sheet"`
	MHIColumn     string `yaml:"mhi_column" mapstructure:"mhi_column"`
	MHIYearColumn string `yaml:"mhi_year_column" mapstructure:"mhi_year_column"`
	MHIYear       int    `yaml:"mhi_year" mapstructure:"mhi_year"`
	LST           string `yaml:"lst" mapstructure:"lst"`
	LSTSheet      string `yaml:"lst_sheet" mapstructure:"lst_sheet"`
	LSTColumn     string `yaml:"lst_column" mapstructure:"lst_column"`
	GEOIDColumn   string `yaml:"geoid_column" mapstructure:"geoid_column"`
}

// GraphConfig configures indicator extraction.
type GraphConfig struct {
	Permeability     string `yaml:"permeability" mapstructure:"permeability"`
	Coordinates      string `yaml:"coordinates" mapstructure:"coordinates"`
	LargestComponent bool   `yaml:"largest_component" mapstructure:"largest_component"`
	MinNodes         int    `yaml:"min_nodes" mapstructure:"min_nodes"`
}

// TRVIConfig selects the vulnerability combination rule.
type TRVIConfig struct {
	Rule string `yaml:"rule" mapstructure:"rule"`
}

// SpatialConfig configures the adjacency model.
type SpatialConfig struct {
	Adjacency   string `yaml:"adjacency" mapstructure:"adjacency"`
	K           int    `yaml:"k" mapstructure:"k"`
	Coordinates string `yaml:"coordinates" mapstructure:"coordinates"`
}

// MoranConfig configures the permutation test.
type MoranConfig struct {
	Permutations int     `yaml:"permutations" mapstructure:"permutations"`
	Alpha        float64 `yaml:"alpha" mapstructure:"alpha"`
	Seed         uint64  `yaml:"seed" mapstructure:"seed"`
}

// GWRConfig configures the geographically weighted regression.
type GWRConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	Kernel       string   `yaml:"kernel" mapstructure:"kernel"`
	Adaptive     bool     `yaml:"adaptive" mapstructure:"adaptive"`
	Bandwidth    float64  `yaml:"bandwidth" mapstructure:"bandwidth"`
	Standardize  bool     `yaml:"standardize" mapstructure:"standardize"`
	Variables    []string `yaml:"variables" mapstructure:"variables"`
	MaxCondition float64  `yaml:"max_condition" mapstructure:"max_condition"`
}

// PipelineConfig configures worker pools.
type PipelineConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// OutputConfig configures report files.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
	TopN   int    `yaml:"top_n" mapstructure:"top_n"`
}

// StoreConfig configures the run store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	CacheEntries   int           `yaml:"cache_entries" mapstructure:"cache_entries"`
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("UTRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("inputs.geoid_field", "GEOID")
	v.SetDefault("inputs.name_field", "NAMELSAD")
	v.SetDefault("inputs.geoid_column", "GEOID")
	v.SetDefault("inputs.mhi_column", "Median_Household_Income")
	v.SetDefault("inputs.mhi_year_column", "Year")
	v.SetDefault("inputs.mhi_year", 0)
	v.SetDefault("inputs.lst_column", "LST_C_mean")
	v.SetDefault("graph.permeability", string(metrics.PermeabilityLength))
	v.SetDefault("graph.coordinates", string(spatial.Geographic))
	v.SetDefault("graph.largest_component", true)
	v.SetDefault("graph.min_nodes", 3)
	v.SetDefault("trvi.rule", string(trvi.RuleProduct))
	v.SetDefault("spatial.adjacency", string(spatial.Queen))
	v.SetDefault("spatial.k", 6)
	v.SetDefault("spatial.coordinates", string(spatial.Geographic))
	v.SetDefault("moran.permutations", 999)
	v.SetDefault("moran.alpha", 0.05)
	v.SetDefault("moran.seed", 20240601)
	v.SetDefault("gwr.enabled", true)
	v.SetDefault("gwr.kernel", string(gwr.Bisquare))
	v.SetDefault("gwr.adaptive", true)
	v.SetDefault("gwr.bandwidth", 0)
	v.SetDefault("gwr.standardize", true)
	v.SetDefault("gwr.variables", indicatorNames())
	v.SetDefault("gwr.max_condition", 1e10)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.format", "json")
	v.SetDefault("output.top_n", 5)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "utri.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.cache_entries", 64)
	v.SetDefault("server.cache_ttl", "10m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func indicatorNames() []string {
	out := make([]string, len(model.Indicators))
	for i, ind := range model.Indicators {
		out[i] = string(ind)
	}
	return out
}

// Validate checks the settings a command needs before any computation
// starts. Every problem is reported at once as a Configuration error.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch mode {
	case "run", "extract", "weights", "moran":
	case "serve", "runs":
	default:
		return failure.New(failure.Configuration, "config: unknown mode %q", mode)
	}

	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 256 {
		add("pipeline.workers must be between 1 and 256")
	}

	switch mode {
	case "run", "extract":
		if c.Inputs.Boundaries == "" {
			add("inputs.boundaries is required")
		}
		if c.Inputs.Nodes == "" || c.Inputs.Edges == "" {
			add("inputs.nodes and inputs.edges are required")
		}
		if _, err := metrics.ParsePermeabilityMode(c.Graph.Permeability); err != nil {
			add("graph.permeability: %v", err)
		}
		if _, err := spatial.ParseCoordinates(c.Graph.Coordinates); err != nil {
			add("graph.coordinates: %v", err)
		}
		if c.Graph.MinNodes < 2 {
			add("graph.min_nodes must be >= 2")
		}
	}

	if mode == "run" {
		if c.Inputs.MHI == "" {
			add("inputs.mhi is required")
		}
		if _, err := trvi.ParseRule(c.TRVI.Rule); err != nil {
			add("trvi.rule: %v", err)
		}
		c.validateSpatial(add)
		if c.GWR.Enabled {
			if c.Inputs.LST == "" {
				add("inputs.lst is required when gwr.enabled is set")
			}
			c.validateGWR(add)
		}
	}

	if mode == "moran" {
		if c.Inputs.Boundaries == "" {
			add("inputs.boundaries is required")
		}
		c.validateSpatial(add)
	}

	if mode == "run" || mode == "extract" || mode == "weights" || mode == "moran" {
		switch c.Output.Format {
		case "", "json", "yaml", "both":
		default:
			add("output.format must be json, yaml or both")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.CacheEntries < 0 {
			add("server.cache_entries must be >= 0")
		}
	}
	if mode == "serve" || mode == "runs" || mode == "run" {
		switch c.Store.Driver {
		case "sqlite", "postgres", "none":
		default:
			add("store.driver must be sqlite, postgres or none")
		}
		if c.Store.Driver != "none" && c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	}

	if len(errs) > 0 {
		return failure.New(failure.Configuration, "config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateSpatial(add func(string, ...any)) {
	policy, err := spatial.ParsePolicy(c.Spatial.Adjacency)
	if err != nil {
		add("spatial.adjacency: %v", err)
	}
	if policy == spatial.KNN && c.Spatial.K < 1 {
		add("spatial.k must be >= 1 for knn adjacency")
	}
	if _, err := spatial.ParseCoordinates(c.Spatial.Coordinates); err != nil {
		add("spatial.coordinates: %v", err)
	}
	if c.Moran.Permutations <= 0 {
		add("moran.permutations must be > 0")
	}
	if c.Moran.Alpha <= 0 || c.Moran.Alpha >= 1 {
		add("moran.alpha must be in (0, 1)")
	}
}

func (c *Config) validateGWR(add func(string, ...any)) {
	if _, err := gwr.ParseKernel(c.GWR.Kernel); err != nil {
		add("gwr.kernel: %v", err)
	}
	if c.GWR.Bandwidth < 0 {
		add("gwr.bandwidth must be >= 0 (0 searches)")
	}
	if c.GWR.MaxCondition <= 1 {
		add("gwr.max_condition must be > 1")
	}
	if len(c.GWR.Variables) == 0 {
		add("gwr.variables must name at least one explanatory variable")
	}
	for _, name := range c.GWR.Variables {
		if _, ok := model.ParseIndicator(name); !ok && name != "utri" {
			add("gwr.variables: unknown variable %q", name)
		}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
