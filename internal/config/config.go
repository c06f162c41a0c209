// Package config loads reactorstate settings from YAML. Values are resolved
// in the order defaults, file, environment and are validated last.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"reactorstate/internal/grid"
	"reactorstate/internal/logging"
	"reactorstate/internal/param"
)

var validate = validator.New()

const (
	EnvStoreBackend = "REACTORSTATE_STORE_BACKEND"
	EnvStorePath    = "REACTORSTATE_STORE_PATH"
	EnvLogLevel     = "REACTORSTATE_LOG_LEVEL"
)

type Config struct {
	Store      StoreConfig       `json:"store" yaml:"store"`
	Logging    logging.Config    `json:"logging" yaml:"logging"`
	Parameters []ParameterConfig `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"dive"`
	Blueprint  *Blueprint        `json:"blueprint,omitempty" yaml:"blueprint,omitempty" validate:"omitempty"`
}

type StoreConfig struct {
	Backend    string `json:"backend" yaml:"backend" validate:"required,oneof=memory sqlite badger"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty" validate:"required_unless=Backend memory"`
	SyncWrites bool   `json:"sync_writes,omitempty" yaml:"sync_writes,omitempty"`
}

// ParameterConfig declares a parameter contributed by a solver on top of
// the framework defaults.
type ParameterConfig struct {
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Type        string   `json:"type" yaml:"type" validate:"required,oneof=float int bool string floats"`
	Rule        string   `json:"rule,omitempty" yaml:"rule,omitempty" validate:"omitempty,oneof=none skip sum max mean"`
	Persist     bool     `json:"persist,omitempty" yaml:"persist,omitempty"`
	Default     *float64 `json:"default,omitempty" yaml:"default,omitempty"`
	Units       string   `json:"units,omitempty" yaml:"units,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Definition converts p into a registry definition.
func (p ParameterConfig) Definition() (param.Definition, error) {
	typ, err := param.ParseType(p.Type)
	if err != nil {
		return param.Definition{}, err
	}
	rule, err := param.ParseRule(p.Rule)
	if err != nil {
		return param.Definition{}, err
	}
	def := param.Definition{
		Name:        p.Name,
		Type:        typ,
		Rule:        rule,
		Persist:     p.Persist,
		Units:       p.Units,
		Description: p.Description,
	}
	if p.Default != nil {
		var v param.Value
		switch typ {
		case param.TypeFloat:
			v = param.Float(*p.Default)
		case param.TypeInt:
			v = param.Int(int64(*p.Default))
		default:
			return param.Definition{}, fmt.Errorf("parameter %s: default is only supported for float and int", p.Name)
		}
		def.Default = &v
	}
	return def, nil
}

// Blueprint describes a reactor to build: one core lattice holding
// assemblies by ring and position, each a stack of blocks.
type Blueprint struct {
	Name       string              `json:"name" yaml:"name" validate:"required"`
	Core       CoreBlueprint       `json:"core" yaml:"core"`
	Assemblies []AssemblyBlueprint `json:"assemblies" yaml:"assemblies" validate:"dive"`
}

type CoreBlueprint struct {
	Name string    `json:"name" yaml:"name" validate:"required"`
	Grid grid.Spec `json:"grid" yaml:"grid"`
}

type AssemblyBlueprint struct {
	Name     string             `json:"name" yaml:"name" validate:"required"`
	Ring     int                `json:"ring" yaml:"ring" validate:"min=1"`
	Position int                `json:"position" yaml:"position" validate:"min=1"`
	Params   map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Blocks   []BlockBlueprint   `json:"blocks" yaml:"blocks" validate:"dive"`
}

type BlockBlueprint struct {
	Name       string               `json:"name" yaml:"name" validate:"required"`
	Height     float64              `json:"height" yaml:"height" validate:"gt=0"`
	Material   string               `json:"material,omitempty" yaml:"material,omitempty"`
	Params     map[string]float64   `json:"params,omitempty" yaml:"params,omitempty"`
	Components []ComponentBlueprint `json:"components,omitempty" yaml:"components,omitempty" validate:"dive"`
}

type ComponentBlueprint struct {
	Name       string             `json:"name" yaml:"name" validate:"required"`
	Shape      string             `json:"shape" yaml:"shape" validate:"required"`
	Material   string             `json:"material,omitempty" yaml:"material,omitempty"`
	Dimensions map[string]float64 `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Params     map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

func Default() Config {
	return Config{
		Store:   StoreConfig{Backend: "memory"},
		Logging: logging.Config{Level: "info", Format: logging.FormatText},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// yields the defaults with environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvStoreBackend); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Parameters))
	for _, p := range c.Parameters {
		if seen[p.Name] {
			return fmt.Errorf("parameter %s declared twice", p.Name)
		}
		seen[p.Name] = true
		if _, err := p.Definition(); err != nil {
			return err
		}
	}
	if c.Blueprint != nil {
		return c.Blueprint.validateLayout()
	}
	return nil
}

func (b *Blueprint) validateLayout() error {
	if _, err := grid.New(b.Core.Grid); err != nil {
		return fmt.Errorf("core %s: %w", b.Core.Name, err)
	}
	names := make(map[string]bool)
	slots := make(map[[2]int]string)
	for _, a := range b.Assemblies {
		if names[a.Name] {
			return fmt.Errorf("assembly %s declared twice", a.Name)
		}
		names[a.Name] = true
		slot := [2]int{a.Ring, a.Position}
		if other, ok := slots[slot]; ok {
			return fmt.Errorf("assemblies %s and %s share ring %d position %d", other, a.Name, a.Ring, a.Position)
		}
		slots[slot] = a.Name
		if len(a.Blocks) == 0 {
			return fmt.Errorf("assembly %s has no blocks", a.Name)
		}
	}
	return nil
}
