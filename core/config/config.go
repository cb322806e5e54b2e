package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"
)

//go:embed default/config.yaml
var defaultConfigData []byte

const (
	ConfigurationName = "config.yaml"
	DirName           = ".ushell"
)

// Color modes.
const (
	ColorAlways = "always"
	ColorAuto   = "auto"
	ColorNever  = "never"
)

type Configuration struct {
	configFs afero.Fs

	Prompt       string            `json:"prompt" validate:"required"`
	Color        string            `json:"color" validate:"oneof=always auto never"`
	HistoryFile  string            `json:"history_file"`
	HistoryLimit int               `json:"history_limit" validate:"gte=0"`
	EventLog     string            `json:"event_log"`
	Aliases      map[string]string `json:"aliases" validate:"dive,keys,required,endkeys,required"`
	Environment  map[string]string `json:"environment" validate:"dive,keys,required,excludes==,endkeys"`
	Startup      []string          `json:"startup" validate:"dive,required"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		return name
	})

	return validate.Struct(c)
}

func (c *Configuration) fs() afero.Fs {
	return c.configFs
}

// resolve makes relative paths in the configuration relative to the
// configuration directory. Relative paths can't resolve when the directory
// isn't on disk and come back empty.
func (c *Configuration) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	if base, ok := c.configFs.(*afero.BasePathFs); ok {
		if path, err := base.RealPath(name); err == nil {
			return path
		}
	}
	return ""
}

// HistoryPath is the on-disk location of the history file, empty when
// history isn't persisted.
func (c *Configuration) HistoryPath() string {
	return c.resolve(c.HistoryFile)
}

// OpenEventLog opens the event log in an append only state. It returns nil
// when event logging is disabled.
func (c *Configuration) OpenEventLog() (afero.File, error) {
	if c.EventLog == "" {
		return nil, nil
	}
	return c.fs().OpenFile(c.EventLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
}

// ReadEventLog opens the event log for reading.
func (c *Configuration) ReadEventLog() (afero.File, error) {
	return c.fs().OpenFile(c.EventLog, os.O_RDONLY, 0600)
}

func defaultConfig() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}

// Default returns the built in configuration backed by an in-memory
// directory.
func Default() *Configuration {
	out := defaultConfig()
	out.configFs = afero.NewMemMapFs()
	return out
}
