package configuration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults is the per-installation defaults file. Empty fields leave the
// environment value in place.
type Defaults struct {
	User             string `json:"user" yaml:"user" toml:"user"`
	Password         string `json:"password" yaml:"password" toml:"password"`
	BaseName         string `json:"baseName" yaml:"baseName" toml:"baseName"`
	DirSep           string `json:"dirSep" yaml:"dirSep" toml:"dirSep"`
	LogFilename      string `json:"logFilename" yaml:"logFilename" toml:"logFilename"`
	OutDirectory     string `json:"outDirectory" yaml:"outDirectory" toml:"outDirectory"`
	TimeStr          string `json:"timeStr" yaml:"timeStr" toml:"timeStr"`
	XmodURL          string `json:"xmodURL" yaml:"xmodURL" toml:"xmodURL"`
	Verbosity        *int   `json:"verbosity" yaml:"verbosity" toml:"verbosity"`
	Instance         string `json:"instance" yaml:"instance" toml:"instance"`
	DefaultShiftName string `json:"defaultShiftName" yaml:"defaultShiftName" toml:"defaultShiftName"`
}

// ReadDefaults decodes a defaults file by extension: .toml, .yaml/.yml, or JSON.
func ReadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Category: CategoryDefaults, Field: path, Err: err}
	}

	d := &Defaults{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err = toml.Decode(string(data), d)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, d)
	default:
		err = json.Unmarshal(data, d)
	}
	if err != nil {
		return nil, &Error{Category: CategoryDefaults, Field: path, Err: errors.Wrap(err, "decode defaults")}
	}
	return d, nil
}

func (d *Defaults) Apply(c *Configuration) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.User, d.User)
	set(&c.Password, d.Password)
	set(&c.BaseName, d.BaseName)
	set(&c.DirSep, d.DirSep)
	set(&c.LogFilename, d.LogFilename)
	set(&c.OutDirectory, d.OutDirectory)
	set(&c.TimeStr, d.TimeStr)
	set(&c.XmodURL, d.XmodURL)
	set(&c.Instance, d.Instance)
	set(&c.DefaultShiftName, d.DefaultShiftName)
	if d.Verbosity != nil {
		c.Verbosity = *d.Verbosity
	}
}
