/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/senseyeio/duration"
	"gopkg.in/yaml.v2"

	"github.com/NearNodeFlash/nnf-diag/pkg/link"
	"github.com/NearNodeFlash/nnf-diag/pkg/sdb"
)

// EnvConfigPath names a configuration file when none is given explicitly.
const EnvConfigPath = "NNF_DIAG_CONFIG"

//go:embed config.yaml
var configFile []byte

// Duration accepts either a Go duration ("250ms") or an ISO-8601 duration
// ("PT5S").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	v, err := ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(v)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	if strings.HasPrefix(s, "P") {
		iso, err := duration.ParseISO8601(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", s, err)
		}

		ref := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
		return iso.Shift(ref).Sub(ref), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	return d, nil
}

type LinkConfig struct {
	Device          string
	Baud            int
	ReadTimeout     Duration `yaml:"readTimeout"`
	WaitStrategy    string   `yaml:"waitStrategy"`
	WaitTimeout     Duration `yaml:"waitTimeout"`
	WaitCycles      int      `yaml:"waitCycles"`
	ProbeAddress    uint32   `yaml:"probeAddress"`
	IdentityAddress uint32   `yaml:"identityAddress"`
	DiscoveryMode   string   `yaml:"discoveryMode"`
}

type SupportedDevice struct {
	ID   uint32
	Name string
}

// TraceConfig locates the trace buffer in device memory. The word at
// LengthAddress holds the length of the buffer starting at BaseAddress.
type TraceConfig struct {
	OutputDir     string `yaml:"outputDir"`
	LengthAddress uint32 `yaml:"lengthAddress"`
	BaseAddress   uint32 `yaml:"baseAddress"`
	MaxLength     int    `yaml:"maxLength"`
}

type InventoryConfig struct {
	// Path of the inventory database. Empty keeps the inventory in memory.
	Path string
}

type ServerConfig struct {
	Address         string
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string `yaml:"allowedOrigins,flow"`
}

// ConfigFile is the top-level structure
type ConfigFile struct {
	Version  string
	Metadata struct {
		Name string
	}
	Link             LinkConfig
	SupportedDevices []SupportedDevice `yaml:"supportedDevices"`
	Trace            TraceConfig
	Inventory        InventoryConfig
	Server           ServerConfig
}

// Default returns the built-in configuration.
func Default() (*ConfigFile, error) {
	config := new(ConfigFile)
	if err := yaml.Unmarshal(configFile, config); err != nil {
		return nil, fmt.Errorf("default configuration: %w", err)
	}
	return config, nil
}

// Load returns the built-in configuration overlaid with the file at path, or
// with the file named by NNF_DIAG_CONFIG when path is empty.
func Load(path string) (*ConfigFile, error) {
	config, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		if err := yaml.UnmarshalStrict(data, config); err != nil {
			return nil, fmt.Errorf("configuration '%s': %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *ConfigFile) Validate() error {
	if c.Link.Baud <= 0 {
		return fmt.Errorf("link: invalid baud rate %d", c.Link.Baud)
	}

	if _, err := c.WaitStrategy(); err != nil {
		return fmt.Errorf("link: %w", err)
	}

	if _, err := link.ParseDiscoveryMode(c.Link.DiscoveryMode); err != nil {
		return fmt.Errorf("link: %w", err)
	}

	if c.Trace.MaxLength < 0 {
		return fmt.Errorf("trace: invalid maximum length %d", c.Trace.MaxLength)
	}

	return nil
}

func (c *ConfigFile) SerialConfig() sdb.SerialConfig {
	return sdb.SerialConfig{
		Baud:        c.Link.Baud,
		ReadTimeout: c.Link.ReadTimeout.Duration(),
	}
}

func (c *ConfigFile) WaitStrategy() (sdb.WaitStrategy, error) {
	return sdb.NewWaitStrategy(c.Link.WaitStrategy, c.Link.WaitTimeout.Duration(), c.Link.WaitCycles)
}

func (c *ConfigFile) DiscoveryMode() link.DiscoveryMode {
	mode, _ := link.ParseDiscoveryMode(c.Link.DiscoveryMode)
	return mode
}

func (c *ConfigFile) Supported() []link.SupportedDevice {
	devices := make([]link.SupportedDevice, len(c.SupportedDevices))
	for i, d := range c.SupportedDevices {
		devices[i] = link.SupportedDevice{ID: d.ID, Name: d.Name}
	}
	return devices
}
