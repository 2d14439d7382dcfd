package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/stevecastle/depthmask/compositor"
	"github.com/stevecastle/depthmask/platform"
	"github.com/stevecastle/depthmask/source"
)

// Compositor holds the default calibration and background used when a
// job or preview request does not override them.
type Compositor struct {
	Mode          string  `json:"mode"`
	Slope         float64 `json:"slope"`
	Focus         float64 `json:"focus"`
	Range         float64 `json:"range"`
	MinThreshold  float64 `json:"minThreshold"`
	MaxThreshold  float64 `json:"maxThreshold"`
	ClipLow       float64 `json:"clipLow"`
	ClipHigh      float64 `json:"clipHigh"`
	Feather       float64 `json:"feather"`
	Interpolation string  `json:"interpolation"`

	// BackgroundColor is a hex color used when BackgroundPath is empty.
	BackgroundColor string `json:"backgroundColor"`
	BackgroundPath  string `json:"backgroundPath"`
	JPEGQuality     int    `json:"jpegQuality"`
}

// Params converts the stored defaults into calibration parameters.
func (c Compositor) Params() (compositor.CalibrationParams, error) {
	mode, err := compositor.ParseCalibrationMode(c.Mode)
	if err != nil {
		return compositor.CalibrationParams{}, err
	}
	return compositor.CalibrationParams{
		Mode:          mode,
		Slope:         c.Slope,
		Focus:         c.Focus,
		Range:         c.Range,
		MinThreshold:  c.MinThreshold,
		MaxThreshold:  c.MaxThreshold,
		ClipLow:       c.ClipLow,
		ClipHigh:      c.ClipHigh,
		Feather:       c.Feather,
		Interpolation: c.Interpolation,
	}, nil
}

// Background parses BackgroundColor.
func (c Compositor) Background() (color.Color, error) {
	return compositor.ParseHexColor(c.BackgroundColor)
}

// Validate checks the calibration mode and background color.
func (c Compositor) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.Background(); err != nil {
		return fmt.Errorf("backgroundColor: %w", err)
	}
	return nil
}

// Config holds application configuration: storage paths, the HTTP listener,
// compositor defaults and S3 access.
type Config struct {
	DBPath string `json:"dbPath"`

	// Directory rendered composites are written to
	OutputPath string `json:"outputPath"`

	ListenAddr string `json:"listenAddr"`
	Workers    int    `json:"workers"`

	Compositor Compositor      `json:"compositor"`
	S3         source.S3Config `json:"s3"`

	// JWT Secret for authentication
	JWTSecret string `json:"jwtSecret"`
}

var (
	cfgMu sync.RWMutex
	cfg   = defaultConfig()
)

// DefaultDBPath returns the default database path.
// Uses the platform-specific data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "depthmask.db")
}

// DefaultConfigDir returns the default config directory path.
// Uses the platform-specific data directory.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

func defaultCompositor() Compositor {
	p := compositor.DefaultParams()
	return Compositor{
		Mode:            p.Mode.String(),
		Slope:           p.Slope,
		Focus:           p.Focus,
		Range:           p.Range,
		MinThreshold:    p.MinThreshold,
		MaxThreshold:    p.MaxThreshold,
		ClipLow:         p.ClipLow,
		ClipHigh:        p.ClipHigh,
		Interpolation:   p.Interpolation,
		BackgroundColor: "#0000ff",
		JPEGQuality:     90,
	}
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	return Config{
		DBPath:     DefaultDBPath(),
		OutputPath: platform.GetOutputDir(),
		ListenAddr: "127.0.0.1:8090",
		Workers:    2,
		Compositor: defaultCompositor(),
		JWTSecret:  uuid.New().String(),
	}
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// getConfigPath returns the full path to the config.json file.
func getConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// fillDefaults fills fields that have no valid zero value. It reports
// whether a field that must persist (db path, secret) was filled.
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	needsSave := false

	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.OutputPath == "" {
		c.OutputPath = def.OutputPath
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Compositor == (Compositor{}) {
		c.Compositor = def.Compositor
	}
	if c.Compositor.Slope <= 0 {
		c.Compositor.Slope = def.Compositor.Slope
	}
	if c.Compositor.ClipHigh <= 0 {
		c.Compositor.ClipHigh = def.Compositor.ClipHigh
	}
	if c.Compositor.Interpolation == "" {
		c.Compositor.Interpolation = def.Compositor.Interpolation
	}
	if c.Compositor.BackgroundColor == "" {
		c.Compositor.BackgroundColor = def.Compositor.BackgroundColor
	}
	if c.Compositor.JPEGQuality <= 0 {
		c.Compositor.JPEGQuality = def.Compositor.JPEGQuality
	}
	if c.JWTSecret == "" {
		c.JWTSecret = uuid.New().String()
		needsSave = true
	}
	return needsSave
}

// Load reads the config from disk and updates the in-memory config. It returns the config and path.
// If the config file doesn't exist, it creates one with default values.
func Load() (Config, string, error) {
	path := getConfigPath()

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return Config{}, "", fmt.Errorf("failed to create config directory %s: %v", configDir, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			def := defaultConfig()
			if err := os.MkdirAll(filepath.Dir(def.DBPath), 0755); err != nil {
				return Config{}, "", fmt.Errorf("failed to create database directory: %v", err)
			}
			savedPath, saveErr := Save(def)
			if saveErr != nil {
				return Config{}, path, fmt.Errorf("failed to create default config file: %v", saveErr)
			}
			Set(def)
			return def, savedPath, nil
		}
		return Config{}, path, fmt.Errorf("failed to read config file at %s: %v", path, err)
	}

	// Keys missing from the file keep their compositor defaults.
	c := Config{Compositor: defaultCompositor()}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, path, fmt.Errorf("failed to parse config JSON: %v", err)
	}
	needsSave := fillDefaults(&c)

	dbDir := filepath.Dir(c.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return Config{}, path, fmt.Errorf("failed to create database directory %s: %v", dbDir, err)
	}

	if needsSave {
		if _, saveErr := Save(c); saveErr != nil {
			// Log but don't fail - we can continue with the in-memory config
			fmt.Printf("Warning: failed to save updated config: %v\n", saveErr)
		}
	}

	Set(c)
	return c, path, nil
}

// Save writes the config to disk, keeping keys this version does not know
// about. Returns the path.
func Save(c Config) (string, error) {
	path := getConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %v", err)
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return path, fmt.Errorf("failed to marshal config: %v", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return path, fmt.Errorf("failed to map config JSON: %v", err)
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return path, fmt.Errorf("failed to marshal merged config: %v", err)
	}
	if err := os.WriteFile(path, mergedData, 0644); err != nil {
		return path, fmt.Errorf("failed to write config file: %v", err)
	}
	Set(c)
	return path, nil
}
