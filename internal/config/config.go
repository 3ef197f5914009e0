// Package config owns the persisted settings file, the generated API-key
// secret, and the environment overrides layered on top of both.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	appDirName   = "puppeteer-command-server"
	settingsName = "settings.json"
	secretName   = ".secret"

	defaultPort = 3000
)

// Settings is the JSON shape of settings.json.
type Settings struct {
	ChromePath string       `json:"chromePath,omitempty"`
	Port       int          `json:"port"`
	Auth       AuthSettings `json:"auth"`
}

type AuthSettings struct {
	APIKey APIKeySettings `json:"apiKey"`
	JWT    JWTSettings    `json:"jwt"`
}

type APIKeySettings struct {
	// Enabled defaults to true when absent from the file.
	Enabled *bool `json:"enabled,omitempty"`
}

type JWTSettings struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Proxy    bool   `json:"proxy,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	Audience string `json:"audience,omitempty"`
	JwksURL  string `json:"jwksUrl,omitempty"`
}

func (s Settings) APIKeyEnabled() bool {
	if s.Auth.APIKey.Enabled == nil {
		return true
	}
	return *s.Auth.APIKey.Enabled
}

func (s Settings) JWTEnabled() bool {
	return s.Auth.JWT.Enabled
}

// Runtime holds operation timeouts sourced from the environment, not the
// settings file.
type Runtime struct {
	ActionTimeout   time.Duration
	NavigateTimeout time.Duration
	WaitTimeout     time.Duration
	LaunchTimeout   time.Duration
	ShutdownTimeout time.Duration
}

// Store is the loaded configuration: settings.json merged with env
// overrides, plus the API-key secret from the sibling .secret file.
type Store struct {
	dir     string
	runtime Runtime

	mu       sync.Mutex
	settings Settings
	secret   string
}

// Open resolves the config directory, loads (or defaults) settings.json,
// applies environment overrides, and loads or generates the API-key secret.
func Open() (*Store, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}

	st := &Store{
		dir:      dir,
		settings: readSettings(filepath.Join(dir, settingsName)),
		runtime: Runtime{
			ActionTimeout:   time.Duration(envIntOr("PCS_ACTION_TIMEOUT_SEC", 15)) * time.Second,
			NavigateTimeout: time.Duration(envIntOr("PCS_NAVIGATE_TIMEOUT_SEC", 30)) * time.Second,
			WaitTimeout:     30 * time.Second,
			LaunchTimeout:   time.Duration(envIntOr("PCS_LAUNCH_TIMEOUT_SEC", 20)) * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}

	if p := envIntOr("PCS_PORT", 0); p > 0 {
		st.settings.Port = p
	}
	if cp := os.Getenv("PCS_CHROME_PATH"); cp != "" {
		st.settings.ChromePath = cp
	}

	secret, err := loadOrCreateSecret(filepath.Join(dir, secretName))
	if err != nil {
		return nil, fmt.Errorf("api key secret: %w", err)
	}
	st.secret = secret

	return st, nil
}

// resolveDir returns the first writable settings directory: the
// app subfolder under the working directory, then the home directory,
// then the temp directory. PCS_CONFIG_DIR pins it explicitly.
func resolveDir() (string, error) {
	if d := os.Getenv("PCS_CONFIG_DIR"); d != "" {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", fmt.Errorf("config dir %s: %w", d, err)
		}
		return d, nil
	}

	var parents []string
	if wd, err := os.Getwd(); err == nil {
		parents = append(parents, wd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		parents = append(parents, home)
	}
	parents = append(parents, os.TempDir())

	for _, parent := range parents {
		dir := filepath.Join(parent, appDirName)
		if dirWritable(dir) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no writable directory found for %s", appDirName)
}

func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return true
}

func readSettings(path string) Settings {
	s := defaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if err := json.Unmarshal(data, &s); err != nil {
		slog.Warn("settings file is not valid JSON, using defaults", "path", path, "err", err)
		return defaultSettings()
	}
	if s.Port <= 0 {
		s.Port = defaultPort
	}
	return s
}

func defaultSettings() Settings {
	return Settings{Port: defaultPort}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (st *Store) Dir() string { return st.dir }

func (st *Store) SettingsPath() string { return filepath.Join(st.dir, settingsName) }

func (st *Store) Runtime() Runtime { return st.runtime }

// Settings returns a copy of the current settings.
func (st *Store) Settings() Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.settings
}

// Secret returns the API-key shared secret.
func (st *Store) Secret() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.secret
}

// SetChromePath updates the Chrome executable path and persists the
// settings file. An empty path clears the override.
func (st *Store) SetChromePath(path string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.settings.ChromePath = path
	return st.saveLocked()
}

func (st *Store) saveLocked() error {
	data, err := json.MarshalIndent(st.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(st.SettingsPath(), data, 0644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// ListenAddr returns the bind address for the HTTP server. PCS_BIND
// restricts the interface; the default binds all.
func (st *Store) ListenAddr() string {
	return fmt.Sprintf("%s:%d", envOr("PCS_BIND", ""), st.Settings().Port)
}

// HandleConfigCommand implements the `pcs config` subcommand.
func HandleConfigCommand(st *Store) {
	if len(os.Args) < 3 {
		fmt.Println("Usage: pcs config <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create default settings file")
		fmt.Println("  show    - Show current configuration")
		return
	}

	switch os.Args[2] {
	case "init":
		path := st.SettingsPath()

		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Settings file already exists at %s\n", path)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			_, _ = fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return
			}
		}

		st.mu.Lock()
		st.settings = defaultSettings()
		err := st.saveLocked()
		st.mu.Unlock()
		if err != nil {
			fmt.Printf("Error writing settings: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Settings file created at %s\n", path)
		fmt.Println("\nExample with JWT auth:")
		fmt.Println(`{
  "port": 3000,
  "auth": {
    "apiKey": {"enabled": true},
    "jwt": {
      "enabled": true,
      "issuer": "https://issuer.example.com",
      "audience": "my-client",
      "jwksUrl": "https://issuer.example.com/.well-known/jwks.json"
    }
  }
}`)

	case "show":
		s := st.Settings()
		fmt.Println("Current configuration:")
		fmt.Printf("  Settings:    %s\n", st.SettingsPath())
		fmt.Printf("  Port:        %d\n", s.Port)
		fmt.Printf("  Chrome Path: %s\n", orNone(s.ChromePath))
		fmt.Printf("  API Key:     enabled=%v secret=%s\n", s.APIKeyEnabled(), MaskSecret(st.Secret()))
		fmt.Printf("  JWT:         enabled=%v proxy=%v\n", s.JWTEnabled(), s.Auth.JWT.Proxy)
		if s.JWTEnabled() {
			fmt.Printf("  JWT Issuer:  %s\n", orNone(s.Auth.JWT.Issuer))
			fmt.Printf("  JWT Aud:     %s\n", orNone(s.Auth.JWT.Audience))
			fmt.Printf("  JWKS URL:    %s\n", orNone(s.Auth.JWT.JwksURL))
		}

	default:
		fmt.Printf("Unknown command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func MaskSecret(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
