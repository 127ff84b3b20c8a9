// Package config loads chatbook settings.  Precedence, highest first:
// command line flags, CHATBOOK_* environment variables, the config
// file, built-in defaults.  API keys come from the provider's usual
// environment variable or from a secrets.toml file.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/envi"
)

// Settings is the resolved configuration.
type Settings struct {
	Model         string        `mapstructure:"model"`
	Mode          string        `mapstructure:"mode"`
	MaxChars      int           `mapstructure:"max_chars"`
	Policy        string        `mapstructure:"policy"`
	TrimUtterance bool          `mapstructure:"trim_utterance"`
	SysmsgFile    string        `mapstructure:"sysmsg_file"`
	Store         string        `mapstructure:"store"`
	StorePath     string        `mapstructure:"store_path"`
	Listen        string        `mapstructure:"listen"`
	Timeout       time.Duration `mapstructure:"timeout"`
	BaseURL       string        `mapstructure:"base_url"`
	SecretsFile   string        `mapstructure:"secrets_file"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `mapstructure:"-"`

	secrets map[string]string
}

// KeyVars maps provider names to the environment variable (and
// secrets.toml key) holding their API key.
var KeyVars = map[string][]string{
	"gemini":    {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
}

// Home returns the chatbook config directory.
func Home() string {
	dir := envi.String("CHATBOOK_HOME", "")
	if dir != "" {
		return dir
	}
	cfgdir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(cfgdir, "chatbook")
}

// Load reads settings.  If path is empty, chatbook.{yaml,toml,json}
// is searched for in the current directory and Home(); not finding
// one is fine.  An explicit path must exist.
func Load(path string) (s *Settings, err error) {
	defer Return(&err)
	home := Home()
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(home)
		v.SetConfigName("chatbook")
	}

	v.SetDefault("model", "gemini-2.5-pro")
	v.SetDefault("mode", "prompt")
	v.SetDefault("max_chars", 8000)
	v.SetDefault("policy", "tail")
	v.SetDefault("trim_utterance", false)
	v.SetDefault("sysmsg_file", "")
	v.SetDefault("store", "memory")
	v.SetDefault("store_path", filepath.Join(home, "sessions.db"))
	v.SetDefault("listen", "localhost:8501")
	v.SetDefault("timeout", "5m")
	v.SetDefault("base_url", "")
	v.SetDefault("secrets_file", "")

	v.SetEnvPrefix("CHATBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err = v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		Debug("no config file found, using defaults")
		err = nil
	}
	Ck(err)

	s = &Settings{ConfigFile: v.ConfigFileUsed()}
	err = v.Unmarshal(s)
	Ck(err)

	s.secrets, err = loadSecrets(s.SecretsFile, home)
	Ck(err)
	return
}

// loadSecrets reads a flat toml file of KEY = "value" pairs.  Without
// an explicit path the first of ./secrets.toml,
// ./.streamlit/secrets.toml and <home>/secrets.toml that exists is
// used.
func loadSecrets(path, home string) (secrets map[string]string, err error) {
	defer Return(&err)
	secrets = make(map[string]string)
	if path == "" {
		for _, cand := range []string{
			"secrets.toml",
			filepath.Join(".streamlit", "secrets.toml"),
			filepath.Join(home, "secrets.toml"),
		} {
			if _, serr := os.Stat(cand); serr == nil {
				path = cand
				break
			}
		}
	}
	if path == "" {
		return
	}
	raw := make(map[string]interface{})
	_, err = toml.DecodeFile(path, &raw)
	Ck(err, "reading secrets file %s", path)
	for k, val := range raw {
		switch x := val.(type) {
		case string:
			secrets[k] = x
		case int64:
			secrets[k] = strconv.FormatInt(x, 10)
		}
	}
	Debug("loaded %d secrets from %s", len(secrets), path)
	return
}

// APIKey returns the key for provider, from the environment first and
// then the secrets file.  It returns "" if there is none; the
// provider constructor then reports the missing credential.
func (s *Settings) APIKey(provider string) string {
	for _, name := range KeyVars[provider] {
		if key := envi.String(name, ""); key != "" {
			return key
		}
	}
	for _, name := range KeyVars[provider] {
		if key := s.secrets[name]; key != "" {
			return key
		}
	}
	return ""
}
