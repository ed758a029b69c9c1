package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matiasleandrokruk/xlmsession/internal/infra/llm"
)

// Provider backend kinds.
const (
	KindEcho   = "echo"
	KindOllama = "ollama"
	KindOpenAI = "openai" // also any OpenAI-compatible API, such as xAI Grok
)

// Gateway configures the development gateway.
type Gateway struct {
	Listen     string `env:"XLM_GATEWAY_LISTEN,default=0.0.0.0:50051" yaml:"listen"`
	Admin      string `env:"XLM_GATEWAY_ADMIN,default=127.0.0.1:8080" yaml:"admin"`
	AuthSecret string `env:"XLM_AUTH_SECRET" yaml:"auth_secret"`

	ProvidersFile string     `env:"XLM_PROVIDERS" yaml:"-"`
	Providers     []Provider `yaml:"providers"`

	// Used only when no providers are configured.
	Ollama Ollama `yaml:"-"`

	Log Log `yaml:",inline"`
}

// Ollama is the single-provider fallback read from the environment.
type Ollama struct {
	BaseURL    string `env:"OLLAMA_BASE_URL"`
	ChatModel  string `env:"OLLAMA_CHAT_MODEL,default=llama3.2:3b"`
	EmbedModel string `env:"OLLAMA_MODEL,default=nomic-embed-text"`
}

// Provider is one entry of the provider catalog.
type Provider struct {
	Name         string          `yaml:"name"`
	Kind         string          `yaml:"kind"`
	ServiceLevel string          `yaml:"service_level"`
	Capabilities map[string]bool `yaml:"capabilities"`

	// echo
	Dimensions int `yaml:"dimensions"`

	// ollama, openai
	BaseURL    string        `yaml:"base_url"`
	ChatModel  string        `yaml:"chat_model"`
	EmbedModel string        `yaml:"embed_model"`
	Timeout    time.Duration `yaml:"timeout"`

	// openai: the key itself, or the environment variable holding it. APIKeyEnv defaults
	// to OPENAI_API_KEY.
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// GatewayFromEnv returns the tag defaults overlaid with the environment, plus the catalog
// from XLM_PROVIDERS when set.
func GatewayFromEnv() (Gateway, error) {
	var g Gateway
	if err := decodeEnv(&g); err != nil {
		return Gateway{}, err
	}
	if g.ProvidersFile != "" {
		if err := g.LoadProviders(g.ProvidersFile); err != nil {
			return Gateway{}, err
		}
	}
	return g, nil
}

// LoadProviders overlays the YAML file at path. Besides the provider list the file may set
// listen, admin and auth_secret.
func (g *Gateway) LoadProviders(path string) error {
	g.ProvidersFile = path
	return loadYAML(path, g)
}

// Catalog returns the configured providers. With none configured it falls back to Ollama
// when OLLAMA_BASE_URL is set, otherwise to a single echo provider.
func (g Gateway) Catalog() []Provider {
	if len(g.Providers) > 0 {
		return g.Providers
	}
	if g.Ollama.BaseURL != "" {
		return []Provider{{
			Name:       KindOllama,
			Kind:       KindOllama,
			BaseURL:    g.Ollama.BaseURL,
			ChatModel:  g.Ollama.ChatModel,
			EmbedModel: g.Ollama.EmbedModel,
		}}
	}
	return []Provider{{Name: KindEcho, Kind: KindEcho}}
}

// Router builds an llm.Router over the catalog.
func (g Gateway) Router() (*llm.Router, error) {
	router := llm.NewRouter()
	seen := make(map[string]bool)
	for i, p := range g.Catalog() {
		provider, err := p.build()
		if err != nil {
			return nil, fmt.Errorf("config: provider %d: %w", i, err)
		}
		key := strings.ToLower(provider.Describe().Name)
		if seen[key] {
			return nil, fmt.Errorf("config: provider %q is configured twice", provider.Describe().Name)
		}
		seen[key] = true
		router.Register(provider)
	}
	return router, nil
}

func (p Provider) build() (llm.Provider, error) {
	name := strings.TrimSpace(p.Name)
	kind := strings.ToLower(strings.TrimSpace(p.Kind))
	if kind == "" {
		kind = KindEcho
	}
	if name == "" {
		name = kind
	}

	switch kind {
	case KindEcho:
		echo := llm.NewEchoProvider(name, p.ServiceLevel, p.Dimensions)
		if p.Capabilities != nil {
			echo = echo.WithCapabilities(p.Capabilities)
		}
		return echo, nil
	case KindOllama:
		if p.BaseURL == "" {
			return nil, fmt.Errorf("%s: base_url is required for ollama", name)
		}
		if p.ChatModel == "" {
			return nil, fmt.Errorf("%s: chat_model is required for ollama", name)
		}
		return llm.NewOllamaProvider(llm.OllamaConfig{
			Name:         name,
			ServiceLevel: p.ServiceLevel,
			BaseURL:      p.BaseURL,
			ChatModel:    p.ChatModel,
			EmbedModel:   p.EmbedModel,
			Timeout:      p.Timeout,
		}), nil
	case KindOpenAI:
		if p.ChatModel == "" {
			return nil, fmt.Errorf("%s: chat_model is required for openai", name)
		}
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			Name:         name,
			ServiceLevel: p.ServiceLevel,
			BaseURL:      p.BaseURL,
			APIKey:       p.apiKey(),
			ChatModel:    p.ChatModel,
			EmbedModel:   p.EmbedModel,
			Timeout:      p.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("%s: unknown kind %q", name, p.Kind)
	}
}

func (p Provider) apiKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	env := p.APIKeyEnv
	if env == "" {
		env = "OPENAI_API_KEY"
	}
	return os.Getenv(env)
}
