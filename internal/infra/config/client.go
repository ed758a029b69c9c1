package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/gateway"
)

// Client configures one xlmsession run.
type Client struct {
	Host string `env:"XLM_HOST,default=localhost" yaml:"host"`
	Port int    `env:"XLM_PORT,default=50051" yaml:"port"`

	Provider      string   `env:"XLM_PROVIDER" yaml:"provider"`
	Model         string   `env:"XLM_MODEL" yaml:"model"`
	Prompt        string   `env:"XLM_PROMPT" yaml:"prompt"`
	ClientName    string   `env:"XLM_CLIENT_NAME,default=go-client-1" yaml:"client_name"`
	EmbeddingText string   `env:"XLM_EMBEDDING_TEXT,default=Mickey Mouse is a Disney cartoon character." yaml:"embedding_text"`
	Capabilities  []string `env:"XLM_CAPABILITIES,default=chat;embedding" yaml:"capabilities"`

	TLS        bool   `env:"XLM_TLS,default=false" yaml:"tls"`
	CAFile     string `env:"XLM_CA_FILE" yaml:"ca_file"`
	ServerName string `env:"XLM_SERVER_NAME" yaml:"server_name"`
	AuthSecret string `env:"XLM_AUTH_SECRET" yaml:"auth_secret"`

	CallTimeout     time.Duration `env:"XLM_CALL_TIMEOUT,default=30s" yaml:"call_timeout"`
	StreamTimeout   time.Duration `env:"XLM_STREAM_TIMEOUT,default=2m" yaml:"stream_timeout"`
	TeardownTimeout time.Duration `env:"XLM_TEARDOWN_TIMEOUT,default=5s" yaml:"teardown_timeout"`

	HistoryPath string `env:"XLM_HISTORY" yaml:"history"`
	Profile     string `env:"XLM_PROFILE" yaml:"-"`

	Log Log `yaml:",inline"`
}

// ClientFromEnv returns the tag defaults overlaid with XLM_* environment variables.
func ClientFromEnv() (Client, error) {
	var c Client
	if err := decodeEnv(&c); err != nil {
		return Client{}, err
	}
	c.normalize()
	return c, nil
}

// LoadProfile overlays the YAML profile at path.
func (c *Client) LoadProfile(path string) error {
	if err := loadYAML(path, c); err != nil {
		return err
	}
	c.normalize()
	return nil
}

// normalize accepts comma separated capability lists from any source.
func (c *Client) normalize() {
	var caps []string
	for _, item := range c.Capabilities {
		caps = append(caps, splitList(item)...)
	}
	c.Capabilities = caps
}

// Validate reports every missing or malformed input at once. The error wraps
// session.ErrConfiguration.
func (c Client) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Provider) == "" {
		problems = append(problems, "provider is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		problems = append(problems, "model is required")
	}
	if strings.TrimSpace(c.Prompt) == "" {
		problems = append(problems, "prompt is required")
	}
	if strings.TrimSpace(c.Host) == "" {
		problems = append(problems, "host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d is out of range", c.Port))
	}
	if strings.TrimSpace(c.ClientName) == "" {
		problems = append(problems, "client name is required")
	}
	if c.CAFile != "" && !c.TLS {
		problems = append(problems, "ca file given without tls")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", session.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Address is host:port.
func (c Client) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DialConfig maps the connection settings onto the gateway binding.
func (c Client) DialConfig() gateway.DialConfig {
	return gateway.DialConfig{
		Address:    c.Address(),
		TLS:        c.TLS,
		CAFile:     c.CAFile,
		ServerName: c.ServerName,
		AuthSecret: c.AuthSecret,
		ClientName: c.ClientName,
	}
}

// Input is the session input this configuration describes.
func (c Client) Input() session.Input {
	return session.Input{
		ClientName:    c.ClientName,
		Provider:      c.Provider,
		Model:         c.Model,
		Prompt:        c.Prompt,
		EmbeddingText: c.EmbeddingText,
		Capabilities:  append([]string(nil), c.Capabilities...),
	}
}

// ClientFlags binds the client options to a flag set. Only flags given on the command line
// override the environment and the profile.
type ClientFlags struct {
	fs           *pflag.FlagSet
	values       Client
	capabilities string
}

// NewClientFlags registers the client flags on fs. Flag defaults show the values the
// environment currently resolves to.
func NewClientFlags(fs *pflag.FlagSet) *ClientFlags {
	d, _ := ClientFromEnv()
	f := &ClientFlags{fs: fs}
	v := &f.values

	fs.StringVar(&v.Host, "host", d.Host, "gateway host")
	fs.IntVar(&v.Port, "port", d.Port, "gateway port")
	fs.StringVarP(&v.Provider, "provider", "p", d.Provider, "provider to negotiate with")
	fs.StringVarP(&v.Model, "model", "m", d.Model, "model name passed to the provider")
	fs.StringVar(&v.Prompt, "prompt", d.Prompt, "prompt for the sync and streaming completions")
	fs.StringVar(&v.ClientName, "client-name", d.ClientName, "client name sent at registration")
	fs.StringVar(&v.EmbeddingText, "embedding-text", d.EmbeddingText, "text to embed when the provider supports it")
	fs.StringVar(&f.capabilities, "capabilities", strings.Join(d.Capabilities, ","), "comma separated capabilities to request")
	fs.BoolVar(&v.TLS, "tls", d.TLS, "use TLS for the gateway connection")
	fs.StringVar(&v.CAFile, "ca-file", d.CAFile, "PEM CA bundle used to verify the gateway")
	fs.StringVar(&v.ServerName, "server-name", d.ServerName, "override the TLS server name")
	fs.StringVar(&v.AuthSecret, "auth-secret", d.AuthSecret, "HMAC secret for bearer tokens")
	fs.DurationVar(&v.CallTimeout, "call-timeout", d.CallTimeout, "bound on each unary call (0 disables)")
	fs.DurationVar(&v.StreamTimeout, "stream-timeout", d.StreamTimeout, "bound on the whole token stream (0 disables)")
	fs.DurationVar(&v.TeardownTimeout, "teardown-timeout", d.TeardownTimeout, "bound on unregistration (0 disables)")
	fs.StringVar(&v.HistoryPath, "history", d.HistoryPath, "sqlite file recording finished sessions")
	fs.StringVar(&v.Profile, "profile", d.Profile, "YAML profile overlaid on the environment")
	fs.StringVar(&v.Log.Level, "log-level", d.Log.Level, "debug, info, warn or error")
	fs.StringVar(&v.Log.Format, "log-format", d.Log.Format, "text or json")
	return f
}

// Load resolves the configuration after fs has been parsed.
func (f *ClientFlags) Load() (Client, error) {
	c, err := ClientFromEnv()
	if err != nil {
		return Client{}, err
	}

	if f.fs.Changed("profile") {
		c.Profile = f.values.Profile
	}
	if c.Profile != "" {
		if err := c.LoadProfile(c.Profile); err != nil {
			return Client{}, err
		}
	}

	f.fs.Visit(func(fl *pflag.Flag) { f.apply(&c, fl.Name) })
	return c, nil
}

func (f *ClientFlags) apply(c *Client, name string) {
	v := f.values
	switch name {
	case "host":
		c.Host = v.Host
	case "port":
		c.Port = v.Port
	case "provider":
		c.Provider = v.Provider
	case "model":
		c.Model = v.Model
	case "prompt":
		c.Prompt = v.Prompt
	case "client-name":
		c.ClientName = v.ClientName
	case "embedding-text":
		c.EmbeddingText = v.EmbeddingText
	case "capabilities":
		c.Capabilities = splitList(f.capabilities)
	case "tls":
		c.TLS = v.TLS
	case "ca-file":
		c.CAFile = v.CAFile
	case "server-name":
		c.ServerName = v.ServerName
	case "auth-secret":
		c.AuthSecret = v.AuthSecret
	case "call-timeout":
		c.CallTimeout = v.CallTimeout
	case "stream-timeout":
		c.StreamTimeout = v.StreamTimeout
	case "teardown-timeout":
		c.TeardownTimeout = v.TeardownTimeout
	case "history":
		c.HistoryPath = v.HistoryPath
	case "log-level":
		c.Log.Level = v.Log.Level
	case "log-format":
		c.Log.Format = v.Log.Format
	}
}
