package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/voicedesk/voicedesk/internal/admission"
	"github.com/voicedesk/voicedesk/internal/agent"
	"github.com/voicedesk/voicedesk/internal/discovery"
	"github.com/voicedesk/voicedesk/internal/pairing"
	"github.com/voicedesk/voicedesk/internal/session"
	"github.com/voicedesk/voicedesk/internal/transport"
)

// CaptureConfig holds the microphone and voice-activity knobs.
type CaptureConfig struct {
	// VADThreshold is the normalized RMS level above which a window counts
	// as speech.
	VADThreshold float64 `yaml:"vad_threshold"`
	// HangoverWindows is how many consecutive quiet windows end a speech
	// run once it started.
	HangoverWindows int `yaml:"hangover_windows"`
}

// DefaultCaptureConfig returns the standard capture settings.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		VADThreshold:    0.1,
		HangoverWindows: 10,
	}
}

// Client aggregates everything the handheld binary needs.
type Client struct {
	// HostURL skips discovery when set, e.g. "wss://192.168.1.20:8090/ws".
	HostURL string `yaml:"host_url"`
	// CredentialsFile is where the pairing result (token, certificates,
	// host fingerprint) is persisted between runs.
	CredentialsFile string `yaml:"credentials_file"`
	// DeviceLabel is the human-readable name shown host-side.
	DeviceLabel string `yaml:"device_label"`

	Capture   CaptureConfig    `yaml:"capture"`
	Discovery discovery.Config `yaml:"discovery"`
	Session   session.Config   `yaml:"session"`
	Transport transport.Config `yaml:"transport"`
}

// DefaultClient returns the standard client settings.
func DefaultClient() Client {
	return Client{
		CredentialsFile: "voicedesk-credentials.json",
		DeviceLabel:     "handheld",
		Capture:         DefaultCaptureConfig(),
		Discovery:       discovery.DefaultConfig(),
		Session:         session.DefaultConfig(),
		Transport:       transport.DefaultConfig(),
	}
}

// Agent aggregates everything the host binary needs.
type Agent struct {
	Server agent.ServerConfig `yaml:"server"`

	// Transcriber selects the speech-to-text backend: "google" or "mock".
	Transcriber string `yaml:"transcriber"`
	// Interpreter selects the command interpreter: "gemini" or "mock".
	Interpreter string `yaml:"interpreter"`
	// PairingStore selects pairing persistence: "memory" or "mongo".
	PairingStore string `yaml:"pairing_store"`
	// EnableMDNS registers the agent as an mDNS service for discovery.
	EnableMDNS bool `yaml:"enable_mdns"`

	Admission admission.Config     `yaml:"admission"`
	Pairing   pairing.Config       `yaml:"pairing"`
	Pipeline  agent.PipelineConfig `yaml:"pipeline"`
}

// DefaultAgent returns the standard agent settings.
func DefaultAgent() Agent {
	return Agent{
		Server: agent.ServerConfig{
			ListenAddr: ":8090",
			HostName:   "voicedesk-agent",
		},
		Transcriber:  "mock",
		Interpreter:  "mock",
		PairingStore: "memory",
		EnableMDNS:   true,
		Admission:    admission.DefaultConfig(),
		Pairing:      pairing.DefaultConfig(),
		Pipeline:     agent.DefaultPipelineConfig(),
	}
}

// LoadClient reads the client configuration: defaults, then the YAML file at
// path if one exists, with a .env file loaded for secrets beforehand.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// LoadAgent reads the agent configuration the same way.
func LoadAgent(path string) (Agent, error) {
	cfg := DefaultAgent()
	if err := load(path, &cfg); err != nil {
		return Agent{}, err
	}
	return cfg, nil
}

func load(path string, out interface{}) error {
	// Secrets (GEMINI_API_KEY, MONGODB_URI, AUTH_SECRET) come from the
	// environment, not the YAML file. Missing .env is fine.
	_ = godotenv.Load()

	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}
