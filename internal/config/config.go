package config

// Config is the root configuration for the hivemind runtime.
type Config struct {
	DataDir  string         `json:"data_dir"`
	Gateway  GatewayConfig  `json:"gateway"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Services ServicesConfig `json:"services"`
	Sandbox  SandboxConfig  `json:"sandbox"`
	LocalLLM LocalLLMConfig `json:"localllm"`

	// Schedules defines recurring messages delivered through the bus.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

// GatewayConfig configures the embedded HTTP/WebSocket server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// RuntimeConfig bounds the scheduler and the LLM interaction loop.
type RuntimeConfig struct {
	MaxConcurrentAgents int `json:"max_concurrent_agents"`
	MaxToolRounds       int `json:"max_tool_rounds"`
	LLMConcurrency      int `json:"llm_concurrency"`

	// Conversation compression: compress when estimated tokens exceed
	// CompressionRatio × context window, keeping RetainedTurns verbatim.
	CompressionRatio float64 `json:"compression_ratio"`
	RetainedTurns    int     `json:"retained_turns"`

	// SnapshotIntervalSec is how often conversations are flushed to disk.
	SnapshotIntervalSec int `json:"snapshot_interval_sec"`

	// ShutdownGraceSec bounds how long in-flight agents may finish their
	// current tool round on SIGINT before a forced exit.
	ShutdownGraceSec int `json:"shutdown_grace_sec"`
}

// ServicesConfig maps service ids to LLM endpoint definitions.
type ServicesConfig struct {
	// Default is the service id used when a role has no preference.
	Default string `json:"default"`

	// Naming is the service used for the short agent-naming call.
	// Empty = use Default.
	Naming string `json:"naming,omitempty"`

	Endpoints map[string]ServiceConfig `json:"endpoints"`
}

// ServiceConfig describes one OpenAI-compatible chat completion endpoint.
type ServiceConfig struct {
	BaseURL       string       `json:"base_url"`
	APIKey        string       `json:"api_key,omitempty"`
	Model         string       `json:"model"`
	ContextWindow int          `json:"context_window"`
	MaxTokens     int          `json:"max_tokens,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	RPM           int          `json:"rpm,omitempty"` // 0 = unlimited
	Capabilities  Capabilities `json:"capabilities"`

	// Retry knobs; zero values fall back to client defaults.
	MaxAttempts    int `json:"max_attempts,omitempty"`
	AttemptTimeout int `json:"attempt_timeout_sec,omitempty"`
}

// Capabilities lists the input modalities a service accepts.
// "text" is always implied; the rest come from {vision, audio, file, video}.
type Capabilities struct {
	Input []string `json:"input"`
}

// Supports reports whether the service accepts the given modality.
func (c Capabilities) Supports(modality string) bool {
	if modality == "text" {
		return true
	}
	for _, m := range c.Input {
		if m == modality {
			return true
		}
	}
	return false
}

// SandboxConfig bounds the JavaScript tool.
type SandboxConfig struct {
	TimeoutSec    int `json:"timeout_sec"`
	MaxCanvasEdge int `json:"max_canvas_edge"`
}

// LocalLLMConfig configures the optional localllm_chat path.
type LocalLLMConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Headless bool   `json:"headless,omitempty"`
}

// ScheduleConfig is one recurring message definition.
type ScheduleConfig struct {
	Cron string `json:"cron"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: "~/.hivemind",
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18890,
		},
		Runtime: RuntimeConfig{
			MaxConcurrentAgents: 8,
			MaxToolRounds:       24,
			LLMConcurrency:      4,
			CompressionRatio:    0.7,
			RetainedTurns:       8,
			SnapshotIntervalSec: 30,
			ShutdownGraceSec:    20,
		},
		Services: ServicesConfig{
			Default: "main",
			Endpoints: map[string]ServiceConfig{
				"main": {
					BaseURL:       "https://api.openai.com/v1",
					Model:         "gpt-4o",
					ContextWindow: 128000,
					Capabilities:  Capabilities{Input: []string{"vision", "file"}},
				},
			},
		},
		Sandbox: SandboxConfig{
			TimeoutSec:    10,
			MaxCanvasEdge: 4096,
		},
	}
}
