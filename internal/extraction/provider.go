package extraction

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/config"
)

// NewChainFromConfig builds the canonical cloud, local, pattern chain.
// Missing credentials do not fail construction: the affected interpreter
// reports itself unavailable and the chain falls through it.
func NewChainFromConfig(cfg config.ExtractionConfig, logger *zap.Logger, opts ...ChainOption) (*Chain, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	cloud, err := newCloudInterpreter(cfg)
	if err != nil {
		return nil, err
	}
	local, err := newLocalInterpreter(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Provider != "" {
		opts = append(opts, WithForcedInterpreter(cfg.Provider))
	}

	return NewChain(logger, []Interpreter{
		cloud,
		local,
		NewPatternInterpreter(""),
	}, opts...)
}

func newCloudInterpreter(cfg config.ExtractionConfig) (*LLMInterpreter, error) {
	clientCfg := ClientConfig{Timeout: cfg.Timeout.Duration()}

	switch strings.ToLower(cfg.CloudProvider) {
	case "", "groq":
		clientCfg.APIKey = cfg.GroqAPIKey.Value()
		clientCfg.Model = cfg.GroqModel
		clientCfg.BaseURL = cfg.GroqBaseURL
		model := clientCfg.Model
		if model == "" {
			model = defaultGroqModel
		}
		if clientCfg.APIKey == "" {
			return NewLLMInterpreter(NameCloud, "groq", model, nil, "GROQ_API_KEY not set"), nil
		}
		c, err := NewGroqCompleter(clientCfg)
		if err != nil {
			return nil, err
		}
		return NewLLMInterpreter(NameCloud, "groq", model, c, ""), nil

	case "anthropic":
		clientCfg.APIKey = cfg.AnthropicAPIKey.Value()
		clientCfg.Model = cfg.AnthropicModel
		model := clientCfg.Model
		if model == "" {
			model = defaultAnthropicModel
		}
		if clientCfg.APIKey == "" {
			return NewLLMInterpreter(NameCloud, "anthropic", model, nil, "ANTHROPIC_API_KEY not set"), nil
		}
		c, err := NewAnthropicCompleter(clientCfg)
		if err != nil {
			return nil, err
		}
		return NewLLMInterpreter(NameCloud, "anthropic", model, c, ""), nil

	default:
		return nil, fmt.Errorf("unknown cloud provider: %s", cfg.CloudProvider)
	}
}

func newLocalInterpreter(cfg config.ExtractionConfig) (*LLMInterpreter, error) {
	model := cfg.OllamaModel
	if model == "" {
		model = defaultOllamaModel
	}
	c, err := NewOllamaCompleter(OllamaConfig{
		ServerURL: cfg.OllamaURL,
		Model:     model,
		Timeout:   cfg.Timeout.Duration(),
	})
	if err != nil {
		return nil, err
	}
	return NewLLMInterpreter(NameLocal, "ollama", model, c, ""), nil
}
