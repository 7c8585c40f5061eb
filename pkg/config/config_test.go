package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			MaxHops:                 2,
			TokenBudget:             2000,
			BudgetUnit:              "tokens",
			MaxCandidatesPerMention: 3,
		},
		Evaluation: EvaluationConfig{BleuMaxOrder: 4},
		Harness: HarnessConfig{
			Variants:   []string{"basic_llm", "graph_rag"},
			Workers:    4,
			MaxRetries: 2,
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"negative hops":      func(c *Config) { c.Retrieval.MaxHops = -1 },
		"negative budget":    func(c *Config) { c.Retrieval.TokenBudget = -5 },
		"bad budget unit":    func(c *Config) { c.Retrieval.BudgetUnit = "words" },
		"zero candidates":    func(c *Config) { c.Retrieval.MaxCandidatesPerMention = 0 },
		"zero bleu order":    func(c *Config) { c.Evaluation.BleuMaxOrder = 0 },
		"zero workers":       func(c *Config) { c.Harness.Workers = 0 },
		"negative retries":   func(c *Config) { c.Harness.MaxRetries = -1 },
		"no variants":        func(c *Config) { c.Harness.Variants = nil },
		"unknown variant":    func(c *Config) { c.Harness.Variants = []string{"fancy_llm"} },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}

func TestFingerprintStability(t *testing.T) {
	a := validConfig()
	b := validConfig()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Retrieval.TokenBudget = 500
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := validConfig()
	c.LLM.Model = "gpt-4o-mini"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
