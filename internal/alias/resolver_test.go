package alias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChain_LiteralBypass(t *testing.T) {
	c := NewChain()
	result := c.Resolve(Context{Model: "!openai:gpt-4o", DefaultProvider: "openai"})
	assert.Equal(t, "openai:gpt-4o", result.ResolvedModel)
	assert.Equal(t, "openai", result.Provider)
}

func TestChain_LiteralBypassWithoutProviderUsesDefault(t *testing.T) {
	c := NewChain()
	result := c.Resolve(Context{Model: "!gpt-4o", DefaultProvider: "openai"})
	assert.Equal(t, "openai:gpt-4o", result.ResolvedModel)
}

func TestChain_ChainedAliasFollowsToTarget(t *testing.T) {
	c := NewChain()
	table := Table{
		"openai": {"fast": "gpt-4o-mini"},
	}
	result := c.Resolve(Context{Model: "openai:fast", Aliases: table})
	assert.True(t, result.WasResolved)
	assert.Equal(t, "openai:gpt-4o-mini", result.ResolvedModel)
	assert.Equal(t, "openai", result.Provider)
}

func TestChain_ChainedAliasFollowsMultipleHops(t *testing.T) {
	c := NewChain()
	table := Table{
		"openai": {
			"fast":  "fastest",
			"fastest": "gpt-4o-mini",
		},
	}
	result := c.Resolve(Context{Model: "openai:fast", Aliases: table})
	assert.True(t, result.WasResolved)
	assert.Equal(t, "openai:gpt-4o-mini", result.ResolvedModel)
}

func TestChain_ChainedAliasDetectsCycle(t *testing.T) {
	c := NewChain()
	table := Table{
		"openai": {
			"a": "openai:b",
			"b": "openai:a",
		},
	}
	result := c.Resolve(Context{Model: "openai:a", Aliases: table})
	assert.True(t, result.WasResolved, "a cycle still returns the last stable value rather than erroring")
}

func TestChain_SubstringMatchPicksExactOverPartial(t *testing.T) {
	c := NewChain()
	table := Table{
		"openai": {
			"gpt":   "gpt-4-generic",
			"gpt-4o": "gpt-4o-2024-08-06",
		},
	}
	result := c.Resolve(Context{Model: "gpt-4o", Aliases: table, DefaultProvider: "openai"})
	assert.True(t, result.WasResolved)
	assert.Equal(t, "openai:gpt-4o-2024-08-06", result.ResolvedModel)
}

func TestChain_SubstringMatchPrefersLongerAlias(t *testing.T) {
	c := NewChain()
	table := Table{
		"openai": {
			"4o":      "short-target",
			"fast-4o": "long-target",
		},
	}
	result := c.Resolve(Context{Model: "my-fast-4o-deployment", Aliases: table, DefaultProvider: "openai"})
	assert.True(t, result.WasResolved)
	assert.Equal(t, "openai:long-target", result.ResolvedModel)
}

func TestChain_NoMatchReturnsUnresolved(t *testing.T) {
	c := NewChain()
	result := c.Resolve(Context{Model: "totally-unknown-model", DefaultProvider: "openai"})
	assert.False(t, result.WasResolved)
	assert.Equal(t, "totally-unknown-model", result.ResolvedModel)
	assert.Equal(t, "openai", result.Provider)
}
