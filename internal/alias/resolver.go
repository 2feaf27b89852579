// Package alias resolves a client-supplied model string into a concrete
// (provider, model) pair through a priority-ordered chain of resolvers:
// literal bypass, chained alias following, substring matching, and ranking.
package alias

import (
	"sort"
	"strings"
)

const defaultMaxChainLength = 10

// Table is the full alias set, keyed by provider then lowercased alias name.
type Table map[string]map[string]string

// Context is the immutable input to one resolution attempt.
type Context struct {
	Model           string
	Provider        string // optional scope
	DefaultProvider string
	Aliases         Table
}

// Result is what a resolution step, or the whole chain, produced.
type Result struct {
	ResolvedModel  string
	Provider       string
	WasResolved    bool
	ResolutionPath []string
	Matches        []Match
}

// Match is one candidate found by the substring matcher.
type Match struct {
	Provider string
	Alias    string
	Target   string
	Length   int
	IsExact  bool
}

// Resolver is one stage in the priority chain.
type Resolver interface {
	Name() string
	Priority() int
	CanResolve(ctx Context) bool
	Resolve(ctx Context) (*Result, bool) // ok=false means "no result, continue chain"
}

// Chain orchestrates the priority-ordered resolvers. First terminal result wins.
type Chain struct {
	resolvers []Resolver
}

// NewChain builds the standard four-stage resolver chain.
func NewChain() *Chain {
	return &Chain{resolvers: []Resolver{
		LiteralPrefixResolver{},
		NewChainedAliasResolver(defaultMaxChainLength),
		SubstringMatcher{},
		MatchRanker{},
	}}
}

// Resolve runs the chain for one request.
func (c *Chain) Resolve(ctx Context) Result {
	sorted := append([]Resolver(nil), c.resolvers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	current := ctx
	var matches []Match

	for _, r := range sorted {
		if _, isRanker := r.(MatchRanker); !isRanker && !r.CanResolve(current) {
			continue
		}

		result, ok := resolveWithMatches(r, current, matches)
		if !ok {
			continue
		}

		if result.WasResolved {
			if chained := c.followChain(current, *result); chained != nil {
				return *chained
			}
			return *result
		}

		if len(result.Matches) > 0 {
			matches = result.Matches
			continue
		}

		if result.ResolvedModel != current.Model {
			return *result
		}
	}

	return Result{
		ResolvedModel: ctx.Model,
		Provider:      firstNonEmpty(ctx.Provider, ctx.DefaultProvider),
		WasResolved:   false,
	}
}

func resolveWithMatches(r Resolver, ctx Context, matches []Match) (*Result, bool) {
	if mr, ok := r.(MatchRanker); ok {
		return mr.resolveMatches(ctx, matches)
	}
	return r.Resolve(ctx)
}

// followChain re-runs the chained resolver once after a successful match, so
// that a resolved alias which itself names another alias keeps unwinding.
func (c *Chain) followChain(original Context, result Result) *Result {
	var chainResolver *ChainedAliasResolver
	for _, r := range c.resolvers {
		if cr, ok := r.(*ChainedAliasResolver); ok {
			chainResolver = cr
			break
		}
	}
	if chainResolver == nil {
		return nil
	}

	provider := firstNonEmpty(result.Provider, original.Provider, original.DefaultProvider)
	resolvedModel := result.ResolvedModel

	_, isAlias := original.Aliases[provider][resolvedModel]
	if !strings.Contains(resolvedModel, ":") && !isAlias {
		return nil
	}

	chainCtx := Context{
		Model:           resolvedModel,
		Provider:        provider,
		DefaultProvider: original.DefaultProvider,
		Aliases:         original.Aliases,
	}
	chainResult, ok := chainResolver.Resolve(chainCtx)
	if !ok || !chainResult.WasResolved {
		return nil
	}

	merged := append(append([]string(nil), result.ResolutionPath...), chainResult.ResolutionPath...)
	return &Result{
		ResolvedModel:  chainResult.ResolvedModel,
		Provider:       chainResult.Provider,
		WasResolved:    true,
		ResolutionPath: merged,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// LiteralPrefixResolver handles "!"-prefixed model strings that bypass
// alias resolution entirely. Priority 10.
type LiteralPrefixResolver struct{}

func (LiteralPrefixResolver) Name() string   { return "LiteralPrefixResolver" }
func (LiteralPrefixResolver) Priority() int  { return 10 }
func (LiteralPrefixResolver) CanResolve(ctx Context) bool {
	return strings.HasPrefix(ctx.Model, "!")
}

func (LiteralPrefixResolver) Resolve(ctx Context) (*Result, bool) {
	literal := strings.TrimPrefix(ctx.Model, "!")
	if literal == "" {
		return nil, false
	}

	var provider, resolved string
	if idx := strings.IndexByte(literal, ':'); idx >= 0 {
		provider = strings.ToLower(literal[:idx])
		resolved = provider + ":" + literal[idx+1:]
	} else {
		provider = firstNonEmpty(ctx.Provider, ctx.DefaultProvider)
		if provider != "" {
			resolved = provider + ":" + literal
		} else {
			resolved = literal
		}
	}

	return &Result{ResolvedModel: resolved, Provider: provider, WasResolved: false}, true
}

// ChainedAliasResolver follows provider:alias chains to a fixed point,
// detecting cycles and bounding the number of hops. Priority 20.
type ChainedAliasResolver struct {
	maxChainLength int
}

func NewChainedAliasResolver(maxChainLength int) *ChainedAliasResolver {
	return &ChainedAliasResolver{maxChainLength: maxChainLength}
}

func (c *ChainedAliasResolver) Name() string  { return "ChainedAliasResolver" }
func (c *ChainedAliasResolver) Priority() int { return 20 }

func (c *ChainedAliasResolver) CanResolve(ctx Context) bool {
	return strings.Contains(ctx.Model, ":")
}

func (c *ChainedAliasResolver) Resolve(ctx Context) (*Result, bool) {
	resolvedModel := ctx.Model
	seen := make(map[string]bool)
	var path []string

	for i := 0; i < c.maxChainLength; i++ {
		idx := strings.IndexByte(resolvedModel, ':')
		if idx < 0 {
			break
		}
		provider, modelPart := resolvedModel[:idx], resolvedModel[idx+1:]
		providerAliases, ok := ctx.Aliases[provider]
		if !ok {
			break
		}

		scoped := provider + ":" + strings.ToLower(modelPart)
		if seen[scoped] {
			// Cycle: return the last stable value, not an error.
			return &Result{
				ResolvedModel:  resolvedModel,
				Provider:       provider,
				WasResolved:    true,
				ResolutionPath: path,
			}, true
		}

		target, ok := providerAliases[strings.ToLower(modelPart)]
		if !ok {
			break
		}
		seen[scoped] = true
		path = append(path, modelPart)

		if strings.Contains(target, ":") {
			resolvedModel = target
		} else {
			resolvedModel = provider + ":" + target
		}
	}

	if resolvedModel == ctx.Model {
		return nil, false
	}

	provider := ctx.Provider
	if idx := strings.IndexByte(resolvedModel, ':'); idx >= 0 {
		provider = resolvedModel[:idx]
	}

	return &Result{
		ResolvedModel:  resolvedModel,
		Provider:       provider,
		WasResolved:    true,
		ResolutionPath: path,
	}, true
}

// SubstringMatcher collects candidate aliases whose name is a substring of
// the requested model (case-insensitive, hyphen/underscore tolerant).
// Priority 30.
type SubstringMatcher struct{}

func (SubstringMatcher) Name() string  { return "SubstringMatcher" }
func (SubstringMatcher) Priority() int { return 30 }

func (SubstringMatcher) CanResolve(ctx Context) bool {
	return len(ctx.Aliases) > 0 && !strings.HasPrefix(ctx.Model, "!")
}

func (SubstringMatcher) Resolve(ctx Context) (*Result, bool) {
	modelLower := strings.ToLower(ctx.Model)
	modelForMatch := modelLower
	var explicitProvider string
	if idx := strings.IndexByte(modelLower, ':'); idx >= 0 {
		explicitProvider = modelLower[:idx]
		modelForMatch = modelLower[idx+1:]
	}

	variations := map[string]bool{
		modelForMatch: true,
		strings.ReplaceAll(modelForMatch, "_", "-"): true,
		strings.ReplaceAll(modelForMatch, "-", "_"): true,
	}

	searchProvider := explicitProvider
	if searchProvider == "" && ctx.Provider != "" {
		searchProvider = strings.ToLower(ctx.Provider)
	}

	var matches []Match
	for providerName, providerAliases := range ctx.Aliases {
		if searchProvider != "" && providerName != searchProvider {
			continue
		}
		for name, target := range providerAliases {
			aliasLower := strings.ToLower(name)
			for variation := range variations {
				if strings.Contains(variation, aliasLower) {
					matches = append(matches, Match{
						Provider: providerName,
						Alias:    name,
						Target:   target,
						Length:   len(aliasLower),
						IsExact:  aliasLower == variation,
					})
					break
				}
			}
		}
	}

	if len(matches) == 0 {
		return nil, false
	}

	return &Result{
		ResolvedModel: ctx.Model,
		Provider:      ctx.Provider,
		WasResolved:   false,
		Matches:       matches,
	}, true
}

// MatchRanker picks the single best SubstringMatcher candidate. Priority 40.
type MatchRanker struct{}

func (MatchRanker) Name() string  { return "MatchRanker" }
func (MatchRanker) Priority() int { return 40 }

// CanResolve is unused directly; the chain drives MatchRanker through
// resolveMatches once SubstringMatcher has produced candidates.
func (MatchRanker) CanResolve(ctx Context) bool { return false }

func (MatchRanker) Resolve(ctx Context) (*Result, bool) { return nil, false }

func (MatchRanker) resolveMatches(ctx Context, matches []Match) (*Result, bool) {
	if len(matches) == 0 {
		return nil, false
	}

	ranked := append([]Match(nil), matches...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.IsExact != b.IsExact {
			return a.IsExact // exact first
		}
		if a.Length != b.Length {
			return a.Length > b.Length // longer first
		}
		aDefault := a.Provider == ctx.DefaultProvider
		bDefault := b.Provider == ctx.DefaultProvider
		if aDefault != bDefault {
			return aDefault
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Alias < b.Alias
	})

	best := ranked[0]
	var resolved string
	if strings.Contains(best.Target, ":") {
		potentialProvider := best.Target[:strings.IndexByte(best.Target, ':')]
		if _, known := ctx.Aliases[potentialProvider]; known {
			resolved = best.Target
		} else {
			resolved = best.Provider + ":" + best.Target
		}
	} else {
		resolved = best.Provider + ":" + best.Target
	}

	return &Result{
		ResolvedModel:  resolved,
		Provider:       best.Provider,
		WasResolved:    true,
		ResolutionPath: []string{best.Alias},
	}, true
}
