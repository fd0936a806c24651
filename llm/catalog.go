package llm

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// generationMethod is the capability flag that marks a model as usable for
// content generation.
const generationMethod = "generateContent"

// gen3Re matches the generation-3 model family ("gemini-3-preview",
// "gemini-3.0-pro", ...), with or without the API's "models/" prefix.
var gen3Re = regexp.MustCompile(`^(models/)?gemini-3($|[-.])`)

// ListUsableModels queries the provider for the models the configured
// credential may use, keeps only content-generation-capable entries, and
// returns their identifiers best-first. An empty result with a nil error
// means the credential is valid but grants nothing usable; callers must
// treat that as a configuration problem, not an auth failure.
func ListUsableModels(ctx context.Context, p Provider) ([]string, error) {
	infos, err := p.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(infos))
	for _, m := range infos {
		if supportsGeneration(m) {
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
	}

	// Stable sort keeps the provider's order within a rank.
	sort.SliceStable(names, func(i, j int) bool {
		return modelRank(names[i]) < modelRank(names[j])
	})
	return names, nil
}

func supportsGeneration(m ModelInfo) bool {
	for _, method := range m.GenerationMethods {
		if method == generationMethod {
			return true
		}
	}
	return false
}

// modelRank imposes the fixed preference order: generation-3 family first,
// then 1.5-pro, then 2.0, then the flash tier, then everything else.
func modelRank(name string) int {
	switch {
	case gen3Re.MatchString(name):
		return 0
	case strings.Contains(name, "1.5-pro"):
		return 1
	case strings.Contains(name, "2.0"):
		return 2
	case strings.Contains(name, "flash"):
		return 3
	default:
		return 4
	}
}
