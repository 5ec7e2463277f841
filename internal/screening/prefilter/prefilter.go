package prefilter

import (
	"fmt"
	"strings"

	"jobsieve/internal/core/domain"
)

// Filter is the cheap local rule check run before the expensive external
// classifier call: exclusion keyword match first, then candidate-skill
// overlap. Matching is case-insensitive.
type Filter struct {
	exclude         []string
	skills          []string
	minSkillMatches int
}

// New builds a filter from the candidate profile.
func New(profile domain.Profile, minSkillMatches int) *Filter {
	if minSkillMatches < 1 {
		minSkillMatches = 1
	}
	return &Filter{
		exclude:         lowerAll(profile.ExcludeKeywords),
		skills:          lowerAll(profile.Skills),
		minSkillMatches: minSkillMatches,
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Check returns nil when the posting may proceed to the classifier, or an
// error wrapping domain.ErrPreFilterRejected with the violated rule.
func (f *Filter) Check(p *domain.Posting) error {
	text := strings.ToLower(p.Name + "\n" + p.Description)

	for _, kw := range f.exclude {
		if strings.Contains(text, kw) {
			return fmt.Errorf("%w: exclusion keyword %q", domain.ErrPreFilterRejected, kw)
		}
	}

	// No configured skills means nothing to overlap against
	if len(f.skills) == 0 {
		return nil
	}

	matches := 0
	for _, skill := range f.skills {
		if strings.Contains(text, skill) {
			matches++
			if matches >= f.minSkillMatches {
				return nil
			}
		}
	}
	return fmt.Errorf(
		"%w: skill overlap %d below minimum %d",
		domain.ErrPreFilterRejected, matches, f.minSkillMatches,
	)
}
