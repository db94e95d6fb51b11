// Package matching shortlists eligible developers for a project by skill
// overlap, reliability, seniority and current workload.
package matching

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/devbridge/marketplace/internal/app/domain/developer"
)

// DefaultLimit is the shortlist size.
const DefaultLimit = 5

// Score weights.
const (
	skillWeight       = 50.0
	reliabilityWeight = 30.0
	experienceScale   = 20.0
	workloadPenalty   = 20.0

	heavyWorkloadJobs     = 2
	highReliabilityCutoff = 80.0
)

// Reasons attached to matches.
const (
	ReasonHighReliability = "high reliability"
	ReasonHeavyWorkload   = "heavy workload"
)

// Match is one ranked candidate.
type Match struct {
	Developer developer.Profile `json:"developer"`
	Score     float64           `json:"score"`
	Reasons   []string          `json:"reasons"`
}

func experienceWeight(level developer.ExperienceLevel) float64 {
	switch developer.ExperienceLevel(strings.ToLower(string(level))) {
	case developer.LevelSenior:
		return 1.0
	case developer.LevelMid:
		return 0.7
	default:
		return 0.4
	}
}

// Rank scores eligible candidates against requirements and returns the best
// limit of them, highest score first. Ties go to the more reliable developer,
// then to the lower ID. limit <= 0 selects DefaultLimit.
func Rank(requirements []string, candidates []developer.Profile, limit int) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	fold := cases.Fold()

	// Blank requirements do not count toward the skill ratio denominator.
	reqs := make([]string, 0, len(requirements))
	for _, r := range requirements {
		if r = strings.TrimSpace(r); r != "" {
			reqs = append(reqs, r)
		}
	}
	folded := make([]string, len(reqs))
	for i, r := range reqs {
		folded[i] = fold.String(r)
	}

	matches := make([]Match, 0, len(candidates))
	for _, dev := range candidates {
		if !dev.Eligible() {
			continue
		}

		skills := make([]string, len(dev.Skills))
		for i, s := range dev.Skills {
			skills[i] = fold.String(s)
		}
		var matched []string
		for i, r := range folded {
			for _, s := range skills {
				if strings.Contains(s, r) {
					matched = append(matched, reqs[i])
					break
				}
			}
		}

		ratio := float64(len(matched)) / float64(max(len(reqs), 1))
		reliability := min(max(dev.ReliabilityScore, 0), 100)
		score := skillWeight*ratio +
			reliabilityWeight*(reliability/100) +
			experienceScale*experienceWeight(dev.ExperienceLevel)

		var reasons []string
		if len(matched) > 0 {
			reasons = append(reasons, fmt.Sprintf("matched skills: %s", strings.Join(matched, ", ")))
		}
		if reliability >= highReliabilityCutoff {
			reasons = append(reasons, ReasonHighReliability)
		}
		if dev.ActiveJobsCount > heavyWorkloadJobs {
			score -= workloadPenalty
			reasons = append(reasons, ReasonHeavyWorkload)
		}
		if score <= 0 {
			continue
		}

		dev.Skills = append([]string(nil), dev.Skills...)
		matches = append(matches, Match{Developer: dev, Score: score, Reasons: reasons})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Developer.ReliabilityScore != b.Developer.ReliabilityScore {
			return a.Developer.ReliabilityScore > b.Developer.ReliabilityScore
		}
		return a.Developer.ID < b.Developer.ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
