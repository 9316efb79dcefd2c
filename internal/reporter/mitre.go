package reporter

import (
	"strings"

	"github.com/iyulab/threatlens/internal/analyzer"
)

// KillChain is the ATT&CK enterprise tactic order used to lay out the
// technique mapping.
var KillChain = []string{
	"Reconnaissance",
	"Resource Development",
	"Initial Access",
	"Execution",
	"Persistence",
	"Privilege Escalation",
	"Defense Evasion",
	"Credential Access",
	"Discovery",
	"Lateral Movement",
	"Collection",
	"Command and Control",
	"Exfiltration",
	"Impact",
}

// TacticGroup is the set of techniques mapped to one tactic.
type TacticGroup struct {
	Tactic     string                    `json:"tactic"`
	Known      bool                      `json:"known"`
	Techniques []analyzer.MitreTechnique `json:"techniques"`
}

// tacticKey normalizes a tactic name for matching: case, surrounding space,
// and "-"/"_" separators ("command-and-control") are ignored.
func tacticKey(tactic string) string {
	k := strings.ToLower(strings.TrimSpace(tactic))
	k = strings.NewReplacer("-", " ", "_", " ").Replace(k)
	return strings.Join(strings.Fields(k), " ")
}

var killChainIndex = func() map[string]int {
	m := make(map[string]int, len(KillChain))
	for i, t := range KillChain {
		m[tacticKey(t)] = i
	}
	return m
}()

// GroupByTactic groups techniques by tactic in kill-chain order. Known tactics
// use their canonical name; unknown tactics follow in first-seen order under
// the name the model gave. Technique order within a group is preserved.
func GroupByTactic(techniques []analyzer.MitreTechnique) []TacticGroup {
	known := make([]*TacticGroup, len(KillChain))
	var unknown []*TacticGroup
	unknownIndex := make(map[string]int)

	for _, tech := range techniques {
		key := tacticKey(tech.Tactic)
		if i, ok := killChainIndex[key]; ok {
			if known[i] == nil {
				known[i] = &TacticGroup{Tactic: KillChain[i], Known: true}
			}
			known[i].Techniques = append(known[i].Techniques, tech)
			continue
		}
		i, ok := unknownIndex[key]
		if !ok {
			name := strings.TrimSpace(tech.Tactic)
			if name == "" {
				name = "Unmapped"
			}
			i = len(unknown)
			unknownIndex[key] = i
			unknown = append(unknown, &TacticGroup{Tactic: name})
		}
		unknown[i].Techniques = append(unknown[i].Techniques, tech)
	}

	var groups []TacticGroup
	for _, g := range known {
		if g != nil {
			groups = append(groups, *g)
		}
	}
	for _, g := range unknown {
		groups = append(groups, *g)
	}
	return groups
}
