package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/supportdesk/triage-service/internal/domain"
)

// Policy is the immutable routing configuration injected into the engine.
type Policy struct {
	DefaultTeam   domain.Team
	CategoryTeams map[domain.QueryCategory]domain.Team
	TagRoutes     []TagRoute
	SLA           SLAPolicy
	Capacity      CapacityPolicy
}

// TagRoute sends queries carrying any of Tags to Team, ahead of the category table.
type TagRoute struct {
	Tags []string
	Team domain.Team
}

// SLAPolicy maps priority to the maximum time to first response. Stuck is a
// second table measured from assignment; StaleFraction of it marks a query as
// getting stale.
type SLAPolicy struct {
	Response       map[domain.Priority]time.Duration
	AtRiskFraction float64
	Stuck          map[domain.Priority]time.Duration
	StaleFraction  float64
}

// Deadline returns the full SLA window for p.
func (s SLAPolicy) Deadline(p domain.Priority) time.Duration {
	return s.Response[p]
}

// AtRiskAfter returns the elapsed time at which p becomes at-risk.
func (s SLAPolicy) AtRiskAfter(p domain.Priority) time.Duration {
	return time.Duration(float64(s.Response[p]) * s.AtRiskFraction)
}

// StuckAfter returns how long a query of priority p may sit idle.
func (s SLAPolicy) StuckAfter(p domain.Priority) time.Duration {
	return s.Stuck[p]
}

// StaleAfter returns the idle time at which p is reported as getting stale.
func (s SLAPolicy) StaleAfter(p domain.Priority) time.Duration {
	return time.Duration(float64(s.Stuck[p]) * s.StaleFraction)
}

// CapacityPolicy holds per-priority ceilings. Agent overrides win over team
// overrides, which win over Default.
type CapacityPolicy struct {
	Default map[domain.Priority]int
	Teams   map[domain.Team]map[domain.Priority]int
}

// Ceiling resolves the ceiling for agent at priority p.
func (c CapacityPolicy) Ceiling(agent domain.Agent, p domain.Priority) int {
	if v, ok := agent.Capacity[p]; ok && v > 0 {
		return v
	}
	if team, ok := c.Teams[agent.Team]; ok {
		if v, ok := team[p]; ok && v > 0 {
			return v
		}
	}
	return c.Default[p]
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTeam: domain.TeamSupport,
		CategoryTeams: map[domain.QueryCategory]domain.Team{
			domain.CategoryQuestion:  domain.TeamSupport,
			domain.CategoryComplaint: domain.TeamSupport,
			domain.CategoryFeedback:  domain.TeamSupport,
			domain.CategoryRequest:   domain.TeamSales,
			domain.CategoryBugReport: domain.TeamEngineering,
			domain.CategoryGeneral:   domain.TeamSupport,
		},
		TagRoutes: []TagRoute{
			{Tags: []string{"billing", "payment"}, Team: domain.TeamFinance},
			{Tags: []string{"api", "technical"}, Team: domain.TeamEngineering},
			{Tags: []string{"sales", "pricing"}, Team: domain.TeamSales},
		},
		SLA: SLAPolicy{
			Response: map[domain.Priority]time.Duration{
				domain.PriorityUrgent: time.Hour,
				domain.PriorityHigh:   4 * time.Hour,
				domain.PriorityMedium: 24 * time.Hour,
				domain.PriorityLow:    72 * time.Hour,
			},
			AtRiskFraction: 0.8,
			Stuck:          defaultStuck(),
			StaleFraction:  defaultStaleFraction,
		},
		Capacity: CapacityPolicy{
			Default: map[domain.Priority]int{
				domain.PriorityUrgent: 3,
				domain.PriorityHigh:   5,
				domain.PriorityMedium: 10,
				domain.PriorityLow:    15,
			},
		},
	}
}

const defaultStaleFraction = 0.5

func defaultStuck() map[domain.Priority]time.Duration {
	return map[domain.Priority]time.Duration{
		domain.PriorityUrgent: 2 * time.Hour,
		domain.PriorityHigh:   8 * time.Hour,
		domain.PriorityMedium: 24 * time.Hour,
		domain.PriorityLow:    72 * time.Hour,
	}
}

// Validate reports configuration defects that must stop the process.
func (p Policy) Validate() error {
	var errs []error
	if !p.DefaultTeam.Valid() {
		errs = append(errs, fmt.Errorf("default team %q is not a known team", p.DefaultTeam))
	}
	if len(p.CategoryTeams) == 0 {
		errs = append(errs, errors.New("category team table is empty"))
	}
	for category, team := range p.CategoryTeams {
		if !category.Valid() {
			errs = append(errs, fmt.Errorf("category table: unknown category %q", category))
		}
		if !team.Valid() {
			errs = append(errs, fmt.Errorf("category table: %s routes to unknown team %q", category, team))
		}
	}
	for i, route := range p.TagRoutes {
		if len(route.Tags) == 0 {
			errs = append(errs, fmt.Errorf("tag route %d has no tags", i))
		}
		if !route.Team.Valid() {
			errs = append(errs, fmt.Errorf("tag route %d routes to unknown team %q", i, route.Team))
		}
	}
	if len(p.SLA.Response) == 0 {
		errs = append(errs, errors.New("sla table is missing"))
	}
	for _, priority := range domain.Priorities {
		d, ok := p.SLA.Response[priority]
		if !ok {
			errs = append(errs, fmt.Errorf("sla table: missing entry for %s", priority))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("sla table: %s must be positive", priority))
		}
		if d, ok := p.SLA.Stuck[priority]; !ok || d <= 0 {
			errs = append(errs, fmt.Errorf("stuck table: %s must be positive", priority))
		}
		if c := p.Capacity.Default[priority]; c <= 0 {
			errs = append(errs, fmt.Errorf("capacity: default ceiling for %s must be positive", priority))
		}
	}
	if p.SLA.AtRiskFraction <= 0 || p.SLA.AtRiskFraction >= 1 {
		errs = append(errs, fmt.Errorf("sla at-risk fraction %.2f must be between 0 and 1", p.SLA.AtRiskFraction))
	}
	if p.SLA.StaleFraction <= 0 || p.SLA.StaleFraction >= 1 {
		errs = append(errs, fmt.Errorf("sla stale fraction %.2f must be between 0 and 1", p.SLA.StaleFraction))
	}
	for team := range p.Capacity.Teams {
		if !team.Valid() {
			errs = append(errs, fmt.Errorf("capacity: unknown team %q", team))
		}
	}
	return errors.Join(errs...)
}

type policyFile struct {
	DefaultTeam   string            `yaml:"default_team"`
	CategoryTeams map[string]string `yaml:"category_teams"`
	TagRoutes     []struct {
		Tags []string `yaml:"tags"`
		Team string   `yaml:"team"`
	} `yaml:"tag_routes"`
	SLA struct {
		AtRiskFraction float64           `yaml:"at_risk_fraction"`
		Response       map[string]string `yaml:"response"`
		StaleFraction  float64           `yaml:"stale_fraction"`
		Stuck          map[string]string `yaml:"stuck"`
	} `yaml:"sla"`
	Capacity struct {
		Default map[string]int            `yaml:"default"`
		Teams   map[string]map[string]int `yaml:"teams"`
	} `yaml:"capacity"`
}

// LoadPolicy reads a policy file, or returns DefaultPolicy when path is empty.
// The result is validated.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		policy := DefaultPolicy()
		return policy, policy.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var raw policyFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}

	policy := Policy{
		DefaultTeam:   domain.Team(strings.ToLower(raw.DefaultTeam)),
		CategoryTeams: make(map[domain.QueryCategory]domain.Team, len(raw.CategoryTeams)),
		SLA: SLAPolicy{
			Response:       make(map[domain.Priority]time.Duration, len(raw.SLA.Response)),
			AtRiskFraction: raw.SLA.AtRiskFraction,
			Stuck:          defaultStuck(),
			StaleFraction:  raw.SLA.StaleFraction,
		},
		Capacity: CapacityPolicy{
			Default: make(map[domain.Priority]int, len(raw.Capacity.Default)),
			Teams:   make(map[domain.Team]map[domain.Priority]int, len(raw.Capacity.Teams)),
		},
	}
	for category, team := range raw.CategoryTeams {
		policy.CategoryTeams[domain.QueryCategory(strings.ToLower(category))] = domain.Team(strings.ToLower(team))
	}
	for _, route := range raw.TagRoutes {
		tags := make([]string, 0, len(route.Tags))
		for _, tag := range route.Tags {
			tags = append(tags, strings.ToLower(strings.TrimSpace(tag)))
		}
		policy.TagRoutes = append(policy.TagRoutes, TagRoute{Tags: tags, Team: domain.Team(strings.ToLower(route.Team))})
	}
	if err := parseDurations("sla table", raw.SLA.Response, policy.SLA.Response); err != nil {
		return Policy{}, err
	}
	// Omitted stuck entries and fraction keep the built-in values.
	if err := parseDurations("stuck table", raw.SLA.Stuck, policy.SLA.Stuck); err != nil {
		return Policy{}, err
	}
	if policy.SLA.StaleFraction == 0 {
		policy.SLA.StaleFraction = defaultStaleFraction
	}
	ceilings, err := parseCeilings(raw.Capacity.Default)
	if err != nil {
		return Policy{}, err
	}
	policy.Capacity.Default = ceilings
	for team, values := range raw.Capacity.Teams {
		ceilings, err := parseCeilings(values)
		if err != nil {
			return Policy{}, fmt.Errorf("capacity team %s: %w", team, err)
		}
		policy.Capacity.Teams[domain.Team(strings.ToLower(team))] = ceilings
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func parseDurations(table string, raw map[string]string, out map[domain.Priority]time.Duration) error {
	for key, value := range raw {
		priority, ok := domain.ParsePriority(key)
		if !ok {
			return fmt.Errorf("%s: unknown priority %q", table, key)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", table, key, err)
		}
		out[priority] = d
	}
	return nil
}

func parseCeilings(raw map[string]int) (map[domain.Priority]int, error) {
	out := make(map[domain.Priority]int, len(raw))
	for key, value := range raw {
		priority, ok := domain.ParsePriority(key)
		if !ok {
			return nil, fmt.Errorf("capacity: unknown priority %q", key)
		}
		out[priority] = value
	}
	return out, nil
}
