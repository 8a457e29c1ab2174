package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportdesk/triage-service/internal/domain"
)

const samplePolicy = `
default_team: support
category_teams:
  question: support
  bug_report: Engineering
tag_routes:
  - tags: [Billing]
    team: finance
sla:
  at_risk_fraction: 0.75
  response:
    urgent: 30m
    high: 2h
    medium: 8h
    low: 48h
capacity:
  default: {urgent: 2, high: 4, medium: 8, low: 12}
  teams:
    engineering: {urgent: 1}
`

func TestDefaultPolicyIsValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, domain.TeamSupport, policy.DefaultTeam)
	assert.Equal(t, domain.TeamEngineering, policy.CategoryTeams[domain.CategoryBugReport])
	require.Len(t, policy.TagRoutes, 1)
	assert.Equal(t, []string{"billing"}, policy.TagRoutes[0].Tags)
	assert.Equal(t, 30*time.Minute, policy.SLA.Deadline(domain.PriorityUrgent))
	assert.Equal(t, 6*time.Hour, policy.SLA.AtRiskAfter(domain.PriorityMedium))

	eng := domain.Agent{Team: domain.TeamEngineering}
	assert.Equal(t, 1, policy.Capacity.Ceiling(eng, domain.PriorityUrgent))
	assert.Equal(t, 4, policy.Capacity.Ceiling(eng, domain.PriorityHigh))
	eng.Capacity = map[domain.Priority]int{domain.PriorityUrgent: 5}
	assert.Equal(t, 5, policy.Capacity.Ceiling(eng, domain.PriorityUrgent))

	assert.Equal(t, 2*time.Hour, policy.SLA.StuckAfter(domain.PriorityUrgent), "omitted stuck table keeps defaults")
	assert.Equal(t, 0.5, policy.SLA.StaleFraction)
}

func TestParsePolicyStuckTable(t *testing.T) {
	doc := `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
  stale_fraction: 0.25
  stuck:
    high: 4h
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`
	policy, err := ParsePolicy([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 4*time.Hour, policy.SLA.StuckAfter(domain.PriorityHigh))
	assert.Equal(t, time.Hour, policy.SLA.StaleAfter(domain.PriorityHigh))
	assert.Equal(t, 72*time.Hour, policy.SLA.StuckAfter(domain.PriorityLow))
}

func TestParsePolicyRejects(t *testing.T) {
	cases := map[string]string{
		"missing sla entry": `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  response: {urgent: 1h, high: 4h, medium: 24h}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"bad fraction": `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 1.5
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"unknown team": `
default_team: legal
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"empty category table": `
default_team: support
sla:
  at_risk_fraction: 0.8
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"zero ceiling": `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
capacity:
  default: {urgent: 0, high: 5, medium: 10, low: 15}
`,
		"bad duration": `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  response: {urgent: soon, high: 4h, medium: 24h, low: 72h}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"non-positive stuck entry": `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
  stuck: {urgent: 0s}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"bad stale fraction": `
default_team: support
category_teams: {question: support}
sla:
  at_risk_fraction: 0.8
  stale_fraction: 1.2
  response: {urgent: 1h, high: 4h, medium: 24h, low: 72h}
capacity:
  default: {urgent: 3, high: 5, medium: 10, low: 15}
`,
		"not yaml": `{{{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().DefaultTeam, policy.DefaultTeam)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))
	policy, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.75, policy.SLA.AtRiskFraction)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedPolicyFileIsValid(t *testing.T) {
	_, err := LoadPolicy(filepath.Join("..", "..", "configs", "policy.yaml"))
	require.NoError(t, err)
}
