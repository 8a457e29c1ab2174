package service

import (
	"github.com/supportdesk/triage-service/internal/config"
	"github.com/supportdesk/triage-service/internal/domain"
)

// TeamDirector maps a classification to the responsible team.
type TeamDirector struct {
	defaultTeam   domain.Team
	categoryTeams map[domain.QueryCategory]domain.Team
	tagRoutes     []config.TagRoute
}

// NewTeamDirector builds a director from a validated policy.
func NewTeamDirector(policy config.Policy) *TeamDirector {
	return &TeamDirector{
		defaultTeam:   policy.DefaultTeam,
		categoryTeams: policy.CategoryTeams,
		tagRoutes:     policy.TagRoutes,
	}
}

// TeamFor is the total category mapping. Unmapped categories go to the default team.
func (d *TeamDirector) TeamFor(category domain.QueryCategory) domain.Team {
	if team, ok := d.categoryTeams[category]; ok {
		return team
	}
	return d.defaultTeam
}

// Route picks the team for a query: the first tag route that matches any of
// tags wins, then the category table. A nil category routes to the default team.
func (d *TeamDirector) Route(category *domain.QueryCategory, tags []string) domain.Team {
	for _, route := range d.tagRoutes {
		for _, want := range route.Tags {
			for _, tag := range tags {
				if tag == want {
					return route.Team
				}
			}
		}
	}
	if category == nil {
		return d.defaultTeam
	}
	return d.TeamFor(*category)
}
