package domain

// Team is a routing destination owning a set of agents.
type Team string

const (
	TeamSupport     Team = "support"
	TeamEngineering Team = "engineering"
	TeamSales       Team = "sales"
	TeamFinance     Team = "finance"
)

// Teams lists every team.
var Teams = []Team{TeamSupport, TeamEngineering, TeamSales, TeamFinance}

// Valid reports whether t is a known team.
func (t Team) Valid() bool {
	for _, known := range Teams {
		if t == known {
			return true
		}
	}
	return false
}
