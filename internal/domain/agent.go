package domain

import "time"

// Agent is a human who can be assigned queries. Capacity holds per-priority
// ceilings that override the team and default policy.
type Agent struct {
	ID        string
	Name      string
	Email     string
	Team      Team
	Active    bool
	Capacity  map[Priority]int
	CreatedAt time.Time
}

// AgentLoad is a point-in-time snapshot of an agent's active tickets.
type AgentLoad struct {
	Agent         Agent
	ActiveTickets int
	ByPriority    map[Priority]int
}
