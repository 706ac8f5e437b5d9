package store

import (
	"fintrack/internal/core"
	"fintrack/internal/gateway"
)

type (
	Balance         = Store[core.Balance]
	Recommendations = Store[[]core.Recommendation]
	Reminders       = Store[[]core.Reminder]
	Credits         = Mutable[[]core.Credit, core.Credit, core.CreditInput]
	Spendings       = Mutable[[]core.Spending, core.Spending, core.SpendingInput]
	Categories      = Mutable[[]core.Category, core.Category, core.CategoryInput]
	Goals           = Mutable[[]core.Goal, core.Goal, core.GoalInput]
)

// Set holds one store per data resource.
type Set struct {
	Balance         *Balance
	Credits         *Credits
	Spendings       *Spendings
	Categories      *Categories
	Goals           *Goals
	CurrentGoal     *CurrentGoal
	Recommendations *Recommendations
	Reminders       *Reminders
}

// NewSet builds every data store over api.
func NewSet(api *gateway.API, opts ...Option) *Set {
	return &Set{
		Balance:         New(core.ResourceBalance, api.Balance.Get, opts...),
		Credits:         NewCollection(core.ResourceCredit, api.Credits, opts...),
		Spendings:       NewCollection(core.ResourceSpending, api.Spendings, opts...),
		Categories:      NewCollection(core.ResourceCategory, api.Categories, opts...),
		Goals:           NewCollection(core.ResourceGoal, api.Goals, opts...),
		CurrentGoal:     NewCurrentGoal(api.CurrentGoal, opts...),
		Recommendations: New(core.ResourceRecommendation, api.Recommendations.List, opts...),
		Reminders:       New(core.ResourceReminder, api.Reminders.List, opts...),
	}
}

// All returns the stores in resource order.
func (s *Set) All() []Refreshable {
	return []Refreshable{
		s.Balance,
		s.Credits,
		s.Spendings,
		s.Categories,
		s.Goals,
		s.CurrentGoal,
		s.Recommendations,
		s.Reminders,
	}
}

// ByResource indexes the stores by name.
func (s *Set) ByResource() map[core.Resource]Refreshable {
	out := make(map[core.Resource]Refreshable, 8)
	for _, r := range s.All() {
		out[r.Name()] = r
	}
	return out
}
