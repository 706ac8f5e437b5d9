package memory

import (
	"context"
	"net/http"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
)

type authPort struct{ s *Store }

func (p authPort) Login(_ context.Context, creds core.Credentials) (gateway.LoginResult, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.enter(core.ResourceAuth, false); err != nil {
		return gateway.LoginResult{}, err
	}
	acc, ok := s.accounts[creds.Login]
	if !ok || acc.password != creds.Password {
		return gateway.LoginResult{}, &apperr.RemoteError{Message: "forbidden", Status: http.StatusForbidden}
	}
	tok := s.newToken()
	s.sessions[tok] = acc.user.Login
	return gateway.LoginResult{Token: tok, User: acc.user}, nil
}

func (p authPort) Signup(_ context.Context, info core.SignupInfo) (core.UserInfo, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.enter(core.ResourceAuth, false); err != nil {
		return core.UserInfo{}, err
	}
	return s.registerLocked(info)
}

func (p authPort) Logout(ctx context.Context) error {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.enter(core.ResourceAuth, false); err != nil {
		return err
	}
	delete(s.sessions, gateway.ResolveToken(ctx, s.tokens))
	return nil
}

type balancePort struct{ s *Store }

func (p balancePort) Get(_ context.Context) (core.Balance, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceBalance, true)
	if err != nil {
		return core.Balance{}, err
	}
	return l.balance(), nil
}

type creditPort struct{ s *Store }

func (p creditPort) List(_ context.Context) ([]core.Credit, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCredit, true)
	if err != nil {
		return nil, err
	}
	return append([]core.Credit{}, l.credits...), nil
}

func (p creditPort) Create(_ context.Context, in core.CreditInput) (core.Credit, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCredit, true)
	if err != nil {
		return core.Credit{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Credit{}, badRequest(err)
	}
	c := core.Credit{ID: p.s.newID(), Amount: in.Amount, Description: in.Description, Date: in.Date}
	l.credits = append(l.credits, c)
	return c, nil
}

func (p creditPort) Update(_ context.Context, id int64, in core.CreditInput) (core.Credit, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCredit, true)
	if err != nil {
		return core.Credit{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Credit{}, badRequest(err)
	}
	for i := range l.credits {
		if l.credits[i].ID == id {
			l.credits[i] = core.Credit{ID: id, Amount: in.Amount, Description: in.Description, Date: in.Date}
			return l.credits[i], nil
		}
	}
	return core.Credit{}, notFound("credit")
}

func (p creditPort) Delete(_ context.Context, id int64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCredit, true)
	if err != nil {
		return err
	}
	for i := range l.credits {
		if l.credits[i].ID == id {
			l.credits = append(l.credits[:i], l.credits[i+1:]...)
			return nil
		}
	}
	return notFound("credit")
}

type spendingPort struct{ s *Store }

func (p spendingPort) List(_ context.Context) ([]core.Spending, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceSpending, true)
	if err != nil {
		return nil, err
	}
	return append([]core.Spending{}, l.spendings...), nil
}

func (l *ledger) hasCategory(id int64) bool {
	for _, c := range l.categories {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (p spendingPort) Create(_ context.Context, in core.SpendingInput) (core.Spending, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceSpending, true)
	if err != nil {
		return core.Spending{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Spending{}, badRequest(err)
	}
	if !l.hasCategory(in.CategoryID) {
		return core.Spending{}, notFound("category")
	}
	sp := core.Spending{ID: p.s.newID(), Amount: in.Amount, Description: in.Description, Date: in.Date, CategoryID: in.CategoryID}
	l.spendings = append(l.spendings, sp)
	return sp, nil
}

func (p spendingPort) Update(_ context.Context, id int64, in core.SpendingInput) (core.Spending, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceSpending, true)
	if err != nil {
		return core.Spending{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Spending{}, badRequest(err)
	}
	if !l.hasCategory(in.CategoryID) {
		return core.Spending{}, notFound("category")
	}
	for i := range l.spendings {
		if l.spendings[i].ID == id {
			l.spendings[i] = core.Spending{ID: id, Amount: in.Amount, Description: in.Description, Date: in.Date, CategoryID: in.CategoryID}
			return l.spendings[i], nil
		}
	}
	return core.Spending{}, notFound("spending")
}

func (p spendingPort) Delete(_ context.Context, id int64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceSpending, true)
	if err != nil {
		return err
	}
	for i := range l.spendings {
		if l.spendings[i].ID == id {
			l.spendings = append(l.spendings[:i], l.spendings[i+1:]...)
			return nil
		}
	}
	return notFound("spending")
}

type categoryPort struct{ s *Store }

func (p categoryPort) List(_ context.Context) ([]core.Category, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCategory, true)
	if err != nil {
		return nil, err
	}
	return l.categoriesView(), nil
}

func (l *ledger) categoryNameTaken(name string, except int64) bool {
	for _, c := range l.categories {
		if c.ID != except && equalFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (p categoryPort) Create(_ context.Context, in core.CategoryInput) (core.Category, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCategory, true)
	if err != nil {
		return core.Category{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Category{}, badRequest(err)
	}
	if l.categoryNameTaken(in.Name, 0) {
		return core.Category{}, &apperr.RemoteError{Message: "category already exists", Status: http.StatusConflict}
	}
	c := core.Category{ID: p.s.newID(), Name: in.Name, Limit: in.Limit}
	l.categories = append(l.categories, c)
	return c, nil
}

func (p categoryPort) Update(_ context.Context, id int64, in core.CategoryInput) (core.Category, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCategory, true)
	if err != nil {
		return core.Category{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Category{}, badRequest(err)
	}
	if l.categoryNameTaken(in.Name, id) {
		return core.Category{}, &apperr.RemoteError{Message: "category already exists", Status: http.StatusConflict}
	}
	for i := range l.categories {
		if l.categories[i].ID == id {
			l.categories[i].Name = in.Name
			l.categories[i].Limit = in.Limit
			for _, c := range l.categoriesView() {
				if c.ID == id {
					return c, nil
				}
			}
		}
	}
	return core.Category{}, notFound("category")
}

func (p categoryPort) Delete(_ context.Context, id int64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCategory, true)
	if err != nil {
		return err
	}
	for _, sp := range l.spendings {
		if sp.CategoryID == id {
			return &apperr.RemoteError{Message: "category has spendings", Status: http.StatusConflict}
		}
	}
	for i := range l.categories {
		if l.categories[i].ID == id {
			l.categories = append(l.categories[:i], l.categories[i+1:]...)
			return nil
		}
	}
	return notFound("category")
}

type goalPort struct{ s *Store }

func (p goalPort) List(_ context.Context) ([]core.Goal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceGoal, true)
	if err != nil {
		return nil, err
	}
	return l.goalsView(), nil
}

func (p goalPort) Create(_ context.Context, in core.GoalInput) (core.Goal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceGoal, true)
	if err != nil {
		return core.Goal{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Goal{}, badRequest(err)
	}
	g := core.Goal{ID: p.s.newID(), Name: in.Name, Target: in.Target, Deadline: in.Deadline}
	l.goals = append(l.goals, g)
	// The first goal becomes current.
	if l.current == 0 {
		l.current = g.ID
	}
	return l.find(g.ID), nil
}

func (l *ledger) find(id int64) core.Goal {
	for _, g := range l.goalsView() {
		if g.ID == id {
			return g
		}
	}
	return core.Goal{}
}

func (p goalPort) Update(_ context.Context, id int64, in core.GoalInput) (core.Goal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceGoal, true)
	if err != nil {
		return core.Goal{}, err
	}
	if err := in.Validate(); err != nil {
		return core.Goal{}, badRequest(err)
	}
	for i := range l.goals {
		if l.goals[i].ID == id {
			l.goals[i].Name = in.Name
			l.goals[i].Target = in.Target
			l.goals[i].Deadline = in.Deadline
			return l.find(id), nil
		}
	}
	return core.Goal{}, notFound("goal")
}

func (p goalPort) Delete(_ context.Context, id int64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceGoal, true)
	if err != nil {
		return err
	}
	for i := range l.goals {
		if l.goals[i].ID == id {
			l.goals = append(l.goals[:i], l.goals[i+1:]...)
			if l.current == id {
				l.current = 0
			}
			return nil
		}
	}
	return notFound("goal")
}

type currentGoalPort struct{ s *Store }

func (p currentGoalPort) Get(_ context.Context) (core.Goal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCurrentGoal, true)
	if err != nil {
		return core.Goal{}, err
	}
	g, ok := l.currentGoal()
	if !ok {
		return core.Goal{}, &apperr.RemoteError{Message: "no current goal found", Status: http.StatusNotFound}
	}
	return g, nil
}

func (p currentGoalPort) Select(_ context.Context, goalID int64) (core.Goal, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceCurrentGoal, true)
	if err != nil {
		return core.Goal{}, err
	}
	for _, g := range l.goals {
		if g.ID == goalID {
			l.current = goalID
			return l.find(goalID), nil
		}
	}
	return core.Goal{}, notFound("goal")
}

type recommendationPort struct{ s *Store }

func (p recommendationPort) List(_ context.Context) ([]core.Recommendation, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceRecommendation, true)
	if err != nil {
		return nil, err
	}
	return l.recommendations(), nil
}

type reminderPort struct{ s *Store }

func (p reminderPort) List(_ context.Context) ([]core.Reminder, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	l, err := p.s.enter(core.ResourceReminder, true)
	if err != nil {
		return nil, err
	}
	return l.reminders(p.s.now()), nil
}
