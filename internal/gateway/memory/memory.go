// Package memory is an in-process implementation of every gateway port. It
// keeps one ledger per user and derives the balance, goal progress,
// recommendations and reminders the way the server does.
package memory

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/apperr"
	"fintrack/internal/core"
	"fintrack/internal/gateway"
)

type ledger struct {
	credits    []core.Credit
	spendings  []core.Spending
	categories []core.Category
	goals      []core.Goal
	current    int64
}

type account struct {
	user     core.UserInfo
	password string
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	tokens   gateway.TokenSource
	accounts map[string]*account
	sessions map[string]string // token -> login
	ledgers  map[string]*ledger
	seedCats []core.CategoryInput
	nextID   int64
	calls    map[core.Resource]int
	failures map[core.Resource]error
	now      func() time.Time
}

// New creates an empty backend. tokens identifies the caller of
// authenticated operations, normally the auth store.
func New(tokens gateway.TokenSource, seed []core.CategoryInput) *Store {
	if tokens == nil {
		tokens = gateway.StaticToken("")
	}
	return &Store{
		tokens:   tokens,
		accounts: map[string]*account{},
		sessions: map[string]string{},
		ledgers:  map[string]*ledger{},
		seedCats: seed,
		calls:    map[core.Resource]int{},
		failures: map[core.Resource]error{},
		now:      time.Now,
	}
}

// NewFromFiles seeds every new ledger with the categories listed in
// base/seed_categories.txt, one "Name" or "Name;limit" per line.
func NewFromFiles(tokens gateway.TokenSource, base string) *Store {
	var seed []core.CategoryInput
	seen := map[string]struct{}{}
	for _, line := range readLines(filepath.Join(base, "seed_categories.txt")) {
		name, limit, _ := strings.Cut(line, ";")
		in := core.CategoryInput{Name: strings.TrimSpace(name)}
		key := strings.ToLower(in.Name)
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		if limit = strings.TrimSpace(limit); limit != "" {
			if cents, err := core.ParseDecimalToCents(limit); err == nil {
				in.Limit = core.Money{Cents: cents}
			}
		}
		seed = append(seed, in)
	}
	if len(seed) == 0 {
		seed = []core.CategoryInput{{Name: "Продукты"}, {Name: "Транспорт"}, {Name: "Жильё"}}
	}
	return New(tokens, seed)
}

// API returns the ports backed by this store.
func (s *Store) API() *gateway.API {
	return &gateway.API{
		Auth:            authPort{s},
		Balance:         balancePort{s},
		Credits:         creditPort{s},
		Spendings:       spendingPort{s},
		Categories:      categoryPort{s},
		Goals:           goalPort{s},
		CurrentGoal:     currentGoalPort{s},
		Recommendations: recommendationPort{s},
		Reminders:       reminderPort{s},
	}
}

// Fail makes every following call on resource return err; nil clears it.
func (s *Store) Fail(resource core.Resource, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, resource)
		return
	}
	s.failures[resource] = err
}

// Calls reports how many calls reached resource.
func (s *Store) Calls(resource core.Resource) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[resource]
}

// ResetCalls zeroes every call counter.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[core.Resource]int{}
}

// SetClock overrides the time source used for reminders.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Register adds an account directly, returning its user info.
func (s *Store) Register(info core.SignupInfo) (core.UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(info)
}

func (s *Store) registerLocked(info core.SignupInfo) (core.UserInfo, error) {
	if err := info.Validate(); err != nil {
		return core.UserInfo{}, &apperr.RemoteError{Message: err.Error(), Status: http.StatusBadRequest}
	}
	if _, ok := s.accounts[info.Login]; ok {
		return core.UserInfo{}, &apperr.RemoteError{Message: "user already exists", Status: http.StatusConflict}
	}
	s.nextID++
	u := core.UserInfo{ID: s.nextID, Login: info.Login, Name: info.Name}
	s.accounts[info.Login] = &account{user: u, password: info.Password}
	return u, nil
}

// enter counts the call, applies injected failures and, when auth is true,
// resolves the caller's ledger. The caller must hold s.mu.
func (s *Store) enter(resource core.Resource, auth bool) (*ledger, error) {
	s.calls[resource]++
	if err := s.failures[resource]; err != nil {
		return nil, err
	}
	if !auth {
		return nil, nil
	}
	login, ok := s.sessions[s.tokens.Token()]
	if !ok {
		return nil, &apperr.RemoteError{Message: "invalid token", Status: http.StatusUnauthorized}
	}
	l, ok := s.ledgers[login]
	if !ok {
		l = &ledger{}
		for _, in := range s.seedCats {
			s.nextID++
			l.categories = append(l.categories, core.Category{ID: s.nextID, Name: in.Name, Limit: in.Limit})
		}
		s.ledgers[login] = l
	}
	return l, nil
}

func notFound(what string) error {
	return &apperr.RemoteError{Message: what + " not found", Status: http.StatusNotFound}
}

func badRequest(err error) error {
	return &apperr.RemoteError{Message: err.Error(), Status: http.StatusBadRequest}
}

func (l *ledger) balance() core.Balance {
	income := core.SumCredits(l.credits)
	expenses := core.SumSpendings(l.spendings)
	return core.Balance{
		Total:    core.Money{Cents: income.Cents - expenses.Cents},
		Income:   income,
		Expenses: expenses,
	}
}

// Saved amounts follow the balance: whatever is left after expenses counts
// toward the current goal.
func (l *ledger) goalsView() []core.Goal {
	saved := l.balance().Total.Cents
	if saved < 0 {
		saved = 0
	}
	out := make([]core.Goal, len(l.goals))
	copy(out, l.goals)
	for i := range out {
		out[i].Saved = core.Money{}
		if out[i].ID == l.current {
			out[i].Saved = core.Money{Cents: min(saved, out[i].Target.Cents)}
		}
	}
	return out
}

func (l *ledger) categoriesView() []core.Category {
	spent := map[int64]int64{}
	for _, sp := range l.spendings {
		spent[sp.CategoryID] += sp.Amount.Cents
	}
	out := make([]core.Category, len(l.categories))
	copy(out, l.categories)
	for i := range out {
		out[i].Spent = core.Money{Cents: spent[out[i].ID]}
	}
	return out
}

func (l *ledger) currentGoal() (core.Goal, bool) {
	for _, g := range l.goalsView() {
		if g.ID == l.current {
			return g, true
		}
	}
	return core.Goal{}, false
}

func (l *ledger) recommendations() []core.Recommendation {
	var out []core.Recommendation
	add := func(text string) {
		out = append(out, core.Recommendation{ID: int64(len(out) + 1), Text: text})
	}
	b := l.balance()
	if b.Total.Cents < 0 {
		add(fmt.Sprintf("Расходы превышают доходы на %s. Сократите траты", core.Money{Cents: -b.Total.Cents}))
	}
	for _, c := range l.categoriesView() {
		if c.Limit.Cents > 0 && c.Spent.Cents > c.Limit.Cents {
			add(fmt.Sprintf("Категория «%s»: лимит превышен на %s", c.Name, core.Money{Cents: c.Spent.Cents - c.Limit.Cents}))
		}
	}
	if g, ok := l.currentGoal(); ok && g.Remaining().Cents > 0 {
		add(fmt.Sprintf("До цели «%s» осталось %s", g.Name, g.Remaining()))
	}
	if len(l.goals) == 0 {
		add("Поставьте финансовую цель, чтобы отслеживать накопления")
	}
	if out == nil {
		out = []core.Recommendation{}
	}
	return out
}

func (l *ledger) reminders(now time.Time) []core.Reminder {
	today := core.NewDate(now.Year(), int(now.Month()), now.Day())
	horizon := today.AddDate(0, 0, 30)
	out := []core.Reminder{}
	for _, g := range l.goalsView() {
		if g.Deadline.IsEmpty() || g.Saved.Cents >= g.Target.Cents {
			continue
		}
		if g.Deadline.Before(today.Time) || g.Deadline.After(horizon) {
			continue
		}
		out = append(out, core.Reminder{
			ID:    g.ID,
			Title: fmt.Sprintf("Срок цели «%s»: осталось накопить %s", g.Name, g.Remaining()),
			Date:  g.Deadline,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) newToken() string {
	return uuid.NewString()
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
