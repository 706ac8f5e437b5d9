package core

import (
	"errors"
	"strings"
	"time"
)

// Resource names one synchronized container. The names double as metric
// labels and as routing values on the invalidation feed.
type Resource string

const (
	ResourceAuth           Resource = "auth"
	ResourceBalance        Resource = "balance"
	ResourceCredit         Resource = "credit"
	ResourceSpending       Resource = "spending"
	ResourceCategory       Resource = "category"
	ResourceGoal           Resource = "goal"
	ResourceCurrentGoal    Resource = "current_goal"
	ResourceRecommendation Resource = "recommendation"
	ResourceReminder       Resource = "reminder"
)

// DataResources returns every session-bound resource, auth excluded.
func DataResources() []Resource {
	return []Resource{
		ResourceBalance,
		ResourceCredit,
		ResourceSpending,
		ResourceCategory,
		ResourceGoal,
		ResourceCurrentGoal,
		ResourceRecommendation,
		ResourceReminder,
	}
}

// IsValid returns true if r is a known resource.
func (r Resource) IsValid() bool {
	if r == ResourceAuth {
		return true
	}
	for _, known := range DataResources() {
		if r == known {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer
func (r Resource) String() string {
	return string(r)
}

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Credit is an income record.
	Credit struct {
		ID          int64  `json:"id"`
		Amount      Money  `json:"amount"`
		Description string `json:"description,omitempty"`
		Date        Date   `json:"date"`
	}

	CreditInput struct {
		Amount      Money  `json:"amount"`
		Description string `json:"description,omitempty"`
		Date        Date   `json:"date"`
	}

	// Spending is an expense record.
	Spending struct {
		ID          int64  `json:"id"`
		Amount      Money  `json:"amount"`
		Description string `json:"description,omitempty"`
		Date        Date   `json:"date"`
		CategoryID  int64  `json:"category_id"`
	}

	SpendingInput struct {
		Amount      Money  `json:"amount"`
		Description string `json:"description,omitempty"`
		Date        Date   `json:"date"`
		CategoryID  int64  `json:"category_id"`
	}

	Category struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Limit Money  `json:"limit"`
		Spent Money  `json:"spent"`
	}

	CategoryInput struct {
		Name  string `json:"name"`
		Limit Money  `json:"limit"`
	}

	// Goal is a savings goal. Saved is maintained by the server from credits.
	Goal struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Target   Money  `json:"target"`
		Saved    Money  `json:"saved"`
		Deadline Date   `json:"deadline"`
	}

	GoalInput struct {
		Name     string `json:"name"`
		Target   Money  `json:"target"`
		Deadline Date   `json:"deadline"`
	}

	Balance struct {
		Total    Money `json:"total"`
		Income   Money `json:"income"`
		Expenses Money `json:"expenses"`
	}

	Recommendation struct {
		ID   int64  `json:"id"`
		Text string `json:"text"`
	}

	Reminder struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		Date  Date   `json:"date"`
	}

	UserInfo struct {
		ID    int64  `json:"id,omitempty"`
		Login string `json:"login"`
		Name  string `json:"name,omitempty"`
	}

	Credentials struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}

	SignupInfo struct {
		Login    string `json:"login"`
		Password string `json:"password"`
		Name     string `json:"name,omitempty"`
	}

	// Session is what survives a process restart: the bearer token and the
	// name shown to the user.
	Session struct {
		Token       string
		DisplayName string
	}
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidTarget     = errors.New("invalid target amount")
	ErrInvalidLimit      = errors.New("invalid limit")
	ErrEmptyName         = errors.New("empty name")
	ErrEmptyLogin        = errors.New("empty login")
	ErrEmptyPassword     = errors.New("empty password")
	ErrMissingCategory   = errors.New("missing category")
	ErrDescriptionLength = errors.New("description too long (max 200 characters)")
	ErrNameLength        = errors.New("name too long (max 100 characters)")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// IsEmpty returns true if the date is zero
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

const dateLayout = "2006-01-02"

// String formats the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return Date{Time: t}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, errors.New("invalid date: " + s)
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

// MarshalJSON writes YYYY-MM-DD, or null for the zero date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func validateDescription(desc string) error {
	if len(desc) > 200 {
		return ErrDescriptionLength
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	if len(name) > 100 {
		return ErrNameLength
	}
	return nil
}

func (in CreditInput) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	return validateDescription(in.Description)
}

func (in SpendingInput) Validate() error {
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if in.CategoryID <= 0 {
		return ErrMissingCategory
	}
	return validateDescription(in.Description)
}

func (in CategoryInput) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if in.Limit.Cents < 0 {
		return ErrInvalidLimit
	}
	return nil
}

func (in GoalInput) Validate() error {
	if err := validateName(in.Name); err != nil {
		return err
	}
	if in.Target.Cents <= 0 {
		return ErrInvalidTarget
	}
	return nil
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Login) == "" {
		return ErrEmptyLogin
	}
	if c.Password == "" {
		return ErrEmptyPassword
	}
	return nil
}

func (s SignupInfo) Validate() error {
	return Credentials{Login: s.Login, Password: s.Password}.Validate()
}

// Progress returns the saved share of the target in percent, capped at 100.
func (g Goal) Progress() float64 {
	if g.Target.Cents <= 0 {
		return 0
	}
	p := float64(g.Saved.Cents) * 100 / float64(g.Target.Cents)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Remaining returns how much is still missing to reach the target.
func (g Goal) Remaining() Money {
	rest := g.Target.Cents - g.Saved.Cents
	if rest < 0 {
		rest = 0
	}
	return Money{Cents: rest}
}

// DisplayName prefers the user's name and falls back to the login.
func (u UserInfo) DisplayName() string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Login
}
