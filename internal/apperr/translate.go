package apperr

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var catalogYAML []byte

type genericMessages struct {
	Client          string `yaml:"client"`
	Unavailable     string `yaml:"unavailable"`
	Unauthenticated string `yaml:"unauthenticated"`
	SessionExpired  string `yaml:"session_expired"`
}

type domainMessages struct {
	Status   map[int]string    `yaml:"status"`
	Messages map[string]string `yaml:"messages"`
	Absence  []string          `yaml:"absence"`
}

type messageCatalog struct {
	Generic    genericMessages           `yaml:"generic"`
	Validation map[string]string         `yaml:"validation"`
	Domains    map[string]domainMessages `yaml:"domains"`
}

var (
	catalogOnce sync.Once
	loaded      *messageCatalog
)

func catalog() *messageCatalog {
	catalogOnce.Do(func() {
		c, err := parseCatalog(catalogYAML)
		if err != nil {
			// The catalog is compiled in; a parse failure is a build defect.
			panic(fmt.Sprintf("apperr: embedded catalog: %v", err))
		}
		loaded = c
	})
	return loaded
}

func parseCatalog(data []byte) (*messageCatalog, error) {
	var c messageCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Generic.Client == "" || c.Generic.Unavailable == "" {
		return nil, errors.New("generic messages missing")
	}
	return &c, nil
}

type rule struct {
	match   string
	message string
}

// Translator maps raw failures of one domain to Info values.
type Translator struct {
	domain   string
	generic  genericMessages
	rules    []rule
	valid    []rule
	status   map[int]string
	absences []string
}

// NewTranslator returns the translator for a domain ("auth", "credit", ...).
// Unknown domains fall back to the generic messages only.
func NewTranslator(domain string) *Translator {
	c := catalog()
	d := c.Domains[domain]
	t := &Translator{
		domain:  domain,
		generic: c.Generic,
		rules:   toRules(d.Messages),
		valid:   toRules(c.Validation),
		status:  d.Status,
	}
	for _, a := range d.Absence {
		t.absences = append(t.absences, strings.ToLower(a))
	}
	return t
}

// Longer patterns first so "category not found" wins over "not found".
func toRules(m map[string]string) []rule {
	out := make([]rule, 0, len(m))
	for k, v := range m {
		out = append(out, rule{match: strings.ToLower(k), message: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].match) != len(out[j].match) {
			return len(out[i].match) > len(out[j].match)
		}
		return out[i].match < out[j].match
	})
	return out
}

// Domain returns the translator's domain name.
func (t *Translator) Domain() string {
	return t.domain
}

// Translate converts err into an Info. A nil error yields nil and an Info
// passes through unchanged.
func (t *Translator) Translate(err error) *Info {
	if err == nil {
		return nil
	}
	if info, ok := As(err); ok {
		return info
	}

	var remote *RemoteError
	if errors.As(err, &remote) {
		return t.translateRemote(remote)
	}

	var transport *TransportError
	if errors.As(err, &transport) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Info{Message: t.generic.Unavailable, Status: http.StatusInternalServerError, Kind: KindTransport}
	}

	// Local input validation.
	if msg, ok := lookup(t.valid, err.Error()); ok {
		return &Info{Message: msg, Status: http.StatusBadRequest, Kind: KindClient}
	}

	return &Info{Message: t.generic.Unavailable, Status: http.StatusInternalServerError, Kind: KindServer}
}

func (t *Translator) translateRemote(e *RemoteError) *Info {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	kind := KindServer
	if status >= 400 && status < 500 {
		kind = KindClient
	}

	if t.isAbsence(e.Message) {
		return &Info{Message: e.Message, Status: status, Kind: KindAbsence}
	}
	if msg, ok := lookup(t.rules, e.Message); ok {
		return &Info{Message: msg, Status: status, Kind: kind}
	}
	if msg, ok := t.status[status]; ok {
		return &Info{Message: msg, Status: status, Kind: kind}
	}
	if status == http.StatusUnauthorized {
		return &Info{Message: t.generic.SessionExpired, Status: status, Kind: KindUnauthenticated}
	}
	if kind == KindClient {
		return &Info{Message: t.generic.Client, Status: status, Kind: kind}
	}
	return &Info{Message: t.generic.Unavailable, Status: status, Kind: kind}
}

// IsAbsence reports whether err is this domain's "nothing exists yet" answer.
func (t *Translator) IsAbsence(err error) bool {
	if info, ok := As(err); ok {
		return info.Kind == KindAbsence
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return t.isAbsence(remote.Message)
	}
	return false
}

func (t *Translator) isAbsence(msg string) bool {
	msg = strings.ToLower(msg)
	for _, a := range t.absences {
		if strings.Contains(msg, a) {
			return true
		}
	}
	return false
}

func lookup(rules []rule, msg string) (string, bool) {
	msg = strings.ToLower(strings.TrimSpace(msg))
	if msg == "" {
		return "", false
	}
	for _, r := range rules {
		if strings.Contains(msg, r.match) {
			return r.message, true
		}
	}
	return "", false
}
