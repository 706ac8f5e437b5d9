// Package export writes the loaded ledger to a Google Sheet.
package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// Snapshot is what gets exported: the current contents of the stores.
type Snapshot struct {
	Credits    []core.Credit
	Spendings  []core.Spending
	Categories []core.Category
}

// values is the part of the Sheets values API the exporter needs.
type values interface {
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON []byte
}

type Exporter struct {
	values        values
	spreadsheetID string
	sheet         string
	logger        *log.Logger
}

// New creates a Sheets service from service-account credentials. The sheet
// name is prefixed with the current year, one tab per year.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if len(cfg.CredentialsJSON) == 0 {
		return nil, errors.New("missing service account credentials")
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(cfg.CredentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return newExporter(sheetsValues{svc}, cfg, time.Now().Year(), logger), nil
}

func newExporter(v values, cfg Config, year int, logger *log.Logger) *Exporter {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "fintrack"
	}
	return &Exporter{
		values:        v,
		spreadsheetID: cfg.SpreadsheetID,
		sheet:         yearPrefixedName(base, year),
		logger:        log.OrDiscard(logger).WithComponent(log.ComponentExport),
	}
}

// Sheet returns the name of the tab written to.
func (e *Exporter) Sheet() string {
	return e.sheet
}

// Export replaces the sheet contents with snap and returns the written range.
func (e *Exporter) Export(ctx context.Context, snap Snapshot) (string, error) {
	rows := Rows(snap)
	clearRng := fmt.Sprintf("%s!A:E", e.sheet)
	if err := e.values.Clear(ctx, e.spreadsheetID, clearRng); err != nil {
		return "", fmt.Errorf("clear %s: %w", clearRng, err)
	}
	rng := fmt.Sprintf("%s!A1:E%d", e.sheet, len(rows))
	if err := e.values.Update(ctx, e.spreadsheetID, rng, rows); err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}
	e.logger.InfoContext(ctx, "exported ledger",
		log.FieldOperation, log.OpExport,
		"range", rng,
		"credits", len(snap.Credits),
		"spendings", len(snap.Spendings))
	return rng, nil
}

// Rows lays out the snapshot: a header, every record ordered by date, a
// blank row, per-category spending and the totals.
func Rows(snap Snapshot) [][]any {
	type entry struct {
		date  core.Date
		row   []any
		order int
	}
	names := make(map[int64]string, len(snap.Categories))
	for _, c := range snap.Categories {
		names[c.ID] = c.Name
	}

	entries := make([]entry, 0, len(snap.Credits)+len(snap.Spendings))
	for _, c := range snap.Credits {
		entries = append(entries, entry{
			date:  c.Date,
			row:   []any{c.Date.String(), "income", "", c.Description, c.Amount.Units()},
			order: len(entries),
		})
	}
	for _, s := range snap.Spendings {
		cat, ok := names[s.CategoryID]
		if !ok {
			cat = "?"
		}
		entries = append(entries, entry{
			date:  s.Date,
			row:   []any{s.Date.String(), "expense", cat, s.Description, -s.Amount.Units()},
			order: len(entries),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].date.Before(entries[j].date.Time)
	})

	rows := [][]any{{"Date", "Type", "Category", "Description", "Amount"}}
	for _, e := range entries {
		rows = append(rows, e.row)
	}
	rows = append(rows, []any{})
	for _, ca := range core.SpendingByCategory(snap.Categories, snap.Spendings) {
		rows = append(rows, []any{"", "category", ca.Name, "", -ca.Amount.Units()})
	}
	income := core.SumCredits(snap.Credits)
	expenses := core.SumSpendings(snap.Spendings)
	rows = append(rows,
		[]any{"", "total", "income", "", income.Units()},
		[]any{"", "total", "expenses", "", -expenses.Units()},
		[]any{"", "total", "balance", "", core.Money{Cents: income.Cents - expenses.Cents}.Units()},
	)
	return rows
}

// yearPrefixedName returns "<year> <base>" unless base already starts with
// a four-digit year.
func yearPrefixedName(base string, year int) string {
	if len(base) > 5 && base[4] == ' ' {
		if _, err := strconv.Atoi(base[:4]); err == nil {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

type sheetsValues struct {
	svc *gsheet.Service
}

func (s sheetsValues) Clear(ctx context.Context, spreadsheetID, rng string) error {
	_, err := s.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (s sheetsValues) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	vr := &gsheet.ValueRange{Values: rows}
	_, err := s.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}
