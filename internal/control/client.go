package control

import (
	"context"
	"fmt"
	"strings"

	"github.com/kzoteam/qbo-bridge/internal/sheets"
)

// Client is one onboarded company: a row of the master workbook. Name and
// Country identify it, SpreadsheetID points at its control workbook, RealmID
// and RefreshToken authenticate its ledger company.
type Client struct {
	Row int

	Name          string
	Country       string
	SpreadsheetID string
	RealmID       string
	RefreshToken  string
	Status        string

	tokenCol int // 1-based column of the Refresh Token cell, 0 when absent
}

// Active reports whether the client participates in sweeps.
func (c Client) Active() bool {
	return strings.EqualFold(c.Status, "active")
}

// Registry reads the master workbook and persists rotated refresh tokens
// back to it.
type Registry struct {
	sheets        SheetService
	spreadsheetID string
	tab           string
}

func NewRegistry(s SheetService, spreadsheetID, tab string) *Registry {
	return &Registry{sheets: s, spreadsheetID: spreadsheetID, tab: tab}
}

// Clients loads every client row, in sheet order.
func (r *Registry) Clients(ctx context.Context) ([]Client, error) {
	t, err := r.sheets.ReadTable(ctx, r.spreadsheetID, r.tab)
	if err != nil {
		return nil, fmt.Errorf("control: read master tab: %w", err)
	}
	for _, col := range []string{"Client Name", "Spreadsheet ID", "Realm ID"} {
		if !t.HasColumn(col) {
			return nil, fmt.Errorf("control: master tab %q: missing required column %q", r.tab, col)
		}
	}

	tokenCol := 0
	if i, ok := t.Col("Refresh Token"); ok {
		tokenCol = i + 1
	}

	out := make([]Client, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		name := t.Cell(i, "Client Name")
		if name == "" {
			continue
		}
		out = append(out, Client{
			Row:           t.SheetRow(i),
			Name:          name,
			Country:       t.Cell(i, "Country"),
			SpreadsheetID: t.Cell(i, "Spreadsheet ID"),
			RealmID:       t.Cell(i, "Realm ID"),
			RefreshToken:  t.Cell(i, "Refresh Token"),
			Status:        t.Cell(i, "Status"),
			tokenCol:      tokenCol,
		})
	}
	return out, nil
}

// ActiveClients loads only the clients participating in sweeps.
func (r *Registry) ActiveClients(ctx context.Context) ([]Client, error) {
	all, err := r.Clients(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Active() {
			out = append(out, c)
		}
	}
	return out, nil
}

// SaveRefreshToken writes a rotated refresh token back to the client's
// master row so the next run authenticates with it.
func (r *Registry) SaveRefreshToken(ctx context.Context, c Client, token string) error {
	if c.tokenCol == 0 {
		return fmt.Errorf("control: master tab %q has no Refresh Token column", r.tab)
	}
	err := r.sheets.UpdateCells(ctx, r.spreadsheetID, []sheets.CellUpdate{
		{Tab: r.tab, Row: c.Row, Col: c.tokenCol, Value: token},
	})
	if err != nil {
		return fmt.Errorf("control: save refresh token for %s: %w", c.Name, err)
	}
	return nil
}
