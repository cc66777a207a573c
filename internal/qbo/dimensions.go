package qbo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kzoteam/qbo-bridge/internal/dimensions"
)

const activeWhere = "WHERE Active = true"

func (c *Client) QueryAccounts(ctx context.Context, where string) ([]Account, error) {
	var out []Account
	err := c.paginate(ctx, "Account", where, func(qr *queryResponse) int {
		out = append(out, qr.Account...)
		return len(qr.Account)
	})
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	return out, nil
}

func (c *Client) QueryDepartments(ctx context.Context, where string) ([]Department, error) {
	var out []Department
	err := c.paginate(ctx, "Department", where, func(qr *queryResponse) int {
		out = append(out, qr.Department...)
		return len(qr.Department)
	})
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	return out, nil
}

func (c *Client) QueryClasses(ctx context.Context, where string) ([]Class, error) {
	var out []Class
	err := c.paginate(ctx, "Class", where, func(qr *queryResponse) int {
		out = append(out, qr.Class...)
		return len(qr.Class)
	})
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	return out, nil
}

func (c *Client) QueryVendors(ctx context.Context, where string) ([]Vendor, error) {
	var out []Vendor
	err := c.paginate(ctx, "Vendor", where, func(qr *queryResponse) int {
		out = append(out, qr.Vendor...)
		return len(qr.Vendor)
	})
	if err != nil {
		return nil, fmt.Errorf("query vendors: %w", err)
	}
	return out, nil
}

func (c *Client) QueryPaymentMethods(ctx context.Context, where string) ([]PaymentMethod, error) {
	var out []PaymentMethod
	err := c.paginate(ctx, "PaymentMethod", where, func(qr *queryResponse) int {
		out = append(out, qr.PaymentMethod...)
		return len(qr.PaymentMethod)
	})
	if err != nil {
		return nil, fmt.Errorf("query payment methods: %w", err)
	}
	return out, nil
}

// DimensionSets loads the active entries of every dimension kind for the
// matcher. Hierarchical kinds index by fully qualified name so leaf and
// exact matching both work.
func (c *Client) DimensionSets(ctx context.Context) (dimensions.Sets, error) {
	sets := make(dimensions.Sets)

	accounts, err := c.QueryAccounts(ctx, activeWhere)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		sets[dimensions.KindAccount] = append(sets[dimensions.KindAccount],
			dimensions.Entry{ID: a.ID, Name: qualifiedName(a.FullyQualifiedName, a.Name)})
	}

	departments, err := c.QueryDepartments(ctx, activeWhere)
	if err != nil {
		return nil, err
	}
	for _, d := range departments {
		sets[dimensions.KindLocation] = append(sets[dimensions.KindLocation],
			dimensions.Entry{ID: d.ID, Name: qualifiedName(d.FullyQualifiedName, d.Name)})
	}

	classes, err := c.QueryClasses(ctx, activeWhere)
	if err != nil {
		return nil, err
	}
	for _, cl := range classes {
		sets[dimensions.KindClass] = append(sets[dimensions.KindClass],
			dimensions.Entry{ID: cl.ID, Name: qualifiedName(cl.FullyQualifiedName, cl.Name)})
	}

	vendors, err := c.QueryVendors(ctx, activeWhere)
	if err != nil {
		return nil, err
	}
	for _, v := range vendors {
		sets[dimensions.KindVendor] = append(sets[dimensions.KindVendor],
			dimensions.Entry{ID: v.ID, Name: v.DisplayName})
	}

	methods, err := c.QueryPaymentMethods(ctx, activeWhere)
	if err != nil {
		return nil, err
	}
	for _, m := range methods {
		sets[dimensions.KindPaymentMethod] = append(sets[dimensions.KindPaymentMethod],
			dimensions.Entry{ID: m.ID, Name: m.Name})
	}

	return sets, nil
}

func qualifiedName(fqn, name string) string {
	if fqn != "" {
		return fqn
	}
	return name
}

// MaxJournalDocSeq returns the highest numeric suffix among journal entries
// whose DocNumber starts with prefix. Used to seed the journal counter so
// generated numbers never collide with what the ledger already holds.
func (c *Client) MaxJournalDocSeq(ctx context.Context, prefix string) (int64, error) {
	where := fmt.Sprintf("WHERE DocNumber LIKE '%s%%'", escapeQuery(prefix))
	entries, err := c.QueryJournalEntries(ctx, where)
	if err != nil {
		return 0, err
	}
	var max int64
	for _, je := range entries {
		suffix := strings.TrimPrefix(je.DocNumber, prefix)
		if suffix == je.DocNumber {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max, nil
}
