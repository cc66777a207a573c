package sheets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/kzoteam/qbo-bridge/internal/logger"
)

// Client wraps the Sheets and Drive APIs behind the small surface the
// engines need: ranged reads into Tables, appends, batched row updates and
// tab management. All calls retry rate-limit and server errors with
// exponential backoff.
type Client struct {
	svc   *gsheets.Service
	drive *drive.Service
}

// New creates a Client. credentialsFile may be empty, in which case
// application default credentials are used.
func New(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	drv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create drive service: %w", err)
	}

	return &Client{svc: svc, drive: drv}, nil
}

// ReadTable reads a whole tab and returns it as a header-driven Table.
// An empty tab yields a Table with zero rows and no columns.
func (c *Client) ReadTable(ctx context.Context, spreadsheetID, tab string) (*Table, error) {
	var resp *gsheets.ValueRange
	err := c.withRetry(ctx, "values.get", func() error {
		var err error
		resp, err = c.svc.Spreadsheets.Values.Get(spreadsheetID, quoteTab(tab)).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s!%s: %w", spreadsheetID, tab, err)
	}

	if len(resp.Values) == 0 {
		return NewTable(spreadsheetID, tab, nil, nil), nil
	}

	headers := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		headers[i] = fmt.Sprint(v)
	}
	rows := make([][]string, 0, len(resp.Values)-1)
	for _, raw := range resp.Values[1:] {
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = fmt.Sprint(v)
		}
		rows = append(rows, row)
	}

	return NewTable(spreadsheetID, tab, headers, rows), nil
}

// Append adds rows after the last data row of a tab.
func (c *Client) Append(ctx context.Context, spreadsheetID, tab string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	err := c.withRetry(ctx, "values.append", func() error {
		_, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, quoteTab(tab)+"!A1", &gsheets.ValueRange{
			Values: rows,
		}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheets: append %d rows to %s!%s: %w", len(rows), spreadsheetID, tab, err)
	}
	return nil
}

// RowUpdate replaces the contents of one sheet row starting at column A.
type RowUpdate struct {
	Tab    string
	Row    int // 1-based sheet row
	Values []interface{}
}

// CellUpdate sets a single cell.
type CellUpdate struct {
	Tab   string
	Row   int // 1-based sheet row
	Col   int // 1-based column
	Value interface{}
}

// UpdateRows writes full-row updates in one batch call.
func (c *Client) UpdateRows(ctx context.Context, spreadsheetID string, updates []RowUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*gsheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &gsheets.ValueRange{
			Range:  fmt.Sprintf("%s!A%d", quoteTab(u.Tab), u.Row),
			Values: [][]interface{}{u.Values},
		})
	}
	return c.batchUpdateValues(ctx, spreadsheetID, data)
}

// UpdateCells writes single-cell updates in one batch call.
func (c *Client) UpdateCells(ctx context.Context, spreadsheetID string, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*gsheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &gsheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", quoteTab(u.Tab), ColumnLetter(u.Col), u.Row),
			Values: [][]interface{}{{u.Value}},
		})
	}
	return c.batchUpdateValues(ctx, spreadsheetID, data)
}

func (c *Client) batchUpdateValues(ctx context.Context, spreadsheetID string, data []*gsheets.ValueRange) error {
	err := c.withRetry(ctx, "values.batchUpdate", func() error {
		_, err := c.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, &gsheets.BatchUpdateValuesRequest{
			ValueInputOption: "USER_ENTERED",
			Data:             data,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("sheets: batch update %d ranges in %s: %w", len(data), spreadsheetID, err)
	}
	return nil
}

// EnsureTab creates a tab with the given header row if it does not exist.
// Returns true when the tab was created.
func (c *Client) EnsureTab(ctx context.Context, spreadsheetID, tab string, header []interface{}) (bool, error) {
	var meta *gsheets.Spreadsheet
	err := c.withRetry(ctx, "spreadsheets.get", func() error {
		var err error
		meta, err = c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("sheets: get spreadsheet %s: %w", spreadsheetID, err)
	}

	for _, s := range meta.Sheets {
		if s.Properties != nil && s.Properties.Title == tab {
			return false, nil
		}
	}

	err = c.withRetry(ctx, "spreadsheets.batchUpdate", func() error {
		_, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
			Requests: []*gsheets.Request{{
				AddSheet: &gsheets.AddSheetRequest{
					Properties: &gsheets.SheetProperties{Title: tab},
				},
			}},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("sheets: add tab %q to %s: %w", tab, spreadsheetID, err)
	}

	if len(header) > 0 {
		err = c.withRetry(ctx, "values.update", func() error {
			_, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, quoteTab(tab)+"!A1", &gsheets.ValueRange{
				Values: [][]interface{}{header},
			}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
			return err
		})
		if err != nil {
			return true, fmt.Errorf("sheets: write header for %q in %s: %w", tab, spreadsheetID, err)
		}
	}

	return true, nil
}

// FileExists checks through the Drive API that a spreadsheet file exists and
// is reachable with the current credentials.
func (c *Client) FileExists(ctx context.Context, spreadsheetID string) (bool, error) {
	err := c.withRetry(ctx, "drive.files.get", func() error {
		_, err := c.drive.Files.Get(spreadsheetID).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 404 {
			return false, nil
		}
		return false, fmt.Errorf("sheets: stat file %s: %w", spreadsheetID, err)
	}
	return true, nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("op", op).Msg("Sheets call rate-limited, backing off")
		return err
	}, backoff.WithContext(bo, ctx))
}

func isRetryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 429 || gerr.Code >= 500
	}
	return false
}

func quoteTab(tab string) string {
	return "'" + tab + "'"
}

// ColumnLetter converts a 1-based column number to its A1 letter form.
func ColumnLetter(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}
