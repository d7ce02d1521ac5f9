package sheet

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"restaurant_ops/pkg/apperr"
)

const valueInputRaw = "RAW"

var ErrNoCredentials = apperr.Unauthenticated("no google credentials: sign in first")

type GoogleOptions struct {
	SpreadsheetID   string
	OAuth           *oauth2.Config
	CredentialsFile string
	// TokenFromContext returns the signed-in user's token for the request.
	TokenFromContext func(ctx context.Context) (*oauth2.Token, bool)
	// ClientOptions are added to every service, e.g. a different endpoint.
	ClientOptions []option.ClientOption
}

// GoogleStore talks to a Google spreadsheet with the caller's OAuth token,
// falling back to a service account when one is configured.
type GoogleStore struct {
	opts GoogleOptions

	mu       sync.Mutex
	sheetIDs map[string]int64
}

func NewGoogleStore(opts GoogleOptions) *GoogleStore {
	return &GoogleStore{opts: opts, sheetIDs: make(map[string]int64)}
}

func (g *GoogleStore) service(ctx context.Context) (*sheets.Service, error) {
	if g.opts.TokenFromContext != nil && g.opts.OAuth != nil {
		if tok, ok := g.opts.TokenFromContext(ctx); ok {
			opts := append([]option.ClientOption{option.WithTokenSource(g.opts.OAuth.TokenSource(ctx, tok))}, g.opts.ClientOptions...)
			return sheets.NewService(ctx, opts...)
		}
	}
	if g.opts.CredentialsFile != "" {
		opts := append([]option.ClientOption{
			option.WithCredentialsFile(g.opts.CredentialsFile),
			option.WithScopes(sheets.SpreadsheetsScope),
		}, g.opts.ClientOptions...)
		return sheets.NewService(ctx, opts...)
	}
	return nil, ErrNoCredentials
}

func (g *GoogleStore) Get(ctx context.Context, rng string) ([][]string, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Spreadsheets.Values.Get(g.opts.SpreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rng, err)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func (g *GoogleStore) Append(ctx context.Context, rng string, rows [][]string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	_, err = svc.Spreadsheets.Values.Append(g.opts.SpreadsheetID, rng, &sheets.ValueRange{Values: toValues(rows)}).
		ValueInputOption(valueInputRaw).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %s: %w", rng, err)
	}
	return nil
}

func (g *GoogleStore) Update(ctx context.Context, rng string, rows [][]string) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	_, err = svc.Spreadsheets.Values.Update(g.opts.SpreadsheetID, rng, &sheets.ValueRange{Values: toValues(rows)}).
		ValueInputOption(valueInputRaw).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (g *GoogleStore) BatchUpdate(ctx context.Context, data []ValueRange) error {
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: valueInputRaw}
	for _, vr := range data {
		req.Data = append(req.Data, &sheets.ValueRange{Range: vr.Range, Values: toValues(vr.Values)})
	}
	if _, err := svc.Spreadsheets.Values.BatchUpdate(g.opts.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch update: %w", err)
	}
	return nil
}

func (g *GoogleStore) DeleteRows(ctx context.Context, sheet string, start, end int) error {
	if start < 0 || end <= start {
		return apperr.Validation(fmt.Sprintf("delete rows %s: invalid span [%d,%d)", sheet, start, end))
	}
	svc, err := g.service(ctx)
	if err != nil {
		return err
	}
	sheetID, err := g.sheetID(ctx, svc, sheet)
	if err != nil {
		return err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		DeleteDimension: &sheets.DeleteDimensionRequest{Range: &sheets.DimensionRange{
			SheetId:         sheetID,
			Dimension:       "ROWS",
			StartIndex:      int64(start),
			EndIndex:        int64(end),
			ForceSendFields: []string{"SheetId", "StartIndex"},
		}},
	}}}
	if _, err := svc.Spreadsheets.BatchUpdate(g.opts.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete rows %s: %w", sheet, err)
	}
	return nil
}

// sheetID resolves a sheet title to its numeric id. Ids never change for a
// title, so lookups are cached.
func (g *GoogleStore) sheetID(ctx context.Context, svc *sheets.Service, title string) (int64, error) {
	g.mu.Lock()
	id, ok := g.sheetIDs[title]
	g.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := svc.Spreadsheets.Get(g.opts.SpreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("load spreadsheet: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			g.sheetIDs[s.Properties.Title] = s.Properties.SheetId
		}
	}
	id, ok = g.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("sheet %q not found", title)
	}
	return id, nil
}

func toValues(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		out[i] = make([]interface{}, len(row))
		for j, v := range row {
			out[i][j] = v
		}
	}
	return out
}
