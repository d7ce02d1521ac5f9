package sheet_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"restaurant_ops/pkg/apperr"
	"restaurant_ops/pkg/sheet"
)

type recordedCall struct {
	Method string
	Path   string
	Query  url.Values
	Auth   string
	Body   map[string]interface{}
}

type fakeSheets struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := recordedCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Auth: r.Header.Get("Authorization")}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &call.Body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/sheet-1":
		_, _ = io.WriteString(w, `{"sheets":[
			{"properties":{"title":"Reservations","sheetId":0}},
			{"properties":{"title":"Inventory","sheetId":42}}]}`)
	case r.Method == http.MethodGet:
		_, _ = io.WriteString(w, `{"range":"Reservations!A1:B2","majorDimension":"ROWS","values":[["id","guests"],["r1",4]]}`)
	default:
		_, _ = io.WriteString(w, `{}`)
	}
}

func (f *fakeSheets) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeSheets) last() recordedCall {
	calls := f.recorded()
	return calls[len(calls)-1]
}

type tokenKey struct{}

func withUserToken(ctx context.Context, access string) context.Context {
	return context.WithValue(ctx, tokenKey{}, &oauth2.Token{AccessToken: access, TokenType: "Bearer"})
}

func userToken(ctx context.Context) (*oauth2.Token, bool) {
	tok, ok := ctx.Value(tokenKey{}).(*oauth2.Token)
	return tok, ok
}

func setupGoogleStore(t *testing.T) (*sheet.GoogleStore, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store := sheet.NewGoogleStore(sheet.GoogleOptions{
		SpreadsheetID:    "sheet-1",
		OAuth:            &oauth2.Config{ClientID: "client", Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"}},
		CredentialsFile:  "/nonexistent/service-account.json",
		TokenFromContext: userToken,
		ClientOptions:    []option.ClientOption{option.WithEndpoint(srv.URL + "/")},
	})
	return store, fake
}

func TestGoogleStoreGet(t *testing.T) {
	store, fake := setupGoogleStore(t)
	ctx := withUserToken(context.Background(), "user-token")

	rows, err := store.Get(ctx, "Reservations!A1:B2")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "guests"}, {"r1", "4"}}, rows)

	call := fake.last()
	assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Reservations!A1:B2", call.Path)
	assert.Equal(t, "Bearer user-token", call.Auth, "the signed-in user's token wins over the service account")
}

func TestGoogleStoreWithoutCredentials(t *testing.T) {
	store := sheet.NewGoogleStore(sheet.GoogleOptions{
		SpreadsheetID:    "sheet-1",
		OAuth:            &oauth2.Config{ClientID: "client"},
		TokenFromContext: userToken,
	})

	_, err := store.Get(context.Background(), "Reservations!A:N")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
	assert.Equal(t, http.StatusUnauthorized, apperr.Status(err))
}

func TestGoogleStoreWrites(t *testing.T) {
	store, fake := setupGoogleStore(t)
	ctx := withUserToken(context.Background(), "user-token")

	require.NoError(t, store.Append(ctx, "Recipes!A:B", [][]string{{"r1", "Tagine"}}))
	call := fake.last()
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Recipes!A:B:append", call.Path)
	assert.Equal(t, "RAW", call.Query.Get("valueInputOption"))
	assert.Equal(t, "INSERT_ROWS", call.Query.Get("insertDataOption"))
	assert.Equal(t, []interface{}{[]interface{}{"r1", "Tagine"}}, call.Body["values"])

	require.NoError(t, store.Update(ctx, "Reservations!I5", [][]string{{"confirmed"}}))
	call = fake.last()
	assert.Equal(t, http.MethodPut, call.Method)
	assert.Equal(t, "/v4/spreadsheets/sheet-1/values/Reservations!I5", call.Path)
	assert.Equal(t, "RAW", call.Query.Get("valueInputOption"))

	require.NoError(t, store.BatchUpdate(ctx, []sheet.ValueRange{
		{Range: "Reservations!I5", Values: [][]string{{"confirmed"}}},
		{Range: "Reservations!M5", Values: [][]string{{"queued"}}},
	}))
	call = fake.last()
	assert.Equal(t, "/v4/spreadsheets/sheet-1/values:batchUpdate", call.Path)
	assert.Equal(t, "RAW", call.Body["valueInputOption"])
	data, ok := call.Body["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, data, 2)
	assert.Equal(t, "Reservations!M5", data[1].(map[string]interface{})["range"])
}

func TestGoogleStoreDeleteRows(t *testing.T) {
	store, fake := setupGoogleStore(t)
	ctx := withUserToken(context.Background(), "user-token")

	require.NoError(t, store.DeleteRows(ctx, "Reservations", 0, 1))
	call := fake.last()
	assert.Equal(t, "/v4/spreadsheets/sheet-1:batchUpdate", call.Path)
	dim := deleteRange(t, call)
	assert.Equal(t, 0.0, dim["sheetId"], "sheet id 0 must still be sent")
	assert.Equal(t, 0.0, dim["startIndex"], "start index 0 must still be sent")
	assert.Equal(t, 1.0, dim["endIndex"])
	assert.Equal(t, "ROWS", dim["dimension"])

	require.NoError(t, store.DeleteRows(ctx, "Inventory", 3, 5))
	dim = deleteRange(t, fake.last())
	assert.Equal(t, 42.0, dim["sheetId"])
	assert.Equal(t, 3.0, dim["startIndex"])
	assert.Equal(t, 5.0, dim["endIndex"])

	lookups := 0
	for _, c := range fake.recorded() {
		if c.Method == http.MethodGet && c.Path == "/v4/spreadsheets/sheet-1" {
			lookups++
		}
	}
	assert.Equal(t, 1, lookups, "sheet ids are cached after the first lookup")

	err := store.DeleteRows(ctx, "Missing", 0, 1)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"))
	assert.Error(t, store.DeleteRows(ctx, "Reservations", 2, 2))
}

func deleteRange(t *testing.T, call recordedCall) map[string]interface{} {
	t.Helper()
	reqs, ok := call.Body["requests"].([]interface{})
	require.True(t, ok)
	require.Len(t, reqs, 1)
	del := reqs[0].(map[string]interface{})["deleteDimension"].(map[string]interface{})
	return del["range"].(map[string]interface{})
}
