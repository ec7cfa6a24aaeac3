package pagination

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/Sternrassler/search-harvester/internal/testutil"
	"github.com/Sternrassler/search-harvester/pkg/client"
	"github.com/Sternrassler/search-harvester/pkg/search"
	"github.com/Sternrassler/search-harvester/pkg/store"
)

func newHarvestClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("search-harvester-test/1.0")
	cfg.BaseURL = baseURL
	cfg.RateLimit = 0
	cfg.MaxRetries = 0
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func countRows(t *testing.T, path string) int {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT count(*) FROM ` + store.DefaultTable).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func openStore(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()

	path := t.TempDir() + "/ts.db"
	s, err := store.OpenSQLite(context.Background(), path, "")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestHarvest_TwoPagesIntoSQLite(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.QueuePage(testutil.NewPageResponse("?max_id=1&q=golang", testutil.Item(2, "A")))
	mock.QueuePage(testutil.NewPageResponse("", testutil.Item(1, "B")))

	itemStore, path := openStore(t)
	d := NewDriver(newHarvestClient(t, mock.URL()), itemStore,
		Config{Interval: 5 * time.Millisecond, FetchTimeout: 5 * time.Second}, quiet)

	run := d.Start(context.Background(), creds, "golang")
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	outcome := run.Wait()

	if !outcome.Succeeded() {
		t.Fatalf("outcome.Err = %v", outcome.Err)
	}
	if outcome.Pages != 2 || outcome.Items != 2 {
		t.Errorf("outcome = %d pages / %d items, want 2 / 2", outcome.Pages, outcome.Items)
	}
	if n := countRows(t, path); n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	reqs := mock.SearchRequests()
	if len(reqs) != 2 {
		t.Fatalf("search requests = %d, want 2", len(reqs))
	}
	if want := "max_id=1&q=golang&include_entities=0"; reqs[1].RawQuery != want {
		t.Errorf("second request query = %q, want %q", reqs[1].RawQuery, want)
	}
	if mock.MaxConcurrent() > 1 {
		t.Errorf("max concurrent requests = %d, want 1", mock.MaxConcurrent())
	}
}

func TestHarvest_ServerErrorOnSecondPage(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.QueuePage(testutil.NewPageResponse("?max_id=1&q=golang", testutil.Item(2, "A")))
	mock.QueuePage(testutil.NewServerErrorResponse())

	itemStore, path := openStore(t)
	d := NewDriver(newHarvestClient(t, mock.URL()), itemStore,
		Config{Interval: 5 * time.Millisecond, FetchTimeout: 5 * time.Second}, quiet)

	outcome := d.Run(context.Background(), creds, "golang")

	if search.KindOf(outcome.Err) != search.KindTransport {
		t.Fatalf("outcome.Err = %v, want transport error", outcome.Err)
	}
	if n := countRows(t, path); n != 1 {
		t.Errorf("rows = %d, want 1 (first page stays committed)", n)
	}
}

func TestHarvest_RejectedToken(t *testing.T) {
	mock := testutil.NewMockSearchAPI()
	defer mock.Close()
	mock.SetTokenResponse(testutil.NewUnauthorizedResponse())

	itemStore, path := openStore(t)
	d := NewDriver(newHarvestClient(t, mock.URL()), itemStore, fastConfig(), quiet)

	outcome := d.Run(context.Background(), creds, "golang")

	if search.KindOf(outcome.Err) != search.KindAuth {
		t.Fatalf("outcome.Err = %v, want auth error", outcome.Err)
	}
	if len(mock.SearchRequests()) != 0 {
		t.Error("search requested after token failure")
	}
	if n := countRows(t, path); n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
}
