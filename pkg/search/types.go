// Package search holds the domain model of the search harvester: access tokens,
// page metadata, item records and the typed errors shared by the fetcher, the
// store and the pagination driver. It also contains the pure decoders that turn
// a raw search response into those records.
package search

// AccessToken is the bearer credential returned by the token exchange.
// It is created once per run and only ever read afterwards.
type AccessToken string

// PageMetadata describes one page of search results.
type PageMetadata struct {
	// CompletedIn is the server-side query time in seconds.
	CompletedIn float64

	// MaxID is the highest item id covered by the query.
	MaxID int64

	// NextCursor is the continuation query string (e.g. "?max_id=...&q=...").
	// Nil means the result set is exhausted.
	NextCursor *string
}

// HasNext reports whether another page can be requested.
func (m PageMetadata) HasNext() bool {
	return m.NextCursor != nil && *m.NextCursor != ""
}

// Item is a single search result. ItemID is its identity in the store.
type Item struct {
	ItemID       int64
	AuthorID     int64
	AuthorName   string
	AuthorHandle string
	Text         string
	Truncated    bool
}

// Page is one decoded search response.
type Page struct {
	Metadata PageMetadata
	Items    []Item
}

// Credentials are the application-only consumer credentials used for the
// token exchange.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
}

// Cursor returns a pointer to a copy of s, or nil when s is empty.
func Cursor(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
