package client

import (
	"net/url"
	"strconv"
	"strings"
)

// Request paths of the search API.
const (
	tokenPath  = "/oauth2/token"
	searchPath = "/1.1/search/tweets.json"
)

// PageSize is the number of items requested per page.
const PageSize = 100

// param is one query parameter; a slice of them keeps insertion order.
type param struct {
	key   string
	value string
}

// buildQueryString percent-encodes params in order. Spaces become %20.
func buildQueryString(params []param) string {
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(escape(p.key))
		sb.WriteByte('=')
		sb.WriteString(escape(p.value))
	}
	return sb.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// firstPageURL is the request for the first page of query.
func firstPageURL(baseURL, query string) string {
	return baseURL + searchPath + "?" + buildQueryString([]param{
		{"q", query},
		{"count", strconv.Itoa(PageSize)},
		{"include_entities", "0"},
	})
}

// nextPageURL appends the server-provided cursor verbatim. The cursor is
// already an encoded query string such as "?max_id=...&q=...".
func nextPageURL(baseURL, cursor string) string {
	if !strings.HasPrefix(cursor, "?") {
		cursor = "?" + cursor
	}
	return baseURL + searchPath + cursor + "&include_entities=0"
}
