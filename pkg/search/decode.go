package search

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// fields is a JSON object kept undecoded so presence and null can be told apart.
type fields map[string]json.RawMessage

// DecodeMetadata extracts search_metadata from a raw search response.
//
// completed_in (number) and max_id (integer) are required. next_results is
// optional; when present it must be a string and becomes NextCursor.
func DecodeMetadata(raw []byte) (PageMetadata, error) {
	const op = "decode metadata"

	root, err := decodeObject(raw)
	if err != nil {
		return PageMetadata{}, Wrap(KindDecode, op, err)
	}

	var meta fields
	if err := root.require("search_metadata", &meta); err != nil {
		return PageMetadata{}, Wrap(KindDecode, op, err)
	}

	var out PageMetadata
	if err := meta.require("completed_in", &out.CompletedIn); err != nil {
		return PageMetadata{}, Wrap(KindDecode, op, err)
	}
	if err := meta.require("max_id", &out.MaxID); err != nil {
		return PageMetadata{}, Wrap(KindDecode, op, err)
	}

	if _, ok := meta["next_results"]; ok {
		var next string
		if err := meta.require("next_results", &next); err != nil {
			return PageMetadata{}, Wrap(KindDecode, op, err)
		}
		out.NextCursor = Cursor(next)
	}

	return out, nil
}

// DecodeItems extracts the statuses array from a raw search response.
// A single malformed element fails the whole page.
func DecodeItems(raw []byte) ([]Item, error) {
	const op = "decode items"

	root, err := decodeObject(raw)
	if err != nil {
		return nil, Wrap(KindDecode, op, err)
	}

	var statuses []fields
	if err := root.require("statuses", &statuses); err != nil {
		return nil, Wrap(KindDecode, op, err)
	}

	items := make([]Item, 0, len(statuses))
	for i, status := range statuses {
		item, err := decodeItem(status)
		if err != nil {
			return nil, Wrap(KindDecode, op, fmt.Errorf("statuses[%d]: %w", i, err))
		}
		items = append(items, item)
	}

	return items, nil
}

// DecodePage decodes metadata and items of a raw search response.
func DecodePage(raw []byte) (*Page, error) {
	meta, err := DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}
	items, err := DecodeItems(raw)
	if err != nil {
		return nil, err
	}
	return &Page{Metadata: meta, Items: items}, nil
}

func decodeItem(status fields) (Item, error) {
	if status == nil {
		return Item{}, fmt.Errorf("expected object")
	}

	var item Item
	var user fields
	if err := status.require("user", &user); err != nil {
		return Item{}, err
	}
	if err := user.require("id", &item.AuthorID); err != nil {
		return Item{}, fmt.Errorf("user: %w", err)
	}
	if err := user.require("name", &item.AuthorName); err != nil {
		return Item{}, fmt.Errorf("user: %w", err)
	}
	if err := user.require("screen_name", &item.AuthorHandle); err != nil {
		return Item{}, fmt.Errorf("user: %w", err)
	}
	if err := status.require("id", &item.ItemID); err != nil {
		return Item{}, err
	}
	if err := status.require("text", &item.Text); err != nil {
		return Item{}, err
	}
	if err := status.require("truncated", &item.Truncated); err != nil {
		return Item{}, err
	}
	return item, nil
}

func decodeObject(raw []byte) (fields, error) {
	var root fields
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("expected JSON object")
	}
	return root, nil
}

// require decodes the named field into dst. Missing keys and null values are
// rejected; type mismatches surface from encoding/json.
func (f fields) require(name string, dst any) error {
	raw, ok := f[name]
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("field %q is null", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	return nil
}
