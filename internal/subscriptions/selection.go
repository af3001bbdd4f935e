package subscriptions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Selection is an order's selected_items list. Each entry keeps the bytes it
// was stored with, so entries for dates that are not being replaced are
// written back exactly as read.
type Selection []json.RawMessage

// ParseSelection decodes a stored selected_items value. Empty input and JSON
// null decode to an empty selection.
func ParseSelection(b []byte) (Selection, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return Selection{}, nil
	}
	var s Selection
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode selected items: %w", err)
	}
	if s == nil {
		s = Selection{}
	}
	return s, nil
}

// Encode renders the list without re-encoding the entries.
func (s Selection) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(e)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// Items decodes every entry.
func (s Selection) Items() ([]ItemSelection, error) {
	out := make([]ItemSelection, 0, len(s))
	for i, e := range s {
		var it ItemSelection
		if err := json.Unmarshal(e, &it); err != nil {
			return nil, fmt.Errorf("decode selected item %d: %w", i, err)
		}
		out = append(out, it)
	}
	return out, nil
}

// ReplaceForDate drops every entry dated date and appends items after the
// retained entries. Retained entries keep their order and bytes; entries
// without a date are retained.
func ReplaceForDate(current Selection, date string, items []ItemSelection) (Selection, error) {
	out := make(Selection, 0, len(current)+len(items))
	for _, e := range current {
		if d, ok := entryDate(e); ok && d == date {
			continue
		}
		out = append(out, e)
	}
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("encode selected item %d: %w", it.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func entryDate(e json.RawMessage) (string, bool) {
	var head struct {
		Date *string `json:"date"`
	}
	if err := json.Unmarshal(e, &head); err != nil || head.Date == nil {
		return "", false
	}
	return *head.Date, true
}

// ParseItemIDs reads the selected_item_ids field: a JSON array of integers
// (numeric strings are accepted) or an empty value. Duplicates are dropped,
// first occurrence wins.
func ParseItemIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []int64{}, nil
	}
	var vals []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &vals); err != nil {
		return nil, fmt.Errorf("%w: selected_item_ids must be a JSON array of integers", ErrValidation)
	}
	out := make([]int64, 0, len(vals))
	seen := make(map[int64]bool, len(vals))
	for _, v := range vals {
		s := strings.Trim(string(v), `"`)
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid item id %s", ErrValidation, v)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
