package pagination

import (
	"encoding/base64"
	"encoding/json"
)

const (
	DefaultLimit = 50
	MaxLimit     = 250
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit" validate:"gte=0,lte=250"`
}

// Size clamps Limit into [1, MaxLimit], defaulting when unset.
func (p Pagination) Size() int {
	if p.Limit <= 0 {
		return DefaultLimit
	}
	if p.Limit > MaxLimit {
		return MaxLimit
	}
	return p.Limit
}

// Cursor points past the last row of a page. IDs are snowflakes, so the id
// alone orders rows.
type Cursor struct {
	ID int64 `json:"id,string"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo expects data fetched with limit+1 rows; the extra row
// only signals that another page exists.
func BuildCursorPageInfo[T any](data []*T, limit int, extractID func(*T) int64) *PageInfo {
	if len(data) <= limit {
		return &PageInfo{HasMore: false}
	}

	next, _ := EncodeCursor(Cursor{ID: extractID(data[limit-1])})
	return &PageInfo{
		HasMore:    true,
		NextCursor: next,
	}
}
