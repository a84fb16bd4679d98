package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10" validate:"gte=1,lte=250"` // Min 1, Max 250
}

// Size returns the effective page size.
func (p Pagination) Size() int {
	switch {
	case p.Limit <= 0:
		return 10
	case p.Limit > 250:
		return 250
	}
	return p.Limit
}

type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor     string `json:"next_cursor"`
	PreviousCursor string `json:"previous_cursor"`
	HasMore        bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Paginate trims a result fetched with Size()+1 rows to one page and builds
// the cursor for the next page from the last row kept.
func Paginate[T any](data []*T, p Pagination, extractID func(*T) string) ([]*T, *PageInfo) {
	limit := p.Size()
	info := &PageInfo{PreviousCursor: p.Cursor}

	if len(data) > limit {
		data = data[:limit]
		info.HasMore = true
	}

	if info.HasMore && len(data) > 0 {
		next, err := EncodeCursor(Cursor{ID: extractID(data[len(data)-1])})
		if err == nil {
			info.NextCursor = next
		}
	}

	return data, info
}
