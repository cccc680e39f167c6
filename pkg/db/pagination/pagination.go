package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50" validate:"gte=1,lte=250"`
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

// BuildCursorPageInfo derives page metadata from an over-fetched result set.
// Callers query limit+1 rows; the extra row signals another page.
func BuildCursorPageInfo[T any](data []*T, limit int32, extractCursor func(*T) string) *PageInfo {
	if len(data) == 0 {
		return &PageInfo{HasMore: false}
	}

	hasMore := false
	if len(data) > int(limit) {
		hasMore = true
		data = data[:limit]
	}

	return &PageInfo{
		HasMore:       hasMore,
		NextPageToken: extractCursor(data[len(data)-1]),
	}
}
