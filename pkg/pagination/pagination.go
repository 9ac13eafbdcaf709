// Package pagination implements keyset cursors over (created_at, id).
package pagination

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const (
	// DefaultLimit is the page size used when no limit is requested.
	DefaultLimit = 25
	// MaxLimit caps how many rows a single page may return.
	MaxLimit = 100
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds the cursor pagination inputs of a list request.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points just past the last row of the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit applies the default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer returns the normalized limit plus one so the caller can
// detect whether another page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor renders c as an opaque URL-safe string.
func EncodeCursor(c Cursor) string {
	payload := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// ParseCursor decodes a cursor produced by EncodeCursor. An empty value
// yields a nil cursor, meaning the first page.
func ParseCursor(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCursor, err.Error())
	}
	createdAt, rawID, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCursor, "timestamp")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCursor, "id")
	}
	return &Cursor{CreatedAt: t, ID: id}, nil
}

// Trim cuts a page fetched with LimitWithBuffer down to limit rows and
// returns the cursor for the next page, or "" when rows was the last page.
func Trim[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, string) {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		return rows, ""
	}
	rows = rows[:limit]
	return rows, EncodeCursor(cursorOf(rows[len(rows)-1]))
}
