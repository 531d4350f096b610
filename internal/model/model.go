// Package model defines shared data structures.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Book is the static metadata shown on the detail page. Values are opaque.
type Book struct {
	Img           string `json:"img"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"ISBN"`
	Publisher     string `json:"publisher"`
	PublishedDate string `json:"publishedDate"`
	Description   string `json:"description"`
	Price         string `json:"price"`
}

// Comment is an item of the comments feed.
type Comment struct {
	ID        string    `json:"id"`
	PostTime  Timestamp `json:"post_time"`
	Content   string    `json:"content"`
	Sentiment string    `json:"sentiment"`
}

// Like is an item of the likes feed. Timestamp is in Unix seconds.
type Like struct {
	ID        string `json:"id" db:"id"`
	CommentID string `json:"comment_id" db:"comment_id"`
	Timestamp int64  `json:"timestamp" db:"created_at"`
}

// Timestamp is a point in time that decodes from ISO-8601 (or another
// recognizable date string) as well as from epoch seconds or milliseconds,
// given either as a JSON number or as a numeric string.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e11 seconds is year 5138; 1e11 milliseconds is 1973.
const epochMillisThreshold = 1e11

// MarshalJSON encodes the timestamp as an RFC 3339 string in UTC.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts strings, numbers and null.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		ts.Time = t
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ts.Time = fromEpoch(n)
	return nil
}

// ParseTimestamp parses a date string or a numeric epoch string.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, ok := parseBasicDate(s); ok {
		return t, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// parseBasicDate reads all-digit ISO 8601 basic dates (20240101,
// 20240101100000) before they can be taken for epoch values.
func parseBasicDate(s string) (time.Time, bool) {
	var layout string
	switch len(s) {
	case 8:
		layout = "20060102"
	case 14:
		layout = "20060102150405"
	default:
		return time.Time{}, false
	}
	t, err := time.Parse(layout, s)
	return t, err == nil
}

func fromEpoch(n float64) time.Time {
	if math.Abs(n) >= epochMillisThreshold {
		ms := int64(n)
		return time.UnixMilli(ms).UTC()
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
