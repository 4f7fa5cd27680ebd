package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/echomsg/gifting-be/internal/jobstore"
)

// DecodeJobCursor parses an opaque pagination cursor. An empty cursor means
// start from the newest record.
func DecodeJobCursor(cursorStr string) (*jobstore.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	sortID, err := strconv.ParseUint(string(decoded), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sort id in cursor: %w", err)
	}

	return &jobstore.Cursor{SortID: sortID}, nil
}

// EncodeJobCursor renders the position after the given record as an opaque
// string.
func EncodeJobCursor(cursor *jobstore.Cursor) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatUint(cursor.SortID, 10)))
}
