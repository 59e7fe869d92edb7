package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/api/storage"
)

func DecodeDeadLetterCursor(cursorStr string) (*storage.DeadLetterCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(string(decoded), "|")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt, id int64
	if _, err := fmt.Sscanf(parts[0], "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at in cursor: %w", err)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &id); err != nil {
		return nil, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return &storage.DeadLetterCursor{
		CreatedAt: time.Unix(0, createdAt),
		ID:        id,
	}, nil
}

func EncodeDeadLetterCursor(cursor *storage.DeadLetterCursor) string {
	cs := fmt.Sprintf("%d|%d", cursor.CreatedAt.UnixNano(), cursor.ID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
