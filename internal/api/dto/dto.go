package dto

type UploadResponse struct {
	JobID    string `json:"job_id"`
	VideoFID string `json:"video_fid"`
	Message  string `json:"message"`
}

type MeResponse struct {
	UserEmail string `json:"user_email"`
	IsAdmin   bool   `json:"is_admin"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type ListDeadLettersRequest struct {
	Queue    string `form:"queue"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterDTO `json:"dead_letters"`
	NextCursor  string          `json:"next_cursor,omitempty"`
}

type DeadLetterDTO struct {
	ID        int64  `json:"id"`
	Queue     string `json:"queue"`
	MessageID string `json:"message_id"`
	Payload   string `json:"payload"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
