package domain

// Logical queue names
const (
	TranscodeQueue = "transcode-queue"
	NotifyQueue    = "notify-queue"
)

// Job processing states, logged as a job moves through a worker
const (
	JobStateReceived    = "RECEIVED"
	JobStateFetching    = "FETCHING"
	JobStateTranscoding = "TRANSCODING"
	JobStateStoring     = "STORING"
	JobStatePublishing  = "PUBLISHING"
	JobStateAcked       = "ACKED"
	JobStateRejected    = "REJECTED"
)

// ContentTypeJSON is the content type of every job message
const ContentTypeJSON = "application/json"
