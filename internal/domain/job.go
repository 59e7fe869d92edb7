package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TranscodeJob asks a transcode worker to convert a source blob for a requester.
// ResultBlobID is empty until the worker has stored the transcoded output.
type TranscodeJob struct {
	SourceBlobID string
	ResultBlobID *string
	Requester    string
}

// NotifyJob asks a notification worker to tell Recipient that ResultBlobID is ready
type NotifyJob struct {
	ResultBlobID string
	Recipient    string
}

type transcodeJobWire struct {
	VideoFID  string  `json:"video_fid"`
	MP3FID    *string `json:"mp3_fid"`
	UserEmail string  `json:"user_email"`
}

// notifyJobWire accepts "username" as an alias of "user_email". Older
// producers wrote the recipient under that key; Encode only writes user_email.
type notifyJobWire struct {
	MP3FID    string `json:"mp3_fid"`
	UserEmail string `json:"user_email,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Encode serializes the job into its queue payload
func (j TranscodeJob) Encode() ([]byte, error) {
	body, err := json.Marshal(transcodeJobWire{
		VideoFID:  j.SourceBlobID,
		MP3FID:    j.ResultBlobID,
		UserEmail: j.Requester,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcode job: %w", err)
	}
	return body, nil
}

// DecodeTranscodeJob parses a transcode-queue payload. Every failure wraps
// ErrMalformedJob and is classified permanent.
func DecodeTranscodeJob(body []byte) (TranscodeJob, error) {
	var wire transcodeJobWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return TranscodeJob{}, Permanent(fmt.Errorf("%w: %v", ErrMalformedJob, err))
	}

	job := TranscodeJob{
		SourceBlobID: strings.TrimSpace(wire.VideoFID),
		ResultBlobID: wire.MP3FID,
		Requester:    strings.TrimSpace(wire.UserEmail),
	}
	if job.SourceBlobID == "" {
		return TranscodeJob{}, Permanent(fmt.Errorf("%w: video_fid is required", ErrMalformedJob))
	}
	if job.Requester == "" {
		return TranscodeJob{}, Permanent(fmt.Errorf("%w: user_email is required", ErrMalformedJob))
	}
	return job, nil
}

// NotifyJob derives the notification for a transcode job whose result has been stored
func (j TranscodeJob) NotifyJob(resultBlobID string) NotifyJob {
	return NotifyJob{
		ResultBlobID: resultBlobID,
		Recipient:    j.Requester,
	}
}

// Validate enforces that both fields are present
func (j NotifyJob) Validate() error {
	if strings.TrimSpace(j.ResultBlobID) == "" {
		return Permanent(fmt.Errorf("%w: mp3_fid is required", ErrMalformedJob))
	}
	if strings.TrimSpace(j.Recipient) == "" {
		return Permanent(fmt.Errorf("%w: neither user_email nor username is set", ErrMalformedJob))
	}
	return nil
}

// Encode serializes the job into its queue payload
func (j NotifyJob) Encode() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(notifyJobWire{
		MP3FID:    j.ResultBlobID,
		UserEmail: j.Recipient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notify job: %w", err)
	}
	return body, nil
}

// DecodeNotifyJob parses a notify-queue payload, normalizing the recipient alias
func DecodeNotifyJob(body []byte) (NotifyJob, error) {
	var wire notifyJobWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return NotifyJob{}, Permanent(fmt.Errorf("%w: %v", ErrMalformedJob, err))
	}

	recipient := strings.TrimSpace(wire.UserEmail)
	if recipient == "" {
		recipient = strings.TrimSpace(wire.Username)
	}

	job := NotifyJob{
		ResultBlobID: strings.TrimSpace(wire.MP3FID),
		Recipient:    recipient,
	}
	if err := job.Validate(); err != nil {
		return NotifyJob{}, err
	}
	return job, nil
}
