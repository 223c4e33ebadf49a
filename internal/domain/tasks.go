package domain

import "time"

// Task payloads. Every inter-stage message carries the trace id and, for the
// model stages, the attempt counter compared against the retry budget.

// SyncTaskPayload starts an ingest for one user over a time window.
type SyncTaskPayload struct {
	UserID    string    `json:"user_id" validate:"required"`
	TraceID   string    `json:"trace_id" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
}

// FetchTaskPayload carries one batch of provider message ids. The user id and
// access token travel as ciphertext only.
type FetchTaskPayload struct {
	MessageIDs     []string `json:"message_ids" validate:"required,min=1"`
	UserIDEnc      []byte   `json:"user_id_enc" validate:"required"`
	AccessTokenEnc []byte   `json:"access_token_enc" validate:"required"`
	TraceID        string   `json:"trace_id" validate:"required"`
}

// StageTaskPayload is the envelope for the relevance, classification and NER
// stages. Attempt starts at 1.
type StageTaskPayload struct {
	TraceID string   `json:"trace_id" validate:"required"`
	RowIDs  []string `json:"row_ids" validate:"required,min=1"`
	Attempt int      `json:"attempt" validate:"min=0"`
}

// TransferTaskPayload moves classified staging rows into the canonical table.
type TransferTaskPayload struct {
	TraceID string   `json:"trace_id" validate:"required"`
	RowIDs  []string `json:"row_ids" validate:"required,min=1"`
}
