package csrfapi

import (
	"net/http"
)

// DefaultTokenHeader is the header the token is read from and written to.
// Lookups are case-insensitive, so it also matches x-csrf-token.
const DefaultTokenHeader = "X-CSRF-Token"

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Stage is the position of a bootstrap run.
type Stage string

const (
	StageAwaitingToken Stage = "awaiting_token"
	StageReady         Stage = "ready"
	StagePosted        Stage = "posted"
	StageFailed        Stage = "failed"
)
