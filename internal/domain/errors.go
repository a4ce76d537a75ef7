package domain

import "errors"

var (
	// ErrRateLimited is returned when the remote provider reports HTTP 429.
	ErrRateLimited = errors.New("trivia provider rate limit exceeded")
	// ErrProvider covers any other remote failure (bad status, malformed payload, timeout).
	ErrProvider = errors.New("trivia provider error")
	// ErrDatasetUnavailable indicates the local dataset is missing or corrupt.
	ErrDatasetUnavailable = errors.New("local question dataset unavailable")
	// ErrMaxQuestionsReached is returned when the session question limit is hit.
	ErrMaxQuestionsReached = errors.New("maximum number of questions reached")
	// ErrNoQuestionsAvailable indicates the local store is exhausted.
	ErrNoQuestionsAvailable = errors.New("no more questions available")
	// ErrNoActiveQuestion is returned when an answer arrives with no question pending.
	ErrNoActiveQuestion = errors.New("no active question")
	// ErrInvalidMode is returned for mode values other than API or CSV.
	ErrInvalidMode = errors.New("invalid mode")
)
