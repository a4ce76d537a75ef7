// Package opentdb fetches geography questions from the Open Trivia Database.
package opentdb

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"geo-trivia-service/internal/countries"
	"geo-trivia-service/internal/domain"
)

const (
	// categoryGeography is OpenTDB's category ID for geography.
	categoryGeography = 22
	defaultBaseURL    = "https://opentdb.com/api.php"
	defaultTimeout    = 5 * time.Second
)

// Client calls the OpenTDB HTTP API. Fetched items are percent-decoded, then
// HTML-entity decoded, and filtered to questions whose text mentions a
// registered country; items whose only country reference sits in an answer
// are dropped on purpose.
type Client struct {
	baseURL string
	client  *http.Client
	rnd     *rand.Rand
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider endpoint (tests point this at httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTimeout bounds each fetch; a timed-out fetch reports ErrProvider.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	ResponseCode int         `json:"response_code"`
	Results      []rawResult `json:"results"`
}

type rawResult struct {
	Type             string   `json:"type"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// FetchBatch requests count multiple-choice geography questions. It returns
// ErrRateLimited on HTTP 429 and ErrProvider on any other failure. The result
// may be shorter than count after domain filtering.
func (c *Client) FetchBatch(ctx context.Context, count int) ([]domain.Question, error) {
	params := url.Values{}
	params.Set("amount", strconv.Itoa(count))
	params.Set("category", strconv.Itoa(categoryGeography))
	params.Set("type", string(domain.KindMultiple))
	params.Set("encode", "url3986")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrProvider, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrProvider, resp.StatusCode)
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", domain.ErrProvider, err)
	}
	if payload.ResponseCode != 0 {
		return nil, fmt.Errorf("%w: response_code %d", domain.ErrProvider, payload.ResponseCode)
	}

	questions := make([]domain.Question, 0, len(payload.Results))
	for _, raw := range payload.Results {
		if raw.Type != string(domain.KindMultiple) {
			continue
		}
		text := decodeText(raw.Question)
		if _, ok := countries.Extract(text); !ok {
			continue
		}
		correct := decodeText(raw.CorrectAnswer)
		distractors := make([]string, 0, len(raw.IncorrectAnswers))
		for _, a := range raw.IncorrectAnswers {
			distractors = append(distractors, decodeText(a))
		}
		questions = append(questions, domain.NewMultipleChoice(text, correct, distractors, c.rnd))
	}
	return questions, nil
}

// decodeText undoes the transport encoding: RFC 3986 percent-encoding first,
// then HTML entities. A string that fails percent-decoding is kept as-is
// before entity decoding.
func decodeText(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		decoded = s
	}
	return html.UnescapeString(decoded)
}
