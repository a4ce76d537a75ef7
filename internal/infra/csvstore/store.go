// Package csvstore implements the local question store backing CSV mode.
package csvstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"geo-trivia-service/internal/countries"
	"geo-trivia-service/internal/domain"
)

// Pair is one question/answer row from the dataset.
type Pair struct {
	Question string
	Answer   string
}

// PairSource supplies the dataset rows (CSV file, Postgres table, static map).
type PairSource interface {
	Load(ctx context.Context) ([]Pair, error)
}

// Store holds the unconsumed dataset rows. Each Draw removes one row, so a
// question is served at most once per load; Reload restores the full dataset.
type Store struct {
	source PairSource

	mu    sync.Mutex
	pairs []Pair
	rnd   *rand.Rand
}

func NewStore(source PairSource) *Store {
	return &Store{
		source: source,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Reload replaces the store's contents with a fresh read of the dataset. A
// missing or malformed dataset empties the store and reports
// ErrDatasetUnavailable; callers treat that as a degraded store, not a fatal
// condition.
func (s *Store) Reload(ctx context.Context) error {
	pairs, err := s.source.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pairs = nil
		return fmt.Errorf("%w: %v", domain.ErrDatasetUnavailable, err)
	}
	s.pairs = pairs
	return nil
}

// Remaining reports how many unconsumed rows are left.
func (s *Store) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pairs)
}

// Draw removes a uniformly random unconsumed row and turns it into a multiple
// choice question with three country distractors. Returns
// ErrNoQuestionsAvailable once the store is exhausted.
func (s *Store) Draw() (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pairs) == 0 {
		return domain.Question{}, domain.ErrNoQuestionsAvailable
	}

	idx := s.rnd.Intn(len(s.pairs))
	pair := s.pairs[idx]
	s.pairs[idx] = s.pairs[len(s.pairs)-1]
	s.pairs = s.pairs[:len(s.pairs)-1]

	distractors := s.sampleDistractors(pair.Answer, 3)
	return domain.NewMultipleChoice(pair.Question, pair.Answer, distractors, s.rnd), nil
}

// sampleDistractors picks n distinct countries, excluding the correct answer
// case-insensitively.
func (s *Store) sampleDistractors(correct string, n int) []string {
	available := make([]string, 0, len(countries.All()))
	for _, name := range countries.All() {
		if !strings.EqualFold(name, correct) {
			available = append(available, name)
		}
	}
	s.rnd.Shuffle(len(available), func(i, j int) {
		available[i], available[j] = available[j], available[i]
	})
	if n > len(available) {
		n = len(available)
	}
	return available[:n]
}

// FileSource reads Question/Answer rows from a CSV file with a header row.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Load(_ context.Context) ([]Pair, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset has no header row")
	}

	questionCol, answerCol := -1, -1
	for i, name := range records[0] {
		switch strings.TrimSpace(name) {
		case "Question":
			questionCol = i
		case "Answer":
			answerCol = i
		}
	}
	if questionCol < 0 || answerCol < 0 {
		return nil, fmt.Errorf("dataset missing Question/Answer columns")
	}

	pairs := make([]Pair, 0, len(records)-1)
	for _, row := range records[1:] {
		if questionCol >= len(row) || answerCol >= len(row) {
			continue
		}
		pairs = append(pairs, Pair{
			Question: strings.TrimSpace(row[questionCol]),
			Answer:   strings.TrimSpace(row[answerCol]),
		})
	}
	return pairs, nil
}
