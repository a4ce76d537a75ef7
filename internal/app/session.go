package app

import (
	"context"
	"strings"
	"sync"

	"geo-trivia-service/internal/domain"
)

// MaxQuestions is the per-game question limit.
const MaxQuestions = 15

// Session is the single global game: score, question counter, and the slot
// holding the question awaiting an answer. It orchestrates the controller and
// broadcasts score snapshots to subscribers.
type Session struct {
	controller   *Controller
	maxQuestions int

	mu          sync.Mutex
	score       int
	answered    int
	current     *domain.Question
	subscribers map[chan domain.ScoreSnapshot]struct{}
}

func NewSession(controller *Controller) *Session {
	return &Session{
		controller:   controller,
		maxQuestions: MaxQuestions,
		subscribers:  make(map[chan domain.ScoreSnapshot]struct{}),
	}
}

// Next fetches the next question and stores it as the pending one. Fails with
// ErrMaxQuestionsReached once the game is over.
func (s *Session) Next(ctx context.Context) (Served, error) {
	s.mu.Lock()
	if s.answered >= s.maxQuestions {
		s.mu.Unlock()
		return Served{}, domain.ErrMaxQuestionsReached
	}
	s.mu.Unlock()

	served, err := s.controller.Next(ctx)
	if err != nil {
		return Served{}, err
	}

	s.mu.Lock()
	q := served.Question
	s.current = &q
	s.mu.Unlock()
	return served, nil
}

// Submit grades the answer against the pending question: case-insensitive,
// whitespace-trimmed exact match. The question counter advances whether or
// not the answer was right, and the pending slot is cleared either way.
func (s *Session) Submit(answer string) (domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return domain.AnswerResult{}, domain.ErrNoActiveQuestion
	}

	correct := strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(s.current.CorrectAnswer))
	if correct {
		s.score++
	}
	s.answered++

	result := domain.AnswerResult{
		Correct:           correct,
		CorrectAnswer:     s.current.CorrectAnswer,
		Score:             s.score,
		QuestionsAnswered: s.answered,
		GameOver:          s.answered >= s.maxQuestions,
	}
	s.current = nil
	s.broadcastLocked()
	return result, nil
}

// Score returns the current snapshot.
func (s *Session) Score() domain.ScoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetMode switches the question source and drops any pending question, since
// it came from the previous source.
func (s *Session) SetMode(ctx context.Context, mode domain.Mode) error {
	if mode != domain.ModeAPI && mode != domain.ModeCSV {
		return domain.ErrInvalidMode
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	err := s.controller.SetMode(ctx, mode)

	s.mu.Lock()
	s.broadcastLocked()
	s.mu.Unlock()
	return err
}

// Reset starts a fresh game: zeroed score and counter, reloaded dataset,
// cleared and refilled buffer, API mode.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.score = 0
	s.answered = 0
	s.current = nil
	s.mu.Unlock()

	err := s.controller.Reset(ctx)

	s.mu.Lock()
	s.broadcastLocked()
	s.mu.Unlock()
	return err
}

// Subscribe returns a channel receiving score snapshots, starting with the
// current one. The caller must invoke the returned cancel function to avoid
// leaks.
func (s *Session) Subscribe() (<-chan domain.ScoreSnapshot, func()) {
	ch := make(chan domain.ScoreSnapshot, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.snapshotLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) snapshotLocked() domain.ScoreSnapshot {
	return domain.ScoreSnapshot{
		Score:             s.score,
		QuestionsAnswered: s.answered,
		GameOver:          s.answered >= s.maxQuestions,
		Mode:              s.controller.Mode(),
	}
}

func (s *Session) broadcastLocked() {
	snapshot := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drop the stale update so a slow subscriber cannot block grading.
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
