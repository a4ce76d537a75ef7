package domain

// Kind distinguishes the question formats the trivia provider can return.
type Kind string

const (
	KindMultiple Kind = "multiple"
	KindBoolean  Kind = "boolean"
)

// Mode identifies the active question source.
type Mode string

const (
	// ModeAPI serves questions from the remote provider through the prefetch buffer.
	ModeAPI Mode = "API"
	// ModeCSV serves questions from the local dataset.
	ModeCSV Mode = "CSV"
)

// Question is a single trivia question ready to serve. Answers holds the
// shuffled union of Distractors and CorrectAnswer; the correct answer has no
// fixed position.
type Question struct {
	Text          string   `json:"question"`
	CorrectAnswer string   `json:"correct_answer"`
	Distractors   []string `json:"-"`
	Answers       []string `json:"answers"`
	Kind          Kind     `json:"type"`
}

// AnswerResult summarizes the outcome of a submitted answer.
type AnswerResult struct {
	Correct           bool   `json:"correct"`
	CorrectAnswer     string `json:"correct_answer"`
	Score             int    `json:"current_score"`
	QuestionsAnswered int    `json:"questions_answered"`
	GameOver          bool   `json:"game_over"`
}

// ScoreSnapshot is a point-in-time view of the game session.
type ScoreSnapshot struct {
	Score             int  `json:"score"`
	QuestionsAnswered int  `json:"questions_answered"`
	GameOver          bool `json:"game_over"`
	Mode              Mode `json:"mode"`
}
