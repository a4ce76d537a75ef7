package domain

import "math/rand"

// NewMultipleChoice builds a ready-to-serve multiple choice question. The
// answer set is the distractors plus the correct answer in a uniform random
// permutation, so the correct answer never sits at a predictable position.
func NewMultipleChoice(text, correct string, distractors []string, rnd *rand.Rand) Question {
	answers := make([]string, 0, len(distractors)+1)
	answers = append(answers, correct)
	answers = append(answers, distractors...)
	rnd.Shuffle(len(answers), func(i, j int) {
		answers[i], answers[j] = answers[j], answers[i]
	})
	return Question{
		Text:          text,
		CorrectAnswer: correct,
		Distractors:   distractors,
		Answers:       answers,
		Kind:          KindMultiple,
	}
}
