package domain

import "math/rand"

// PickQuestions draws count distinct questions from pool in random order.
func PickQuestions(pool []QuizQuestion, count int, rnd *rand.Rand) ([]QuizQuestion, error) {
	if count <= 0 {
		return []QuizQuestion{}, nil
	}
	if len(pool) < count {
		return nil, ErrNotEnoughQuestions
	}
	picked := append([]QuizQuestion(nil), pool...)
	rnd.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked[:count], nil
}
