package postgres

import (
	"context"
	"fmt"

	"geo-trivia-service/internal/infra/csvstore"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PairSource loads the question dataset from the geo_questions table.
type PairSource struct {
	pool *pgxpool.Pool
}

func NewPairSource(pool *pgxpool.Pool) *PairSource {
	return &PairSource{pool: pool}
}

func (s *PairSource) Load(ctx context.Context) ([]csvstore.Pair, error) {
	rows, err := s.pool.Query(ctx, `SELECT question, answer FROM geo_questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var pairs []csvstore.Pair
	for rows.Next() {
		var pair csvstore.Pair
		if err := rows.Scan(&pair.Question, &pair.Answer); err != nil {
			return nil, fmt.Errorf("scan question row: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read question rows: %w", err)
	}
	return pairs, nil
}
