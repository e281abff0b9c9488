package store

import (
	"context"
	"fmt"
	"time"
)

// TurnRecord is one row of the turn ledger. Message content is never
// stored.
type TurnRecord struct {
	TurnID           string    `json:"turn_id"`
	SessionID        string    `json:"session_id"`
	Strength         float64   `json:"strength"`
	Temperature      float64   `json:"temperature"`
	OriginalTokens   int       `json:"original_tokens"`
	CompressedTokens int       `json:"compressed_tokens"`
	Uncompressed     bool      `json:"uncompressed"`
	ResponseChars    int       `json:"response_chars"`
	Status           string    `json:"status"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// RecordTurn inserts or updates a ledger row.
func (s *Store) RecordTurn(ctx context.Context, r *TurnRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO turns (turn_id, session_id, strength, temperature,
			original_tokens, compressed_tokens, uncompressed,
			response_chars, status, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (turn_id) DO UPDATE SET
			response_chars = EXCLUDED.response_chars,
			status = EXCLUDED.status,
			duration_ms = EXCLUDED.duration_ms`,
		r.TurnID, r.SessionID, r.Strength, r.Temperature,
		r.OriginalTokens, r.CompressedTokens, r.Uncompressed,
		r.ResponseChars, r.Status, r.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("record turn %s: %w", r.TurnID, err)
	}
	return nil
}

// ListTurns returns the most recent turns of a session, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT turn_id, session_id, strength, temperature,
			original_tokens, compressed_tokens, uncompressed,
			response_chars, status, duration_ms, created_at
		FROM (
			SELECT * FROM turns
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var out []*TurnRecord
	for rows.Next() {
		var r TurnRecord
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.Strength, &r.Temperature,
			&r.OriginalTokens, &r.CompressedTokens, &r.Uncompressed,
			&r.ResponseChars, &r.Status, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// TurnStats aggregates compression savings for a session.
type TurnStats struct {
	Turns            int `json:"turns"`
	OriginalTokens   int `json:"original_tokens"`
	CompressedTokens int `json:"compressed_tokens"`
}

// SessionStats sums token counts over a session's completed turns.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (*TurnStats, error) {
	var st TurnStats
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(original_tokens), 0), COALESCE(SUM(compressed_tokens), 0)
		FROM turns
		WHERE session_id = $1 AND status = 'completed'`, sessionID,
	).Scan(&st.Turns, &st.OriginalTokens, &st.CompressedTokens)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return &st, nil
}
