package storage

import (
	"errors"
	"fmt"

	"smsrelay/models"
)

// EnqueueRetryable records a relay add that failed. A second failure for the same
// entity only refreshes its error timestamp.
func (s *Store) EnqueueRetryable(kind models.RetryKind, entityID int64) error {
	switch kind {
	case models.RetryAddMessage, models.RetryAddConversation:
	default:
		return fmt.Errorf("invalid retry kind %q", kind)
	}
	if entityID == 0 {
		return errors.New("entity id is required")
	}

	_, err := s.q.Exec(
		`INSERT INTO retryable_requests (kind, entity_id, error_timestamp) VALUES (?, ?, ?)
		ON CONFLICT(kind, entity_id) DO UPDATE SET error_timestamp = excluded.error_timestamp`,
		string(kind),
		entityID,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue retryable %s %d: %w", kind, entityID, err)
	}
	return nil
}

// DrainRetryables atomically reads and deletes every pending request, oldest first.
func (s *Store) DrainRetryables() ([]models.RetryableRequest, error) {
	var drained []models.RetryableRequest
	err := s.InTx(func(tx *Store) error {
		rows, err := tx.q.Query(
			`SELECT id, kind, entity_id, error_timestamp FROM retryable_requests ORDER BY error_timestamp ASC, id ASC`,
		)
		if err != nil {
			return fmt.Errorf("list retryables: %w", err)
		}
		defer rows.Close()

		drained = make([]models.RetryableRequest, 0)
		for rows.Next() {
			var r models.RetryableRequest
			var kind string
			if err := rows.Scan(&r.ID, &kind, &r.EntityID, &r.ErrorTimestamp); err != nil {
				return fmt.Errorf("scan retryable: %w", err)
			}
			r.Kind = models.RetryKind(kind)
			drained = append(drained, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate retryables: %w", err)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		if _, err := tx.q.Exec(`DELETE FROM retryable_requests`); err != nil {
			return fmt.Errorf("clear retryables: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

// CountRetryables returns the number of pending requests.
func (s *Store) CountRetryables() (int, error) {
	return s.count("retryable_requests")
}
