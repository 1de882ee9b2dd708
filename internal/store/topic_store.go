package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SelectTopPending returns the highest-scoring pending topic, oldest first on
// ties, or nil when there is no pending work.
func (s *Store) SelectTopPending(ctx context.Context) (*Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics
         WHERE status = ?
         ORDER BY score DESC, created_at ASC, id ASC
         LIMIT 1`,
		StatusPending,
	)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending topic: %w", err)
	}
	return topic, nil
}

// Claim atomically moves a pending topic to writing. It returns false when
// the topic is no longer pending, which is how concurrent runs lose the race.
func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE topics SET status = ?, claimed_at = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusWriting, now, now, id, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim topic %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim topic %d: %w", id, err)
	}
	return affected == 1, nil
}

// MarkUsed moves a writing topic to used with the supplied consumption time.
func (s *Store) MarkUsed(ctx context.Context, id int64, usedAt time.Time) error {
	return s.transition(ctx, id, StatusWriting, StatusUsed, usedAt)
}

// Reject moves a pending topic to rejected.
func (s *Store) Reject(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending, StatusRejected, s.now())
}

// Requeue returns a topic stranded in writing back to pending. Nothing calls
// this automatically; it is the operator's recovery path after a crashed run.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusWriting, StatusPending, s.now())
}

func (s *Store) transition(ctx context.Context, id int64, from, to Status, at time.Time) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return transitionTx(ctx, tx, id, from, to, at)
	})
}

func transitionTx(ctx context.Context, tx *sql.Tx, id int64, from, to Status, at time.Time) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	stamp := formatTime(at)
	var (
		res sql.Result
		err error
	)
	switch to {
	case StatusUsed:
		res, err = tx.ExecContext(ctx,
			`UPDATE topics SET status = ?, used_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, stamp, stamp, id, from)
	case StatusPending:
		res, err = tx.ExecContext(ctx,
			`UPDATE topics SET status = ?, claimed_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
			to, stamp, id, from)
	default:
		res, err = tx.ExecContext(ctx,
			`UPDATE topics SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			to, stamp, id, from)
	}
	if err != nil {
		return fmt.Errorf("topic %d %s -> %s: %w", id, from, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("topic %d %s -> %s: %w", id, from, to, err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM topics WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrTopicNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("topic %d: read status: %w", id, err)
	}
	return fmt.Errorf("%w: topic %d is %s, expected %s", ErrStatusConflict, id, current, from)
}

// InsertMined stores a batch of topics in one transaction and returns their
// ids in input order. Only pending and rejected are valid initial statuses;
// an empty status means pending.
func (s *Store) InsertMined(ctx context.Context, topics []Topic) ([]int64, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	for i := range topics {
		if strings.TrimSpace(topics[i].Title) == "" {
			return nil, fmt.Errorf("insert topics: entry %d has an empty title", i)
		}
		switch topics[i].Status {
		case "":
			topics[i].Status = StatusPending
		case StatusPending, StatusRejected:
		default:
			return nil, fmt.Errorf("insert topics: %w: cannot create topic as %s", ErrInvalidTransition, topics[i].Status)
		}
	}

	ids := make([]int64, 0, len(topics))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ids = ids[:0]
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO topics (title, angle, keywords_json, score, search_volume, status, source, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := s.now()
		for i, topic := range topics {
			source := strings.TrimSpace(topic.Source)
			if source == "" {
				source = SourceTrend
			}
			// Distinct timestamps keep creation order stable for tie-breaking.
			created := formatTime(now.Add(time.Duration(i) * time.Microsecond))
			res, err := stmt.ExecContext(ctx,
				strings.TrimSpace(topic.Title),
				nullableString(strings.TrimSpace(topic.Angle)),
				encodeStrings(topic.Keywords),
				topic.Score,
				nullableInt(topic.SearchVolume),
				topic.Status,
				source,
				created,
				created,
			)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert topics: %w", err)
	}
	return ids, nil
}

// RecentTitles returns up to limit topic titles, newest first, across all statuses.
func (s *Store) RecentTitles(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT title FROM topics ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("recent titles: %w", err)
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// GetTopic returns the topic with id, or ErrTopicNotFound.
func (s *Store) GetTopic(ctx context.Context, id int64) (*Topic, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTopicNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get topic %d: %w", id, err)
	}
	return topic, nil
}

// ListTopics returns topics in selection order, optionally filtered by status.
func (s *Store) ListTopics(ctx context.Context, statuses ...Status) ([]Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY CASE status WHEN 'writing' THEN 0 WHEN 'pending' THEN 1 ELSE 2 END, score DESC, created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("list topics: %w", err)
		}
		topics = append(topics, *topic)
	}
	return topics, rows.Err()
}

// TopicCounts returns the number of topics per status. Every status is present.
func (s *Store) TopicCounts(ctx context.Context) (map[Status]int, error) {
	counts := make(map[Status]int, len(allStatuses))
	for _, status := range allStatuses {
		counts[status] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM topics GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("topic counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("topic counts: %w", err)
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}
