package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const topicColumns = "id, title, angle, keywords_json, score, search_volume, status, source, created_at, updated_at, claimed_at, used_at"

const articleColumns = "id, topic_id, slug, title, meta_description, content_md, content_html, tags_json, cover_image, cta_url, status, published_at, created_at, updated_at, views, telegram_sent"

type scanner interface{ Scan(dest ...any) error }

func scanTopic(row scanner) (*Topic, error) {
	var (
		topic      Topic
		angle      sql.NullString
		keywords   sql.NullString
		volume     sql.NullInt64
		status     string
		createdRaw string
		updatedRaw string
		claimedRaw sql.NullString
		usedRaw    sql.NullString
	)
	if err := row.Scan(
		&topic.ID,
		&topic.Title,
		&angle,
		&keywords,
		&topic.Score,
		&volume,
		&status,
		&topic.Source,
		&createdRaw,
		&updatedRaw,
		&claimedRaw,
		&usedRaw,
	); err != nil {
		return nil, err
	}
	topic.Angle = angle.String
	topic.Status = Status(status)
	topic.Keywords = decodeStrings(keywords.String)
	if volume.Valid {
		v := volume.Int64
		topic.SearchVolume = &v
	}
	topic.CreatedAt, _ = parseTimeString(createdRaw)
	topic.UpdatedAt, _ = parseTimeString(updatedRaw)
	topic.ClaimedAt = parseNullableTime(claimedRaw)
	topic.UsedAt = parseNullableTime(usedRaw)
	return &topic, nil
}

func scanArticle(row scanner) (*Article, error) {
	var (
		article      Article
		topicID      sql.NullInt64
		tags         string
		cover        sql.NullString
		publishedRaw string
		createdRaw   string
		updatedRaw   string
		sent         int
	)
	if err := row.Scan(
		&article.ID,
		&topicID,
		&article.Slug,
		&article.Title,
		&article.MetaDescription,
		&article.ContentMD,
		&article.ContentHTML,
		&tags,
		&cover,
		&article.CTAURL,
		&article.Status,
		&publishedRaw,
		&createdRaw,
		&updatedRaw,
		&article.Views,
		&sent,
	); err != nil {
		return nil, err
	}
	article.TopicID = topicID.Int64
	article.Tags = decodeStrings(tags)
	article.CoverImage = cover.String
	article.TelegramSent = sent != 0
	article.PublishedAt, _ = parseTimeString(publishedRaw)
	article.CreatedAt, _ = parseTimeString(createdRaw)
	article.UpdatedAt, _ = parseTimeString(updatedRaw)
	return &article, nil
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	parsed, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
