package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

const (
	uniqueViolation    = "23505"
	messageSequenceKey = "messages_chat_sequence_key"
)

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"chats",
		"messages",
		"chat_sources",
		"chat_events",
		"chat_event_sequences",
		"research_reports",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateChat(ctx context.Context, chat store.Chat) error {
	const query = `
		INSERT INTO chats (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := p.db.ExecContext(ctx, query, chat.ID, chat.Title, parseTimestampValue(chat.CreatedAt), parseTimestampValue(chat.UpdatedAt))
	return err
}

func (p *PostgresStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	const query = `
		SELECT id, title, created_at, updated_at
		FROM chats
		WHERE id = $1
	`
	var chat store.Chat
	var createdAt, updatedAt time.Time
	err := p.db.QueryRowContext(ctx, query, chatID).Scan(&chat.ID, &chat.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	chat.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	chat.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &chat, nil
}

func (p *PostgresStore) ListChats(ctx context.Context) ([]store.ChatSummary, error) {
	const query = `
		SELECT c.id, c.title, c.created_at, c.updated_at, COUNT(m.id)
		FROM chats c
		LEFT JOIN messages m ON m.chat_id = c.id
		GROUP BY c.id, c.title, c.created_at, c.updated_at
		ORDER BY c.updated_at DESC, c.id ASC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.ChatSummary{}
	for rows.Next() {
		var summary store.ChatSummary
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&summary.ID, &summary.Title, &createdAt, &updatedAt, &summary.MessageCount); err != nil {
			return nil, err
		}
		summary.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		summary.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", chatID)
	return err
}

// AddMessage locks the chat row so concurrent appends to one chat take
// sequences one at a time.
func (p *PostgresStore) AddMessage(ctx context.Context, msg store.Message) (int64, error) {
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return 0, err
	}
	createdAt := parseTimestampValue(msg.CreatedAt)
	const lockQuery = `SELECT id FROM chats WHERE id = $1 FOR UPDATE`
	const nextQuery = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE chat_id = $1`
	const insertQuery = `
		INSERT INTO messages (id, chat_id, role, content, sequence, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	const touchQuery = `
		UPDATE chats
		SET updated_at = $2,
			title = CASE WHEN title = '' AND $3::text = 'user' THEN $4::text ELSE title END
		WHERE id = $1
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.QueryRowContext(ctx, lockQuery, msg.ChatID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("chat %s not found", msg.ChatID)
		}
		return 0, err
	}
	seq := msg.Sequence
	if seq <= 0 {
		if err = tx.QueryRowContext(ctx, nextQuery, msg.ChatID).Scan(&seq); err != nil {
			return 0, err
		}
	}
	if _, err = tx.ExecContext(ctx, insertQuery, msg.ID, msg.ChatID, msg.Role, msg.Content, seq, createdAt, encoded); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == messageSequenceKey {
			err = fmt.Errorf("chat %s sequence %d: %w", msg.ChatID, seq, store.ErrSequenceTaken)
		}
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, touchQuery, msg.ChatID, createdAt, msg.Role, store.TitleFrom(msg.Content)); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	const query = `
		SELECT id, chat_id, role, content, sequence, created_at, metadata
		FROM messages
		WHERE chat_id = $1
		ORDER BY sequence ASC
	`
	rows, err := p.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Message{}
	for rows.Next() {
		var createdAt time.Time
		var metadataBytes []byte
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &msg.Sequence, &createdAt, &metadataBytes); err != nil {
			return nil, err
		}
		msg.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		if len(metadataBytes) > 0 {
			metadata := map[string]any{}
			if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
				return nil, err
			}
			msg.Metadata = metadata
		} else {
			msg.Metadata = map[string]any{}
		}
		results = append(results, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AddSources(ctx context.Context, sources []store.Source) error {
	if len(sources) == 0 {
		return nil
	}
	const query = `
		INSERT INTO chat_sources (chat_id, url, favicon, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id, url) DO NOTHING
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, source := range sources {
		if strings.TrimSpace(source.URL) == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, query, source.ChatID, source.URL, source.Favicon, parseTimestampValue(source.CreatedAt)); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (p *PostgresStore) ListSources(ctx context.Context, chatID string) ([]store.Source, error) {
	const query = `
		SELECT chat_id, url, favicon, created_at
		FROM chat_sources
		WHERE chat_id = $1
		ORDER BY position ASC
	`
	rows, err := p.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.Source{}
	for rows.Next() {
		var source store.Source
		var createdAt time.Time
		if err := rows.Scan(&source.ChatID, &source.URL, &source.Favicon, &createdAt); err != nil {
			return nil, err
		}
		source.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		results = append(results, source)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.ChatEvent) error {
	event.Type = strings.TrimSpace(strings.ToLower(event.Type))
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	var traceIDValue any
	if traceID := strings.TrimSpace(event.TraceID); traceID != "" {
		if _, err := uuid.Parse(traceID); err == nil {
			traceIDValue = traceID
		}
	}
	const query = `
		INSERT INTO chat_events (chat_id, seq, type, timestamp, source, trace_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(ctx, query, event.ChatID, event.Seq, event.Type, parseTimestampValue(timestamp), event.Source, traceIDValue, encoded)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, chatID string, afterSeq int64) ([]store.ChatEvent, error) {
	const query = `
		SELECT chat_id, seq, type, timestamp, source, trace_id, payload
		FROM chat_events
		WHERE chat_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, chatID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.ChatEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var traceID sql.NullString
		var event store.ChatEvent
		if err := rows.Scan(&event.ChatID, &event.Seq, &event.Type, &timestamp, &event.Source, &traceID, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if traceID.Valid {
			event.TraceID = traceID.String
		}
		event.Payload = decodeJSONMap(payloadBytes)
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, chatID string) (int64, error) {
	const query = `
		INSERT INTO chat_event_sequences (chat_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (chat_id)
		DO UPDATE SET last_seq = chat_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, chatID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) CreateResearchReport(ctx context.Context, report store.ResearchReport) error {
	urls, err := encodeStringSlice(report.URLs)
	if err != nil {
		return err
	}
	fetched, err := encodeStringSlice(report.FetchedURLs)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO research_reports (id, query, profile, status, urls, fetched_urls, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.Query,
		report.Profile,
		report.Status,
		urls,
		fetched,
		nullString(report.Error),
		parseTimestampValue(report.CreatedAt),
		parseTimestampValue(report.UpdatedAt),
	)
	return err
}

func (p *PostgresStore) UpdateResearchReport(ctx context.Context, report store.ResearchReport) error {
	urls, err := encodeStringSlice(report.URLs)
	if err != nil {
		return err
	}
	fetched, err := encodeStringSlice(report.FetchedURLs)
	if err != nil {
		return err
	}
	const query = `
		UPDATE research_reports
		SET status = $2, urls = $3, fetched_urls = $4, error = $5, updated_at = $6
		WHERE id = $1
	`
	result, err := p.db.ExecContext(ctx, query, report.ID, report.Status, urls, fetched, nullString(report.Error), parseTimestampValue(report.UpdatedAt))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("research report %s not found", report.ID)
	}
	return nil
}

func (p *PostgresStore) GetResearchReport(ctx context.Context, reportID string) (*store.ResearchReport, error) {
	const query = `
		SELECT id, query, profile, status, urls, fetched_urls, error, created_at, updated_at
		FROM research_reports
		WHERE id = $1
	`
	var report store.ResearchReport
	var urls, fetched []byte
	var errText sql.NullString
	var createdAt, updatedAt time.Time
	err := p.db.QueryRowContext(ctx, query, reportID).Scan(
		&report.ID,
		&report.Query,
		&report.Profile,
		&report.Status,
		&urls,
		&fetched,
		&errText,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	report.URLs = decodeStringSlice(urls)
	report.FetchedURLs = decodeStringSlice(fetched)
	if errText.Valid {
		report.Error = errText.String
	}
	report.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	report.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &report, nil
}

func parseTimestampValue(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func nullString(value string) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return value
}

func encodeStringSlice(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func decodeStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	values := []string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func decodeJSONMap(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
