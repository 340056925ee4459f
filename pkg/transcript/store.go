// Package transcript persists delivered messages per stream in SQLite so
// finished sessions can be replayed after the process restarts.
package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/corvid-agent/corvid/internal/observability"
	"github.com/corvid-agent/corvid/pkg/codec"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	stream_id  TEXT NOT NULL,
	msg_id     TEXT NOT NULL,
	kind       TEXT NOT NULL,
	subtype    TEXT,
	content    TEXT,
	meta       TEXT,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (stream_id, msg_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_stream ON messages(stream_id);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
`

// Store is a SQLite-backed transcript store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the transcript database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize transcript schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Transcript store opened")
	return &Store{db: db, path: path}, nil
}

// Append persists one delivered message under streamID.
func (s *Store) Append(streamID string, msg codec.Message) error {
	start := time.Now()
	defer func() {
		observability.RecordTranscriptWrite(time.Since(start))
	}()

	var meta []byte
	if len(msg.Meta) > 0 {
		var err error
		meta, err = json.Marshal(msg.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal message meta: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO messages (stream_id, msg_id, kind, subtype, content, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		streamID, msg.ID, string(msg.Kind), msg.Subtype, msg.Content, string(meta), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Load returns all messages recorded for streamID in insertion order.
func (s *Store) Load(streamID string) ([]codec.Message, error) {
	rows, err := s.db.Query(
		`SELECT msg_id, kind, subtype, content, meta, created_at
		 FROM messages WHERE stream_id = ? ORDER BY created_at, msg_id`,
		streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []codec.Message
	for rows.Next() {
		var (
			msg     codec.Message
			kind    string
			subtype sql.NullString
			content sql.NullString
			meta    sql.NullString
		)
		if err := rows.Scan(&msg.ID, &kind, &subtype, &content, &meta, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Kind = codec.Kind(kind)
		msg.Subtype = subtype.String
		msg.Content = content.String
		if meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &msg.Meta); err != nil {
				log.Warn().Err(err).Str("msg_id", msg.ID).Msg("Failed to parse stored meta, skipping field")
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Prune deletes messages created before cutoff. Returns rows removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("Transcripts pruned")
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
