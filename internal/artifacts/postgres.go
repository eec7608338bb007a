package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deckwork/internal/logging"
)

const presentationTable = "presentations"

var presentationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// PostgresStore implements a Postgres-backed presentation store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore constructs a Postgres-backed presentation store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logging.NewComponentLogger("ArtifactPostgresStore"),
	}
}

// EnsureSchema creates the presentation table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("presentation store not initialized")
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    topics JSONB NOT NULL DEFAULT '[]'::jsonb,
    slides JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_presentations_user_updated ON %s (user_id, updated_at DESC);
`, presentationTable, presentationTable)

	_, err := s.pool.Exec(ctx, query)
	return err
}

// Save upserts a presentation row.
func (s *PostgresStore) Save(ctx context.Context, presentation *Presentation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if presentation == nil {
		return fmt.Errorf("presentation cannot be nil")
	}
	if !isSafePresentationID(presentation.ID) {
		return fmt.Errorf("invalid presentation ID")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("presentation store not initialized")
	}

	if presentation.CreatedAt.IsZero() {
		presentation.CreatedAt = time.Now()
	}
	presentation.UpdatedAt = time.Now()
	sortSlides(presentation.Slides)

	topicsValue := presentation.Topics
	if topicsValue == nil {
		topicsValue = []string{}
	}
	slidesValue := presentation.Slides
	if slidesValue == nil {
		slidesValue = []Slide{}
	}

	topics, err := json.Marshal(topicsValue)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	slides, err := json.Marshal(slidesValue)
	if err != nil {
		return fmt.Errorf("encode slides: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, title, topics, slides, created_at, updated_at)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    title = EXCLUDED.title,
    topics = EXCLUDED.topics,
    slides = EXCLUDED.slides,
    updated_at = EXCLUDED.updated_at
`, presentationTable)

	_, err = s.pool.Exec(ctx, query,
		presentation.ID,
		presentation.UserID,
		presentation.Title,
		topics,
		slides,
		presentation.CreatedAt,
		presentation.UpdatedAt,
	)
	if err != nil {
		logging.OrNop(s.logger).Error("Failed to persist presentation %s: %v", presentation.ID, err)
		return err
	}
	return nil
}

// Get retrieves a presentation by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Presentation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !isSafePresentationID(id) {
		return nil, fmt.Errorf("invalid presentation ID")
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("presentation store not initialized")
	}

	query := fmt.Sprintf(`
SELECT id, user_id, title, topics, slides, created_at, updated_at
FROM %s
WHERE id = $1
`, presentationTable)

	presentation, err := scanPresentation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return presentation, nil
}

// ListByUser returns a user's presentations, most recently updated first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Presentation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("presentation store not initialized")
	}

	query := fmt.Sprintf(`
SELECT id, user_id, title, topics, slides, created_at, updated_at
FROM %s
WHERE user_id = $1
ORDER BY updated_at DESC
`, presentationTable)

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var presentations []*Presentation
	for rows.Next() {
		presentation, err := scanPresentation(rows)
		if err != nil {
			return nil, err
		}
		presentations = append(presentations, presentation)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return presentations, nil
}

// Delete removes a presentation.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !isSafePresentationID(id) {
		return fmt.Errorf("invalid presentation ID")
	}
	if s == nil || s.pool == nil {
		return fmt.Errorf("presentation store not initialized")
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, presentationTable)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPresentation(row rowScanner) (*Presentation, error) {
	var (
		presentation Presentation
		topicsJSON   []byte
		slidesJSON   []byte
	)

	err := row.Scan(
		&presentation.ID,
		&presentation.UserID,
		&presentation.Title,
		&topicsJSON,
		&slidesJSON,
		&presentation.CreatedAt,
		&presentation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(topicsJSON) > 0 {
		if err := json.Unmarshal(topicsJSON, &presentation.Topics); err != nil {
			return nil, fmt.Errorf("decode topics: %w", err)
		}
	}
	if len(slidesJSON) > 0 {
		if err := json.Unmarshal(slidesJSON, &presentation.Slides); err != nil {
			return nil, fmt.Errorf("decode slides: %w", err)
		}
	}
	return &presentation, nil
}

func isSafePresentationID(id string) bool {
	return presentationIDPattern.MatchString(id)
}
