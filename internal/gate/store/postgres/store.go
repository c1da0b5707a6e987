// Package postgres persists the gate entities in PostgreSQL. Every method runs
// on the transaction bound to the context when there is one, so calls made
// inside a Serializer.Run callback share its serializable transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"votegate/internal/gate/models"
	"votegate/internal/gate/ports"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
)

// Store is pure I/O; lifecycle rules live in the models and the service.
type Store struct {
	db *sql.DB
	tx.SQLBeginner
}

var _ ports.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db, SQLBeginner: tx.SQLBeginner{DB: db}}
}

func (s *Store) execer(ctx context.Context) tx.DBTX {
	return tx.Executor(ctx, s.db)
}

const voterColumns = `id, election_id, first_name, last_name, email, postal_code, tlf, national_id,
	ip, lang_code, receive_mail_updates, status, token_guesses, is_active, message_id, created, modified`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVoter(row rowScanner) (*models.Voter, error) {
	var (
		v         models.Voter
		status    string
		messageID sql.NullInt64
	)
	err := row.Scan(
		&v.ID, &v.ElectionID, &v.FirstName, &v.LastName, &v.Email, &v.PostalCode, &v.Tlf, &v.NationalID,
		&v.IP, &v.LangCode, &v.ReceiveMailUpdates, &status, &v.TokenGuesses, &v.IsActive, &messageID,
		&v.Created, &v.Modified,
	)
	if err != nil {
		return nil, err
	}
	v.Status = models.VoterStatus(status)
	if messageID.Valid {
		id := messageID.Int64
		v.MessageID = &id
	}
	return &v, nil
}

func (s *Store) CreateVoter(ctx context.Context, v *models.Voter) error {
	query := `
		INSERT INTO voters (election_id, first_name, last_name, email, postal_code, tlf, national_id,
			ip, lang_code, receive_mail_updates, status, token_guesses, is_active, message_id, created, modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		v.ElectionID, v.FirstName, v.LastName, v.Email, v.PostalCode, v.Tlf, v.NationalID,
		v.IP, v.LangCode, v.ReceiveMailUpdates, string(v.Status), v.TokenGuesses, v.IsActive,
		nullableID(v.MessageID), v.Created, v.Modified,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("create voter: %w", err)
	}
	return nil
}

func (s *Store) UpdateVoter(ctx context.Context, v *models.Voter) error {
	query := `
		UPDATE voters
		SET status = $2, token_guesses = $3, is_active = $4, message_id = $5, modified = $6
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		v.ID, string(v.Status), v.TokenGuesses, v.IsActive, nullableID(v.MessageID), v.Modified,
	)
	if err != nil {
		return fmt.Errorf("update voter: %w", err)
	}
	return requireRow(res, fmt.Sprintf("voter %d", v.ID))
}

func (s *Store) GetVoter(ctx context.Context, id int64) (*models.Voter, error) {
	query := `SELECT ` + voterColumns + ` FROM voters WHERE id = $1`
	v, err := scanVoter(s.execer(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("voter %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get voter: %w", err)
	}
	return v, nil
}

func (s *Store) GetVoterByMessage(ctx context.Context, messageID int64) (*models.Voter, error) {
	query := `SELECT ` + voterColumns + ` FROM voters WHERE message_id = $1 ORDER BY id DESC LIMIT 1`
	v, err := scanVoter(s.execer(ctx).QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("voter for message %d: %w", messageID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get voter by message: %w", err)
	}
	return v, nil
}

func (s *Store) FindActiveVoters(ctx context.Context, q ports.VoterQuery) ([]*models.Voter, error) {
	query := `
		SELECT ` + voterColumns + `
		FROM voters
		WHERE election_id = $1
		  AND is_active
		  AND (tlf = $2 OR ($3 <> '' AND national_id = $3))
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4))
		ORDER BY created DESC, id DESC
	`
	statuses := make([]string, len(q.Statuses))
	for i, st := range q.Statuses {
		statuses[i] = string(st)
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, q.ElectionID, q.Tlf, q.NationalID, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("find active voters: %w", err)
	}
	defer rows.Close()

	var out []*models.Voter
	for rows.Next() {
		v, err := scanVoter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return out, nil
}

const messageColumns = `id, tlf, ip, lang_code, token_hash, authenticated, status, content, created, modified`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m      models.Message
		status string
	)
	err := row.Scan(&m.ID, &m.Tlf, &m.IP, &m.LangCode, &m.TokenHash, &m.Authenticated, &status,
		&m.Content, &m.Created, &m.Modified)
	if err != nil {
		return nil, err
	}
	m.Status = models.MessageStatus(status)
	return &m, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	query := `
		INSERT INTO messages (tlf, ip, lang_code, token_hash, authenticated, status, content, created, modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		m.Tlf, m.IP, m.LangCode, m.TokenHash, m.Authenticated, string(m.Status), m.Content, m.Created, m.Modified,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, m *models.Message) error {
	query := `
		UPDATE messages
		SET authenticated = $2, status = $3, content = $4, modified = $5
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, m.ID, m.Authenticated, string(m.Status), m.Content, m.Modified)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(res, fmt.Sprintf("message %d", m.ID))
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	m, err := scanMessage(s.execer(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, q ports.MessageQuery) ([]*models.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ($1 = '' OR tlf = $1)
		  AND ($2 = '' OR ip = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, q.Tlf, q.IP, string(q.Status))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, f models.CountFilter) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE ($1 = '' OR tlf = $1)
		  AND ($2 = '' OR ip = $2)
		  AND ($3::timestamptz IS NULL OR created >= $3)
		  AND (NOT $4 OR NOT authenticated)
		  AND status = ANY($5)
	`
	statuses := make([]string, 0, len(f.EffectiveStatuses()))
	for _, st := range f.EffectiveStatuses() {
		statuses = append(statuses, string(st))
	}
	var since sql.NullTime
	if f.Since != nil {
		since = sql.NullTime{Time: *f.Since, Valid: true}
	}

	var count int
	err := s.execer(ctx).QueryRowContext(ctx, query,
		f.Phone, f.IP, since, f.ExcludeAuthenticated, pq.Array(statuses),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *Store) FindColorList(ctx context.Context, f models.ColorListFilter) ([]*models.ColorListEntry, error) {
	query := `
		SELECT id, dimension, action, value, created, modified
		FROM color_list
		WHERE ($1 = '' OR dimension = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3 = '' OR value = $3)
		ORDER BY id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(f.Dimension), string(f.Action), f.Value)
	if err != nil {
		return nil, fmt.Errorf("find color list: %w", err)
	}
	defer rows.Close()

	var out []*models.ColorListEntry
	for rows.Next() {
		var (
			e         models.ColorListEntry
			dimension string
			action    string
		)
		if err := rows.Scan(&e.ID, &dimension, &action, &e.Value, &e.Created, &e.Modified); err != nil {
			return nil, fmt.Errorf("scan color list entry: %w", err)
		}
		e.Dimension = models.Dimension(dimension)
		e.Action = models.Action(action)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate color list: %w", err)
	}
	return out, nil
}

func (s *Store) AddColorList(ctx context.Context, e *models.ColorListEntry) error {
	query := `
		INSERT INTO color_list (dimension, action, value, created, modified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.execer(ctx).QueryRowContext(ctx, query,
		string(e.Dimension), string(e.Action), e.Value, e.Created, e.Modified,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("add color list entry: %w", err)
	}
	return nil
}

func (s *Store) RemoveColorList(ctx context.Context, f models.ColorListFilter) (int64, error) {
	query := `
		DELETE FROM color_list
		WHERE ($1 = '' OR dimension = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3 = '' OR value = $3)
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, string(f.Dimension), string(f.Action), f.Value)
	if err != nil {
		return 0, fmt.Errorf("remove color list entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove color list rows affected: %w", err)
	}
	return n, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	return nil
}
