package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/elly-james/camision/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, role, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		user.Email, user.Name, user.Role, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

// GetAdmin returns the operator account. Exactly one is seeded by migration.
func (s *PostgresStore) GetAdmin(ctx context.Context) (*models.User, error) {
	return s.getUser(ctx, `WHERE role = 'admin' ORDER BY id LIMIT 1`)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, args ...any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM users `+where, args...,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- Jobs ---

const jobColumns = `id, user_id, client_email, subject, title, pages, deadline, instructions,
	cited_resources, formatting_style, writer_level, spacing, total_amount, status,
	payment_status, order_tracking_id, completion_tracking_id, files, completed_files, created_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.ClientEmail, &j.Subject, &j.Title, &j.Pages,
		&j.Deadline, &j.Instructions, &j.CitedResources, &j.FormattingStyle, &j.WriterLevel,
		&j.Spacing, &j.TotalAmount, &j.Status, &j.PaymentStatus, &j.OrderTrackingID,
		&j.CompletionTrackingID, &j.Files, &j.CompletedFiles, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (user_id, client_email, subject, title, pages, deadline, instructions,
		   cited_resources, formatting_style, writer_level, spacing, total_amount, status,
		   payment_status, files)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, created_at`,
		job.UserID, job.ClientEmail, job.Subject, job.Title, job.Pages, job.Deadline,
		job.Instructions, job.CitedResources, job.FormattingStyle, job.WriterLevel,
		job.Spacing, job.TotalAmount, job.Status, job.PaymentStatus, job.Files,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if filter.UserID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *filter.UserID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetJob returns the full job detail, message thread included.
func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	jobID := j.ID
	msgs, err := s.ListMessages(ctx, MessageFilter{JobID: &jobID})
	if err != nil {
		return nil, err
	}
	j.Messages = make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		j.Messages = append(j.Messages, *m)
	}
	return j, nil
}

func (s *PostgresStore) GetJobByTrackingID(ctx context.Context, trackingID string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE order_tracking_id = $1 OR completion_tracking_id = $1`, trackingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by tracking id: %w", err)
	}
	return j, nil
}

var validStatusTransitions = map[string][]string{
	models.JobStatusPendingPayment: {models.JobStatusPending},
	models.JobStatusPending:        {models.JobStatusInProgress, models.JobStatusCompleted},
	models.JobStatusInProgress:     {models.JobStatusCompleted, models.JobStatusPending},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id int64, status string) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	valid := false
	for _, a := range validStatusTransitions[current] {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid job status transition: %s -> %s", current, status)
	}

	_, err = s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobPayment(ctx context.Context, id int64, paymentStatus string, opts ...PaymentUpdateOption) error {
	params := ResolvePaymentUpdate(opts)

	query := `UPDATE jobs SET payment_status = $2`
	args := []any{id, paymentStatus}
	argIdx := 3

	if params.OrderTrackingID != nil {
		query += fmt.Sprintf(", order_tracking_id = $%d", argIdx)
		args = append(args, *params.OrderTrackingID)
		argIdx++
	}
	if params.CompletionTrackingID != nil {
		query += fmt.Sprintf(", completion_tracking_id = $%d", argIdx)
		args = append(args, *params.CompletionTrackingID)
		argIdx++
	}
	if params.JobStatus != nil {
		query += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, *params.JobStatus)
		argIdx++
	}

	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendJobFiles(ctx context.Context, id int64, completed bool, names []string) error {
	col := "files"
	if completed {
		col = "completed_files"
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE jobs SET %s = %s || $2 WHERE id = $1`, col, col), id, names)
	if err != nil {
		return fmt.Errorf("append job files: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

const messageColumns = `id, job_id, sender_id, sender_role, recipient_id, client_id, content, files, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.JobID, &m.SenderID, &m.SenderRole, &m.RecipientID,
		&m.ClientID, &m.Content, &m.Files, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (job_id, sender_id, sender_role, recipient_id, client_id, content, files)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		msg.JobID, msg.SenderID, msg.SenderRole, msg.RecipientID, msg.ClientID,
		msg.Content, msg.Files,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]*models.Message, error) {
	conditions := []string{}
	args := []any{}
	argIdx := 1

	if filter.JobID != nil {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, *filter.JobID)
		argIdx++
	}
	if filter.General {
		conditions = append(conditions, "job_id IS NULL")
	}
	if filter.ClientID != nil {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", argIdx))
		args = append(args, *filter.ClientID)
		argIdx++
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id int64, content string) (*models.Message, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`UPDATE messages SET content = $2 WHERE id = $1 RETURNING `+messageColumns, id, content))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Blogs ---

func (s *PostgresStore) ListBlogs(ctx context.Context) ([]*models.Blog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, content, image_url, created_at FROM blogs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list blogs: %w", err)
	}
	defer rows.Close()

	blogs := []*models.Blog{}
	for rows.Next() {
		var b models.Blog
		if err := rows.Scan(&b.ID, &b.Title, &b.Content, &b.ImageURL, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blog: %w", err)
		}
		blogs = append(blogs, &b)
	}
	return blogs, rows.Err()
}

func (s *PostgresStore) GetBlog(ctx context.Context, id int64) (*models.Blog, error) {
	var b models.Blog
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, content, image_url, created_at FROM blogs WHERE id = $1`, id,
	).Scan(&b.ID, &b.Title, &b.Content, &b.ImageURL, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blog: %w", err)
	}
	return &b, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
