package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joescharf/revy/internal/models"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to PostgreSQL using dsn and verifies the
// connection before returning.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required (set db.dsn)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	logger := slog.Default().With("component", "postgres")
	logger.Debug("postgres store connected")

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := postgresMigrationsFS.ReadDir("migrations/postgres")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = $1", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := postgresMigrationsFS.ReadFile("migrations/postgres/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		s.logger.Info("applied migration", "file", name)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.GitHubUserID, u.GitHubLogin, u.Email, u.AccessToken,
		u.AutoReviewEnabled, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE github_login = $1`, login))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("user", login)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by login: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY github_login`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET github_user_id=$1, github_login=$2, email=$3, access_token=$4, auto_review_enabled=$5, is_active=$6, updated_at=$7
		WHERE id=$8`,
		u.GitHubUserID, u.GitHubLogin, u.Email, u.AccessToken,
		u.AutoReviewEnabled, u.IsActive, u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", u.ID)
	}
	return nil
}

// --- Repositories ---

func (s *PostgresStore) CreateRepository(ctx context.Context, r *models.Repository) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	splitFullName(r)
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO repositories (`+repositoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, r.GitHubRepoID, r.FullName, r.Name, r.Owner, r.DefaultBranch, r.Language,
		r.AutoReviewOnPR, r.IsActive, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("repository", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetRepositoryByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	r, err := scanRepository(s.pool.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE full_name = $1`, fullName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("repository", fullName)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by full name: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRepositories(ctx context.Context, userID string) ([]*models.Repository, error) {
	var rows pgx.Rows
	var err error
	if userID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+repositoryColumns+` FROM repositories WHERE user_id = $1 ORDER BY full_name`, userID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+repositoryColumns+` FROM repositories ORDER BY full_name`)
	}
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *PostgresStore) UpdateRepository(ctx context.Context, r *models.Repository) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE repositories SET github_repo_id=$1, full_name=$2, name=$3, owner=$4, default_branch=$5, language=$6, auto_review_on_pr=$7, is_active=$8, updated_at=$9
		WHERE id=$10`,
		r.GitHubRepoID, r.FullName, r.Name, r.Owner, r.DefaultBranch, r.Language,
		r.AutoReviewOnPR, r.IsActive, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("repository", r.ID)
	}
	return nil
}

// --- Reviews ---

func scanPostgresReview(row rowScanner) (*models.Review, error) {
	r := &models.Review{}
	var files, results []byte
	var status, source string
	err := row.Scan(&r.ID, &r.UserID, &r.RepositoryID, &r.PRNumber, &r.PRTitle, &r.PRDescription, &r.PRURL, &r.PRAuthor,
		&r.Branch, &r.BaseBranch, &r.CommitSHA, &r.CommitMessage, &files, &r.TotalAdditions, &r.TotalDeletions,
		&r.TotalFilesChanged, &results, &status, &r.IssuesFound, &r.CriticalIssues, &r.HighIssues,
		&r.MediumIssues, &r.LowIssues, &source, &r.ProcessingTimeMs, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.OverallStatus = models.ReviewStatus(status)
	r.TriggerSource = models.TriggerSource(source)
	if err := decodeReviewJSON(r, files, results); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) CreateReview(ctx context.Context, r *models.Review) error {
	if err := prepareReview(r); err != nil {
		return err
	}
	js, err := encodeReviewJSON(r)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reviews (`+reviewColumns+`, posted_to_github)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`,
		r.ID, r.UserID, r.RepositoryID, r.PRNumber, r.PRTitle, r.PRDescription, r.PRURL, r.PRAuthor,
		r.Branch, r.BaseBranch, r.CommitSHA, r.CommitMessage, string(js.files), r.TotalAdditions, r.TotalDeletions,
		r.TotalFilesChanged, string(js.results), string(r.OverallStatus), r.IssuesFound, r.CriticalIssues, r.HighIssues,
		r.MediumIssues, r.LowIssues, string(r.TriggerSource), r.ProcessingTimeMs, r.CreatedAt, r.UpdatedAt, r.CompletedAt,
		r.Posted(),
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReview(ctx context.Context, id string) (*models.Review, error) {
	r, err := scanPostgresReview(s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("review", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	var conditions []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+arg(filter.UserID))
	}
	if filter.RepositoryID != "" {
		conditions = append(conditions, "repository_id = "+arg(filter.RepositoryID))
	}
	if filter.Status != "" {
		conditions = append(conditions, "overall_status = "+arg(string(filter.Status)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		r, err := scanPostgresReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *PostgresStore) ListReviewsByRepository(ctx context.Context, repositoryID string, limit int) ([]*models.Review, error) {
	return s.ListReviews(ctx, ReviewListFilter{RepositoryID: repositoryID, Limit: limit})
}

func (s *PostgresStore) MarkPosted(ctx context.Context, reviewID string, c PostedComment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var results []byte
	var posted bool
	err = tx.QueryRow(ctx, `SELECT agent_results, posted_to_github FROM reviews WHERE id = $1 FOR UPDATE`, reviewID).Scan(&results, &posted)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("review", reviewID)
	}
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if posted {
		return fmt.Errorf("%w: %s", ErrAlreadyPosted, reviewID)
	}

	updated, err := applyPosted(reviewID, results, c)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE reviews SET agent_results=$1, posted_to_github=TRUE, updated_at=$2 WHERE id=$3 AND NOT posted_to_github`,
		string(updated), time.Now().UTC(), reviewID,
	)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyPosted, reviewID)
	}
	return tx.Commit(ctx)
}
