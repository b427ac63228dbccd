package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/revy/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes webhook workers and HTTP handlers through the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := sqliteMigrationsFS.ReadDir("migrations/sqlite")
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
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := sqliteMigrationsFS.ReadFile("migrations/sqlite/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- Users ---

const userColumns = `id, github_user_id, github_login, email, access_token, auto_review_enabled, is_active, created_at, updated_at`

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.GitHubUserID, &u.GitHubLogin, &u.Email, &u.AccessToken,
		&u.AutoReviewEnabled, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.GitHubUserID, u.GitHubLogin, u.Email, u.AccessToken,
		boolToInt(u.AutoReviewEnabled), boolToInt(u.IsActive), u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE github_login = ?`, login))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", login)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by login: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY github_login`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLiteStore) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET github_user_id=?, github_login=?, email=?, access_token=?, auto_review_enabled=?, is_active=?, updated_at=?
		WHERE id=?`,
		u.GitHubUserID, u.GitHubLogin, u.Email, u.AccessToken,
		boolToInt(u.AutoReviewEnabled), boolToInt(u.IsActive), u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("user", u.ID)
	}
	return nil
}

// --- Repositories ---

const repositoryColumns = `id, user_id, github_repo_id, full_name, name, owner, default_branch, language, auto_review_on_pr, is_active, created_at, updated_at`

func scanRepository(row rowScanner) (*models.Repository, error) {
	r := &models.Repository{}
	err := row.Scan(&r.ID, &r.UserID, &r.GitHubRepoID, &r.FullName, &r.Name, &r.Owner,
		&r.DefaultBranch, &r.Language, &r.AutoReviewOnPR, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// splitFullName fills Owner and Name from an "owner/name" full name when unset.
func splitFullName(r *models.Repository) {
	owner, name, ok := strings.Cut(r.FullName, "/")
	if !ok {
		return
	}
	if r.Owner == "" {
		r.Owner = owner
	}
	if r.Name == "" {
		r.Name = name
	}
}

func (s *SQLiteStore) CreateRepository(ctx context.Context, r *models.Repository) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (`+repositoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.GitHubRepoID, r.FullName, r.Name, r.Owner, r.DefaultBranch, r.Language,
		boolToInt(r.AutoReviewOnPR), boolToInt(r.IsActive), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRepositoryByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	r, err := scanRepository(s.db.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE full_name = ?`, fullName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", fullName)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by full name: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context, userID string) ([]*models.Repository, error) {
	var rows *sql.Rows
	var err error
	if userID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+repositoryColumns+` FROM repositories WHERE user_id = ? ORDER BY full_name`, userID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+repositoryColumns+` FROM repositories ORDER BY full_name`)
	}
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLiteStore) UpdateRepository(ctx context.Context, r *models.Repository) error {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET github_repo_id=?, full_name=?, name=?, owner=?, default_branch=?, language=?, auto_review_on_pr=?, is_active=?, updated_at=?
		WHERE id=?`,
		r.GitHubRepoID, r.FullName, r.Name, r.Owner, r.DefaultBranch, r.Language,
		boolToInt(r.AutoReviewOnPR), boolToInt(r.IsActive), r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update repository: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("repository", r.ID)
	}
	return nil
}

// --- Reviews ---

const reviewColumns = `id, user_id, repository_id, pr_number, pr_title, pr_description, pr_url, pr_author,
	branch, base_branch, commit_sha, commit_message, files_changed, total_additions, total_deletions,
	total_files_changed, agent_results, overall_status, issues_found, critical_issues, high_issues,
	medium_issues, low_issues, trigger_source, processing_time_ms, created_at, updated_at, completed_at`

func scanSQLiteReview(row rowScanner) (*models.Review, error) {
	r := &models.Review{}
	var files, results string
	var completedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UserID, &r.RepositoryID, &r.PRNumber, &r.PRTitle, &r.PRDescription, &r.PRURL, &r.PRAuthor,
		&r.Branch, &r.BaseBranch, &r.CommitSHA, &r.CommitMessage, &files, &r.TotalAdditions, &r.TotalDeletions,
		&r.TotalFilesChanged, &results, &r.OverallStatus, &r.IssuesFound, &r.CriticalIssues, &r.HighIssues,
		&r.MediumIssues, &r.LowIssues, &r.TriggerSource, &r.ProcessingTimeMs, &r.CreatedAt, &r.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if err := decodeReviewJSON(r, []byte(files), []byte(results)); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) CreateReview(ctx context.Context, r *models.Review) error {
	if err := prepareReview(r); err != nil {
		return err
	}
	js, err := encodeReviewJSON(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reviews (`+reviewColumns+`, posted_to_github)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.RepositoryID, r.PRNumber, r.PRTitle, r.PRDescription, r.PRURL, r.PRAuthor,
		r.Branch, r.BaseBranch, r.CommitSHA, r.CommitMessage, string(js.files), r.TotalAdditions, r.TotalDeletions,
		r.TotalFilesChanged, string(js.results), string(r.OverallStatus), r.IssuesFound, r.CriticalIssues, r.HighIssues,
		r.MediumIssues, r.LowIssues, string(r.TriggerSource), r.ProcessingTimeMs, r.CreatedAt, r.UpdatedAt, r.CompletedAt,
		boolToInt(r.Posted()),
	)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReview(ctx context.Context, id string) (*models.Review, error) {
	r, err := scanSQLiteReview(s.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("review", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, filter ReviewListFilter) ([]*models.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	var conditions []string
	var args []any

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.RepositoryID != "" {
		conditions = append(conditions, "repository_id = ?")
		args = append(args, filter.RepositoryID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "overall_status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reviews []*models.Review
	for rows.Next() {
		r, err := scanSQLiteReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (s *SQLiteStore) ListReviewsByRepository(ctx context.Context, repositoryID string, limit int) ([]*models.Review, error) {
	return s.ListReviews(ctx, ReviewListFilter{RepositoryID: repositoryID, Limit: limit})
}

func (s *SQLiteStore) MarkPosted(ctx context.Context, reviewID string, c PostedComment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var results string
	var posted bool
	err = tx.QueryRowContext(ctx, `SELECT agent_results, posted_to_github FROM reviews WHERE id = ?`, reviewID).Scan(&results, &posted)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("review", reviewID)
	}
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if posted {
		return fmt.Errorf("%w: %s", ErrAlreadyPosted, reviewID)
	}

	updated, err := applyPosted(reviewID, []byte(results), c)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reviews SET agent_results=?, posted_to_github=1, updated_at=? WHERE id=? AND posted_to_github=0`,
		string(updated), time.Now().UTC(), reviewID,
	)
	if err != nil {
		return fmt.Errorf("mark posted: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyPosted, reviewID)
	}
	return tx.Commit()
}
