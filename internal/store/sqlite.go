package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const userColumns = `chat_id, created_at, updated_at, last_active_at, active,
       lc_username, handle_invalid, tz, remind_times`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		chatID        int64
		createdAt     int64
		updatedAt     int64
		lastActiveNS  sql.NullInt64
		activeInt     int
		lcUsernameNS  sql.NullString
		handleInvalid int
		tz            string
		timesJSON     string
	)
	if err := row.Scan(
		&chatID, &createdAt, &updatedAt, &lastActiveNS, &activeInt,
		&lcUsernameNS, &handleInvalid, &tz, &timesJSON,
	); err != nil {
		return nil, err
	}
	return &domain.User{
		ChatID:        chatID,
		Active:        activeInt != 0,
		LCUsername:    lcUsernameNS.String,
		HandleInvalid: handleInvalid != 0,
		TZ:            tz,
		RemindTimes:   timesFromJSON(timesJSON),
		CreatedAt:     time.Unix(createdAt, 0).UTC(),
		UpdatedAt:     time.Unix(updatedAt, 0).UTC(),
		LastActiveAt:  fromNullInt64(lastActiveNS),
	}, nil
}

// UpsertUser inserts or updates a user's profile. created_at of an
// existing row is preserved.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}

	now := time.Now().UTC().Unix()
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			chat_id, created_at, updated_at, last_active_at, active,
			lc_username, handle_invalid, tz, remind_times
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			updated_at     = excluded.updated_at,
			last_active_at = excluded.last_active_at,
			active         = excluded.active,
			lc_username    = excluded.lc_username,
			handle_invalid = excluded.handle_invalid,
			tz             = excluded.tz,
			remind_times   = excluded.remind_times`,
		u.ChatID, created, now, toNullInt64(u.LastActiveAt), boolToInt(u.Active),
		toNullString(u.LCUsername), boolToInt(u.HandleInvalid), u.TZ,
		timesToJSON(u.RemindTimes),
	)
	return err
}

// GetUser returns a user by chatID, or (nil, nil) if absent.
func (r *SQLiteRepo) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns users ordered by creation time.
func (r *SQLiteRepo) ListUsers(ctx context.Context, activeOnly bool, limit, offset int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at ASC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// FindByHandle returns users whose LeetCode handle matches lcUsername.
func (r *SQLiteRepo) FindByHandle(ctx context.Context, lcUsername string) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lc_username = ? ORDER BY chat_id ASC`,
		lcUsername)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]domain.User, error) {
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

// SetActive toggles the active flag. Users are never deleted, only
// deactivated.
func (r *SQLiteRepo) SetActive(ctx context.Context, chatID int64, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET active = ?, updated_at = ? WHERE chat_id = ?`,
		boolToInt(active), time.Now().UTC().Unix(), chatID)
	return err
}

// SetHandleInvalid flags a user's handle as a configuration problem so the
// scheduler stops verifying it until the handle changes.
func (r *SQLiteRepo) SetHandleInvalid(ctx context.Context, chatID int64, invalid bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET handle_invalid = ?, updated_at = ? WHERE chat_id = ?`,
		boolToInt(invalid), time.Now().UTC().Unix(), chatID)
	return err
}

// Stats aggregates user counts for the read API.
func (r *SQLiteRepo) Stats(ctx context.Context) (*domain.Stats, error) {
	st := &domain.Stats{ByTimezone: map[string]int{}}

	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(active), 0),
		       COALESCE(SUM(CASE WHEN lc_username IS NOT NULL AND lc_username != '' THEN 1 ELSE 0 END), 0)
		FROM users`)
	if err := row.Scan(&st.TotalUsers, &st.ActiveUsers, &st.WithHandle); err != nil {
		return nil, err
	}
	st.InactiveUsers = st.TotalUsers - st.ActiveUsers

	rows, err := r.db.QueryContext(ctx, `SELECT tz, COUNT(*) FROM users GROUP BY tz`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tz string
		var n int
		if err := rows.Scan(&tz, &n); err != nil {
			return nil, err
		}
		st.ByTimezone[tz] = n
	}
	return st, rows.Err()
}

// ListDue scans active users with a configured handle and filters their
// slots through the fire-window arithmetic in the user's own timezone.
// A broken timezone makes the user ineligible for this tick only.
func (r *SQLiteRepo) ListDue(ctx context.Context, now time.Time, resolution time.Duration) ([]domain.DueSlot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE active = 1
		ORDER BY chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.DueSlot
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		loc, err := u.Location()
		if err != nil {
			continue // bad zone data, the scheduler logs this via GetUser paths
		}
		for _, slot := range domain.DueSlots(now, u, loc, resolution) {
			res = append(res, domain.DueSlot{User: *u, Slot: slot})
		}
	}
	return res, rows.Err()
}

const verificationColumns = `chat_id, day, outcome, checked_at, congrats_sent,
       notified_times, solve_title, solve_slug, solve_lang, solve_time`

func scanVerification(row rowScanner) (*domain.DailyVerification, error) {
	var (
		chatID    int64
		day       string
		outcome   string
		checkedAt int64
		congrats  int
		timesJSON string
		titleNS   sql.NullString
		slugNS    sql.NullString
		langNS    sql.NullString
		timeNS    sql.NullString
	)
	if err := row.Scan(
		&chatID, &day, &outcome, &checkedAt, &congrats,
		&timesJSON, &titleNS, &slugNS, &langNS, &timeNS,
	); err != nil {
		return nil, err
	}
	v := &domain.DailyVerification{
		ChatID:        chatID,
		Day:           day,
		Outcome:       domain.Outcome(outcome),
		CheckedAt:     time.Unix(checkedAt, 0).UTC(),
		CongratsSent:  congrats != 0,
		NotifiedTimes: timesFromJSON(timesJSON),
	}
	if titleNS.Valid {
		v.Solve = &domain.Solve{
			Title:     titleNS.String,
			Slug:      slugNS.String,
			Lang:      langNS.String,
			LocalTime: timeNS.String,
		}
	}
	return v, nil
}

// GetVerification returns the daily record for (chatID, day), or (nil, nil).
func (r *SQLiteRepo) GetVerification(ctx context.Context, chatID int64, day string) (*domain.DailyVerification, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM daily_verifications WHERE chat_id = ? AND day = ?`,
		chatID, day)
	v, err := scanVerification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// PutVerification upserts a daily record. Monotonicity is enforced inside
// the transaction: the outcome CASE keeps a stored Solved whatever the
// interleaving, and notified_times is the union of the stored and incoming
// sets, so a stale writer can never shrink the slot-dedup marks. The
// stored row is read back and returned.
func (r *SQLiteRepo) PutVerification(ctx context.Context, v *domain.DailyVerification) (*domain.DailyVerification, error) {
	if v == nil {
		return nil, errors.New("nil verification")
	}
	if !v.Outcome.Valid() {
		return nil, fmt.Errorf("invalid outcome %q", v.Outcome)
	}

	checked := v.CheckedAt.UTC().Unix()
	if v.CheckedAt.IsZero() {
		checked = time.Now().UTC().Unix()
	}
	var title, slug, lang, localTime sql.NullString
	if v.Solve != nil {
		title = toNullString(v.Solve.Title)
		slug = toNullString(v.Solve.Slug)
		lang = toNullString(v.Solve.Lang)
		localTime = toNullString(v.Solve.LocalTime)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var storedTimes sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT notified_times FROM daily_verifications WHERE chat_id = ? AND day = ?`,
		v.ChatID, v.Day).Scan(&storedTimes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	notified := unionTimes(timesFromJSON(storedTimes.String), v.NotifiedTimes)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_verifications (
			chat_id, day, outcome, checked_at, congrats_sent,
			notified_times, solve_title, solve_slug, solve_lang, solve_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, day) DO UPDATE SET
			outcome = CASE
				WHEN daily_verifications.outcome = 'solved' THEN daily_verifications.outcome
				WHEN daily_verifications.outcome = 'not_solved' AND excluded.outcome = 'unknown'
					THEN daily_verifications.outcome
				ELSE excluded.outcome
			END,
			checked_at     = MAX(daily_verifications.checked_at, excluded.checked_at),
			congrats_sent  = MAX(daily_verifications.congrats_sent, excluded.congrats_sent),
			notified_times = excluded.notified_times,
			solve_title    = COALESCE(excluded.solve_title, daily_verifications.solve_title),
			solve_slug     = COALESCE(excluded.solve_slug, daily_verifications.solve_slug),
			solve_lang     = COALESCE(excluded.solve_lang, daily_verifications.solve_lang),
			solve_time     = COALESCE(excluded.solve_time, daily_verifications.solve_time)`,
		v.ChatID, v.Day, string(v.Outcome), checked, boolToInt(v.CongratsSent),
		timesToJSON(notified), title, slug, lang, localTime,
	)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+verificationColumns+` FROM daily_verifications WHERE chat_id = ? AND day = ?`,
		v.ChatID, v.Day)
	stored, err := scanVerification(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// ListVerifications returns recent daily records for a user, newest first.
func (r *SQLiteRepo) ListVerifications(ctx context.Context, chatID int64, limit int) ([]domain.DailyVerification, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+verificationColumns+`
		FROM daily_verifications
		WHERE chat_id = ?
		ORDER BY day DESC
		LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.DailyVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *v)
	}
	return res, rows.Err()
}

// PruneVerifications deletes records for days strictly before beforeDay.
// YYYY-MM-DD compares lexicographically, so this is a plain range delete.
func (r *SQLiteRepo) PruneVerifications(ctx context.Context, beforeDay string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM daily_verifications WHERE day < ?`, beforeDay)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
