package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/facilitydesk/repair-bot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a user or request does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_id INTEGER UNIQUE NOT NULL,
		full_name TEXT NOT NULL,
		username TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		location TEXT NOT NULL,
		description TEXT NOT NULL,
		photo_id TEXT,
		status TEXT NOT NULL DEFAULT 'new',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		assigned_to INTEGER,
		completed_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	CREATE INDEX IF NOT EXISTS idx_requests_user_id ON requests(user_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// AddUser registers a user on first contact. Existing rows are left untouched.
func (db *DB) AddUser(ctx context.Context, telegramID int64, fullName, username string, role models.Role) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (telegram_id, full_name, username, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		telegramID, fullName, nullString(username), role, time.Now().UTC(),
	)
	return err
}

// GetUserByTelegramID looks a user up by chat identity.
func (db *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	var username sql.NullString

	err := db.conn.QueryRowContext(ctx,
		`SELECT id, telegram_id, full_name, username, role, created_at FROM users WHERE telegram_id = ?`,
		telegramID,
	).Scan(&u.ID, &u.TelegramID, &u.FullName, &username, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Username = username.String
	return &u, nil
}

// CreateRequest inserts a new request in status new.
func (db *DB) CreateRequest(ctx context.Context, userID int64, category models.Category, location, description, photoRef string) (*models.Request, error) {
	now := time.Now().UTC()
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO requests (user_id, category, location, description, photo_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, category, location, description, nullString(photoRef), models.StatusNew, now,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Request{
		ID:          id,
		UserID:      userID,
		Category:    category,
		Location:    location,
		Description: description,
		PhotoRef:    photoRef,
		Status:      models.StatusNew,
		CreatedAt:   now,
	}, nil
}

const requestColumns = `r.id, r.user_id, r.category, r.location, r.description, r.photo_id, r.status,
		r.created_at, r.assigned_to, r.completed_at, u.telegram_id, u.full_name`

// GetRequest retrieves a request by ID together with its reporter.
func (db *DB) GetRequest(ctx context.Context, id int64) (*models.Request, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+requestColumns+`
		 FROM requests r JOIN users u ON r.user_id = u.id
		 WHERE r.id = ?`, id,
	)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetUserRequests returns a user's requests, newest first.
func (db *DB) GetUserRequests(ctx context.Context, telegramID int64) ([]models.Request, error) {
	return db.queryRequests(ctx,
		`SELECT `+requestColumns+`
		 FROM requests r JOIN users u ON r.user_id = u.id
		 WHERE u.telegram_id = ?
		 ORDER BY r.created_at DESC, r.id DESC`, telegramID,
	)
}

// GetAllRequests returns the latest requests across all users.
func (db *DB) GetAllRequests(ctx context.Context, limit int) ([]models.Request, error) {
	return db.queryRequests(ctx,
		`SELECT `+requestColumns+`
		 FROM requests r JOIN users u ON r.user_id = u.id
		 ORDER BY r.created_at DESC, r.id DESC
		 LIMIT ?`, limit,
	)
}

// GetRequestsByStatus returns all requests in the given status, newest first.
func (db *DB) GetRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]models.Request, error) {
	return db.queryRequests(ctx,
		`SELECT `+requestColumns+`
		 FROM requests r JOIN users u ON r.user_id = u.id
		 WHERE r.status = ?
		 ORDER BY r.created_at DESC, r.id DESC`, status,
	)
}

// UpdateStatus sets the status of a request in a single statement.
// completed_at is stamped when the status is completed and cleared
// otherwise. A non-zero assignee replaces assigned_to.
func (db *DB) UpdateStatus(ctx context.Context, id int64, status models.RequestStatus, assignee int64) error {
	var completedAt sql.NullTime
	if status == models.StatusCompleted {
		completedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE requests
		 SET status = ?, completed_at = ?, assigned_to = COALESCE(?, assigned_to)
		 WHERE id = ?`,
		status, completedAt, nullInt64(assignee), id,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) queryRequests(ctx context.Context, query string, args ...any) ([]models.Request, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}

	return requests, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*models.Request, error) {
	var req models.Request
	var photoID sql.NullString
	var assignedTo sql.NullInt64
	var completedAt sql.NullTime

	err := s.Scan(
		&req.ID, &req.UserID, &req.Category, &req.Location, &req.Description, &photoID, &req.Status,
		&req.CreatedAt, &assignedTo, &completedAt, &req.ReporterTelegramID, &req.ReporterName,
	)
	if err != nil {
		return nil, err
	}

	req.PhotoRef = photoID.String
	req.AssignedTo = assignedTo.Int64
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}

	return &req, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
