package ch

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"visitbot/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseDB stores questions and answers in ClickHouse.
// Column allocation is serialized in-process: a single bot instance owns
// the user_columns table.
type ClickHouseDB struct {
	conn clickhouse.Conn

	allocMu sync.Mutex
}

func connOptions(host string, port int, database, user, password string, useTLS bool) *clickhouse.Options {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}
	return options
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(connOptions(host, port, database, user, password, useTLS))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// OpenSQL opens a database/sql handle to the same server, for goose migrations
func OpenSQL(host string, port int, database, user, password string, useTLS bool) (*sql.DB, error) {
	db := clickhouse.OpenDB(connOptions(host, port, database, user, password, useTLS))
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return db, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

// Question returns the question at row, blank when the row is absent
func (db *ClickHouseDB) Question(ctx context.Context, row int) (models.Question, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT image_url, text FROM questions FINAL WHERE row_index = ? LIMIT 1`, uint32(row))
	if err != nil {
		return models.Question{}, fmt.Errorf("failed to get question: %w", err)
	}
	defer rows.Close()

	q := models.Question{Row: row}
	if rows.Next() {
		if err := rows.Scan(&q.ImageURL, &q.Text); err != nil {
			return models.Question{}, fmt.Errorf("failed to scan question: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return models.Question{}, fmt.Errorf("failed to read question: %w", err)
	}
	return q, nil
}

// LastRow returns the highest question row
func (db *ClickHouseDB) LastRow(ctx context.Context) (int, error) {
	var last uint32
	if err := db.conn.QueryRow(ctx, `SELECT max(row_index) FROM questions`).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to get last row: %w", err)
	}
	return int(last), nil
}

// PutQuestion inserts or replaces a question row
func (db *ClickHouseDB) PutQuestion(ctx context.Context, q models.Question) error {
	err := db.conn.Exec(ctx, `INSERT INTO questions (row_index, image_url, text, updated_at) VALUES (?, ?, ?, ?)`,
		uint32(q.Row), q.ImageURL, q.Text, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put question: %w", err)
	}
	return nil
}

// ColumnFor returns the user's column, allocating max+1 on first use
func (db *ClickHouseDB) ColumnFor(ctx context.Context, user models.UserKey) (int, error) {
	db.allocMu.Lock()
	defer db.allocMu.Unlock()

	col, ok, err := db.LookupColumn(ctx, user)
	if err != nil {
		return 0, err
	}
	if ok {
		return col, nil
	}

	var last uint32
	if err := db.conn.QueryRow(ctx, `SELECT max(column_id) FROM user_columns`).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to get last column: %w", err)
	}

	next := last + 1
	err = db.conn.Exec(ctx, `INSERT INTO user_columns (user_key, column_id, created_at) VALUES (?, ?, ?)`,
		user.String(), next, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to allocate column: %w", err)
	}
	return int(next), nil
}

// LookupColumn returns the user's column without allocating
func (db *ClickHouseDB) LookupColumn(ctx context.Context, user models.UserKey) (int, bool, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT column_id FROM user_columns WHERE user_key = ? ORDER BY column_id LIMIT 1`, user.String())
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up column: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var col uint32
	if err := rows.Scan(&col); err != nil {
		return 0, false, fmt.Errorf("failed to scan column: %w", err)
	}
	return int(col), true, nil
}

// Write stores an answer; the latest write for a cell wins
func (db *ClickHouseDB) Write(ctx context.Context, row, column int, answer models.Answer) error {
	err := db.conn.Exec(ctx, `INSERT INTO answers (row_index, column_id, answer, answered_at) VALUES (?, ?, ?, ?)`,
		uint32(row), uint32(column), answer.Label(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write answer: %w", err)
	}
	return nil
}

// Read returns the latest answer stored for a cell
func (db *ClickHouseDB) Read(ctx context.Context, row, column int) (models.Answer, bool, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT argMax(answer, answered_at)
		FROM answers
		WHERE row_index = ? AND column_id = ?
		GROUP BY row_index, column_id`, uint32(row), uint32(column))
	if err != nil {
		return models.AnswerUnknown, false, fmt.Errorf("failed to read answer: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return models.AnswerUnknown, false, rows.Err()
	}
	var label string
	if err := rows.Scan(&label); err != nil {
		return models.AnswerUnknown, false, fmt.Errorf("failed to scan answer: %w", err)
	}
	a, ok := models.ParseAnswerLabel(label)
	return a, ok, nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
