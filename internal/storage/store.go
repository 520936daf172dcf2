package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
)

// GeneralRoom is seeded during migration and can never be absent.
const GeneralRoom = "general"

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Room represents a row in the rooms table. PasswordHash and KeyMaterial are
// only handed to the room directory; they never go to clients directly.
type Room struct {
	ID           int64
	Name         string
	IsPublic     bool
	PasswordHash []byte
	KeyMaterial  string
	CreatedAt    time.Time
}

// RoomInfo is the listing projection: name and visibility only.
type RoomInfo struct {
	Name     string
	IsPublic bool
}

// Message is a persisted chat message. Content is stored exactly as received.
type Message struct {
	ID      int64
	Room    string
	Sender  string
	Content string
	Ts      int64
}

// FileRecord is the durable record of a completed upload.
type FileRecord struct {
	ID         int64
	Room       string
	Sender     string
	FileURL    string
	FileName   string
	Ts         int64
	CryptoMeta string
}

// HistoryEntry is one replayed room event: exactly one of Message or File is set.
type HistoryEntry struct {
	Message *Message
	File    *FileRecord
}

// ErrUserExists is returned when attempting to insert a duplicate username.
var ErrUserExists = errors.New("user already exists")

// ErrRoomExists is returned when attempting to insert a duplicate room name.
var ErrRoomExists = errors.New("room already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "roomchat.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements and seeds the general room.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			is_public INTEGER NOT NULL DEFAULT 1,
			password_hash BLOB,
			key_material TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(room, ts);`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			sender TEXT NOT NULL,
			file_url TEXT NOT NULL,
			file_name TEXT NOT NULL,
			ts INTEGER NOT NULL,
			crypto_meta TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_files_room_ts ON files(room, ts);`,
		`INSERT OR IGNORE INTO rooms(name, is_public) VALUES('general', 1);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx, `INSERT INTO users(username, password_hash) VALUES(?, ?)`, username, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserByUsername fetches a user by username. Returns nil when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ListUsernames returns every registered identity ordered by name.
func (s *Store) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateRoom inserts a new room. ErrRoomExists is returned on name conflicts.
func (s *Store) CreateRoom(ctx context.Context, name string, isPublic bool, passwordHash []byte, keyMaterial string) (int64, error) {
	var hash interface{}
	if len(passwordHash) > 0 {
		hash = passwordHash
	}
	var key interface{}
	if keyMaterial != "" {
		key = keyMaterial
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms(name, is_public, password_hash, key_material) VALUES(?, ?, ?, ?)`,
		name, boolToInt(isPublic), hash, key)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrRoomExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetRoom fetches a room by name. Returns nil when absent.
func (s *Store) GetRoom(ctx context.Context, name string) (*Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_public, password_hash, key_material, created_at FROM rooms WHERE name = ?`, name)
	var (
		room     Room
		isPublic int
		hash     []byte
		key      sql.NullString
	)
	if err := row.Scan(&room.ID, &room.Name, &isPublic, &hash, &key, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.IsPublic = isPublic != 0
	room.PasswordHash = hash
	if key.Valid {
		room.KeyMaterial = key.String
	}
	return &room, nil
}

// ListRooms returns the name/visibility projection for every room.
func (s *Store) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, is_public FROM rooms ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var infos []RoomInfo
	for rows.Next() {
		var (
			info     RoomInfo
			isPublic int
		)
		if err := rows.Scan(&info.Name, &isPublic); err != nil {
			return nil, err
		}
		info.IsPublic = isPublic != 0
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// AppendMessage persists one chat message.
func (s *Store) AppendMessage(ctx context.Context, room, sender, content string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(room, sender, content, ts) VALUES(?, ?, ?, ?)`,
		room, sender, content, ts)
	return err
}

// AppendFile persists the record of a completed upload.
func (s *Store) AppendFile(ctx context.Context, rec FileRecord) error {
	var meta interface{}
	if rec.CryptoMeta != "" {
		meta = rec.CryptoMeta
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files(room, sender, file_url, file_name, ts, crypto_meta) VALUES(?, ?, ?, ?, ?, ?)`,
		rec.Room, rec.Sender, rec.FileURL, rec.FileName, rec.Ts, meta)
	return err
}

// RoomHistory returns the room's messages and files merged ascending by
// timestamp. The merge is stable, with messages listed before files when
// timestamps are equal, so replay order is deterministic.
func (s *Store) RoomHistory(ctx context.Context, room string) ([]HistoryEntry, error) {
	messages, err := s.listMessages(ctx, room)
	if err != nil {
		return nil, err
	}
	files, err := s.listFiles(ctx, room)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(messages)+len(files))
	for i := range messages {
		entries = append(entries, HistoryEntry{Message: &messages[i]})
	}
	for i := range files {
		entries = append(entries, HistoryEntry{File: &files[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ts() < entries[j].ts()
	})
	return entries, nil
}

func (e HistoryEntry) ts() int64 {
	if e.Message != nil {
		return e.Message.Ts
	}
	return e.File.Ts
}

func (s *Store) listMessages(ctx context.Context, room string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, sender, content, ts FROM messages WHERE room = ? ORDER BY ts ASC, id ASC`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Room, &m.Sender, &m.Content, &m.Ts); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) listFiles(ctx context.Context, room string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room, sender, file_url, file_name, ts, crypto_meta FROM files WHERE room = ? ORDER BY ts ASC, id ASC`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []FileRecord
	for rows.Next() {
		var (
			f    FileRecord
			meta sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.Room, &f.Sender, &f.FileURL, &f.FileName, &f.Ts, &meta); err != nil {
			return nil, err
		}
		if meta.Valid {
			f.CryptoMeta = meta.String
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqliteConstraintCode
	}
	return false
}
