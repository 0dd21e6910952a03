package userstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type (
	Store struct {
		db      *sql.DB
		dialect goose.Dialect
	}

	// Record is one registered identity.
	// Credential is opaque, its encoding depends on Strategy.
	Record struct {
		ID          string
		Identity    string
		Credential  string
		Strategy    string
		Provider    string
		FederatedID string
		SecretText  string
		CreatedAt   time.Time
	}

	scanner interface {
		Scan(...interface{}) error
	}
)

//go:embed migrations/*.sql
var migrations embed.FS

const recordColumns = `user_id, identity, credential, strategy, provider, federated_id, secret_text, created_at`

// Open connects to the database named by dsn.
//
// postgres:// and postgresql:// URLs use pgx, sqlite3://path or a plain file
// path use sqlite (created when missing). Migrations are applied before
// returning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	driver, connstr, dialect, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open(driver, connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v, cause %w", dsn, err)
	}
	if dialect == goose.DialectSQLite3 {
		// sqlite serializes writers anyway, a single connection avoids
		// SQLITE_BUSY under concurrent registrations
		conn.SetMaxOpenConns(1)
	}
	err = conn.PingContext(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to ping database, cause %w", err)
	}
	s := &Store{db: conn, dialect: dialect}
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func parseDSN(dsn string) (driver, connstr string, dialect goose.Dialect, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, goose.DialectPostgres, nil
	case strings.HasPrefix(dsn, "sqlite3://"):
		dsn = strings.TrimPrefix(dsn, "sqlite3://")
	case strings.Contains(dsn, "://"), dsn == "":
		return "", "", "", UnsupportedDSN{DSN: dsn}
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return "", "", "", fmt.Errorf("unable to create directory to store %v, cause %w", dsn, err)
	}
	connstr = fmt.Sprintf("file:%v?_journal=wal&_busy_timeout=5000&_foreign_keys=on&mode=rwc", dsn)
	return "sqlite3", connstr, goose.DialectSQLite3, nil
}

// Migrate applies every pending schema migration.
func (s *Store) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("unable to load migrations, cause %w", err)
	}
	_, err = provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("unable to migrate database, cause %w", err)
	}
	return nil
}

func (s *Store) FindByIdentity(ctx context.Context, identity string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`select `+recordColumns+` from users where identity_hash64 = ? and identity = ?`),
		identityHash(identity), identity)
	return s.scanOne(row, identity)
}

func (s *Store) FindByFederatedID(ctx context.Context, provider, federatedID string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`select `+recordColumns+` from users where provider = ? and federated_id = ?`),
		provider, federatedID)
	return s.scanOne(row, provider+"/"+federatedID)
}

func (s *Store) FindByID(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`select `+recordColumns+` from users where user_id = ?`), id)
	return s.scanOne(row, id)
}

// Insert stores r if neither its identity nor its federated id are taken.
// The unique indexes make this an atomic insert-if-absent, concurrent
// callers get DuplicateRecord.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`insert into users(user_id, identity, identity_hash64, credential, strategy, provider, federated_id, secret_text, created_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Identity, identityHash(r.Identity), r.Credential, r.Strategy,
		nullable(r.Provider), nullable(r.FederatedID), r.SecretText, r.CreatedAt)
	if isUniqueViolation(err) {
		return DuplicateRecord{Identity: r.Identity}
	} else if err != nil {
		return fmt.Errorf("unable to store record %v, cause %w", r.Identity, err)
	}
	return nil
}

// Update rewrites the mutable fields of the record with r.ID.
func (s *Store) Update(ctx context.Context, r Record) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`update users set credential = ?, strategy = ?, secret_text = ? where user_id = ?`),
		r.Credential, r.Strategy, r.SecretText, r.ID)
	if err != nil {
		return fmt.Errorf("unable to update record %v, cause %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to update record %v, cause %w", r.ID, err)
	} else if n == 0 {
		return RecordNotFound{Key: r.ID}
	}
	return nil
}

// ListSecrets returns every non empty secret text, oldest first.
func (s *Store) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select secret_text from users where secret_text <> '' order by created_at asc`)
	if err != nil {
		return nil, fmt.Errorf("unable to list secrets, cause %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var secret string
		if err := rows.Scan(&secret); err != nil {
			return nil, fmt.Errorf("unable to scan secret, cause %w", err)
		}
		out = append(out, secret)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) scanOne(row scanner, key string) (Record, error) {
	var r Record
	var provider, federatedID sql.NullString
	err := row.Scan(&r.ID, &r.Identity, &r.Credential, &r.Strategy, &provider, &federatedID, &r.SecretText, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, RecordNotFound{Key: key}
	} else if err != nil {
		return Record{}, fmt.Errorf("unable to load record %v, cause %w", key, err)
	}
	r.Provider = provider.String
	r.FederatedID = federatedID.String
	return r, nil
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func identityHash(identity string) int64 {
	return int64(xxhash.Sum64String(identity))
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
