package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"redkey/pkg/errors"
)

// Service provides warehouse operations over a single connection
type Service struct {
	db        *sql.DB
	config    Config
	connected bool
	logger    zerolog.Logger
}

// Config holds cluster connection configuration
type Config struct {
	Name           string
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
}

// NewService creates a new warehouse service
func NewService(config Config, logger zerolog.Logger) *Service {
	return &Service{
		config: config,
		logger: logger.With().Str("cluster", config.Name).Logger(),
	}
}

// NewServiceWithDB wraps an already opened handle
func NewServiceWithDB(name string, db *sql.DB, logger zerolog.Logger) *Service {
	s := NewService(Config{Name: name}, logger)
	s.db = db
	s.connected = true
	return s
}

// Name returns the configured cluster name
func (s *Service) Name() string {
	return s.config.Name
}

// DSN renders the pgx connection URL for config
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	timeout := c.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(timeout.Seconds())))
	// Redshift rejects parts of the extended protocol pgx uses for prepared statements.
	q.Set("default_query_exec_mode", "simple_protocol")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Connect opens the connection and verifies it with a ping
func (s *Service) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	db, err := sql.Open("pgx", s.config.DSN())
	if err != nil {
		return errors.ConnectionError("Failed to open warehouse connection", err).
			WithContext("cluster", s.config.Name).
			WithContext("host", s.config.Host)
	}

	// Statements are issued strictly one after another on one session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		if isAuthFailure(err) {
			return errors.Wrap(err, errors.ErrCodeAuthenticationFailed, "Authentication failed").
				WithSeverity(errors.SeverityCritical).
				WithContext("cluster", s.config.Name).
				WithContext("user", s.config.User).
				WithSuggestions(
					"Verify the user and password of the cluster section",
					"Check that the user is not locked",
				)
		}

		return errors.ConnectionError("Failed to connect to warehouse", err).
			WithContext("cluster", s.config.Name).
			WithContext("host", s.config.Host).
			WithContext("port", s.config.Port)
	}

	s.db = db
	s.connected = true
	s.logger.Debug().Str("host", s.config.Host).Int("port", s.config.Port).Msg("connected")
	return nil
}

func isAuthFailure(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		// invalid_password, invalid_authorization_specification
		return pgErr.Code == "28P01" || pgErr.Code == "28000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "authentication failed")
}

// Close closes the database connection
func (s *Service) Close() error {
	if !s.connected {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	s.connected = false
	return nil
}

// DB returns the underlying handle
func (s *Service) DB() *sql.DB {
	return s.db
}

// ExecuteSQL runs every statement in sqlText inside one transaction
func (s *Service) ExecuteSQL(ctx context.Context, sqlText string) error {
	return s.execute(ctx, sqlText, nil)
}

// ExecuteRedacted is ExecuteSQL for statements carrying secrets: errors and
// logs only ever see redact(statement).
func (s *Service) ExecuteRedacted(ctx context.Context, sqlText string, redact func(string) string) error {
	return s.execute(ctx, sqlText, redact)
}

func (s *Service) execute(ctx context.Context, sqlText string, redact func(string) string) error {
	if !s.connected {
		return errors.New(errors.ErrCodeNotConnected, "Not connected to warehouse").
			WithSuggestions("Call Connect() before executing SQL")
	}
	if redact == nil {
		redact = func(stmt string) string { return stmt }
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to begin transaction").
			WithContext("cluster", s.config.Name)
	}

	statements := s.splitStatements(sqlText)
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		s.logger.Debug().Int("statement", i+1).Str("sql", redact(stmt)).Msg("executing")
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return errors.DDLExecutionError(redact(stmt), err).
				WithContext("cluster", s.config.Name).
				WithContext("statement_index", i+1).
				WithContext("total_statements", len(statements))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSQLTransaction, "Failed to commit transaction").
			WithContext("cluster", s.config.Name)
	}

	return nil
}

func (s *Service) splitStatements(sql string) []string {
	// Splits on semicolons outside quoted strings and identifiers
	var statements []string
	var current strings.Builder
	inString := false
	stringChar := rune(0)

	for i, char := range sql {
		if !inString {
			if char == '\'' || char == '"' {
				inString = true
				stringChar = char
			} else if char == ';' {
				if i == 0 || sql[i-1] != '\\' {
					statements = append(statements, current.String())
					current.Reset()
					continue
				}
			}
		} else {
			if char == stringChar && (i == 0 || sql[i-1] != '\\') {
				inString = false
			}
		}
		current.WriteRune(char)
	}

	if current.Len() > 0 {
		statements = append(statements, current.String())
	}

	return statements
}

// ValidateConfig validates the connection configuration
func ValidateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("host is required")
	}
	if config.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if config.User == "" {
		return fmt.Errorf("user is required")
	}
	if config.Password == "" {
		return fmt.Errorf("password is required")
	}
	if config.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}
