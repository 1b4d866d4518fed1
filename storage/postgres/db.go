// Package postgres implements the storage repositories on PostgreSQL through gorm.
package postgres

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/poiesic/ragjobs/storage"
)

// Database configuration constants
const (
	// DefaultHost is the default database host
	DefaultHost = "localhost"
	// DefaultPort is the default database port
	DefaultPort = 5432
	// DefaultUser is the default database user
	DefaultUser = "postgres"
	// DefaultPassword is the default database password
	DefaultPassword = "postgres"
	// DefaultDBName is the default database name
	DefaultDBName = "ragjobs"
)

// Options represents database connection configuration options.
// DSN, when set, wins over the individual fields.
type Options struct {
	DSN        string
	Host       string
	User       string
	Password   string
	DBName     string
	Port       int
	SSLEnabled bool
	LogLevel   logger.LogLevel
	Logger     *slog.Logger
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db          *gorm.DB
	jobs        *JobRepository
	collections *CollectionRepository
	documents   *DocumentRepository
	blacklist   *BlacklistRepository
	chunks      *ChunkRepository
}

var _ storage.Store = (*Store)(nil)

// Open connects to PostgreSQL and migrates the schema.
func Open(opts Options) (storage.Store, error) {
	opts = setDefaults(opts)

	gormLogger := logger.New(
		slog.NewLogLogger(opts.Logger.Handler(), slog.LevelInfo),
		logger.Config{
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		jobs:        &JobRepository{db: db},
		collections: &CollectionRepository{db: db},
		documents:   &DocumentRepository{db: db},
		blacklist:   &BlacklistRepository{db: db},
		chunks:      &ChunkRepository{db: db},
	}
}

func (s *Store) Jobs() storage.JobRepository               { return s.jobs }
func (s *Store) Collections() storage.CollectionRepository { return s.collections }
func (s *Store) Documents() storage.DocumentRepository     { return s.documents }
func (s *Store) Blacklist() storage.BlacklistRepository    { return s.blacklist }
func (s *Store) Chunks() storage.ChunkRepository           { return s.chunks }

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsDuplicateKeyError checks if the given error is a PostgreSQL duplicate key error
func IsDuplicateKeyError(err error) bool {
	return errors.Is(postgres.Dialector{}.Translate(err), gorm.ErrDuplicatedKey)
}

func setDefaults(opts Options) Options {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.User == "" {
		opts.User = DefaultUser
	}
	if opts.Password == "" {
		opts.Password = DefaultPassword
	}
	if opts.DBName == "" {
		opts.DBName = DefaultDBName
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DSN == "" {
		sslMode := "disable"
		if opts.SSLEnabled {
			sslMode = "require"
		}
		opts.DSN = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			opts.Host, opts.User, opts.Password, opts.DBName, opts.Port, sslMode)
	}
	return opts
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&jobRow{},
		&collectionRow{},
		&documentRow{},
		&blacklistRow{},
		&chunkRow{},
	)
}
