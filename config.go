package main

import (
	"fmt"

	charm "github.com/charmbracelet/log"
)

// cli is the top-level command-line surface.
type cli struct {
	Serve serveCmd `cmd:"" help:"Run the HTTP/WebSocket server."`

	Migrate migrateCmd `cmd:"" help:"Apply pending database migrations."`

	Purge purgeCmd `cmd:"" help:"Purge cache entries by key prefix."`
}

type pgconfig struct {
	PostgresHost     string `default:"localhost" help:"Postgres host." env:"POSTGRES_HOST"`
	PostgresUser     string `default:"postgres" help:"Postgres user." env:"POSTGRES_USER"`
	PostgresPassword string `default:"" help:"Postgres password." env:"POSTGRES_PASSWORD"`
	PostgresPort     int    `default:"5432" help:"Postgres port." env:"POSTGRES_PORT"`
	PostgresDatabase string `default:"bookinfo" help:"Postgres database to use." env:"POSTGRES_DATABASE"`
}

func (c *pgconfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDatabase,
	)
}

type redisconfig struct {
	RedisAddr     string `default:"localhost:6379" help:"Redis address." env:"REDIS_ADDR"`
	RedisPassword string `default:"" help:"Redis password." env:"REDIS_PASSWORD"`
	RedisDB       int    `default:"0" help:"Redis database index." env:"REDIS_DB"`
}

type providerconfig struct {
	GoogleBooksKey     string `help:"Google Books API key." env:"PROVIDER_GOOGLEBOOKS_KEY"`
	GoogleBooksBaseURL string `default:"https://www.googleapis.com/books/v1" help:"Google Books base URL." env:"PROVIDER_GOOGLEBOOKS_BASE_URL"`

	ISBNdbKey     string `help:"ISBNdb API key." env:"PROVIDER_ISBNDB_KEY"`
	ISBNdbBaseURL string `default:"https://api2.isbndb.com" help:"ISBNdb base URL." env:"PROVIDER_ISBNDB_BASE_URL"`

	OpenLibraryBaseURL string `default:"https://openlibrary.org" help:"OpenLibrary base URL." env:"PROVIDER_OPENLIBRARY_BASE_URL"`

	RPS float64 `default:"2" help:"Per-provider outbound requests per second."`
}

type logconfig struct {
	Verbose bool `help:"Increase log verbosity." env:"VERBOSE"`
}

func (c *logconfig) Run() error {
	if c.Verbose {
		_logHandler.SetLevel(charm.DebugLevel)
	}
	return nil
}

type migrateCmd struct {
	pgconfig
	logconfig

	MigrationsDir string `default:"internal/migrations" help:"Directory of .sql migration files."`
}

type purgeCmd struct {
	redisconfig
	logconfig

	Prefix string `arg:"" help:"Cache key prefix to purge."`
}
