package conn

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Option defines connection options for an embedded SQLite database.
type Option struct {
	Path   string
	Params map[string]string
	Config *gorm.Config
}

// Client wraps a SQLite connection handle.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New opens (and creates if missing) a SQLite database file.
func New(option Option) (*Client, error) {
	dsn, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	db, err := gorm.Open(sqlite.Open(dsn), config)
	if err != nil {
		return nil, err
	}

	return &Client{opt: option, db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection handle.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.Path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(opt.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := opt.Path
	sep := "?"
	for key, value := range opt.Params {
		dsn += sep + key + "=" + value
		sep = "&"
	}
	return dsn, nil
}
