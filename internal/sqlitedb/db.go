package sqlitedb

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Per-connection pragmas, passed through the DSN so every pooled connection
// gets them. WAL keeps credential validation reads concurrent with the single
// writer; busy_timeout makes contending writers queue instead of failing with
// SQLITE_BUSY.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Open returns a gorm handle on the given SQLite file using the CGO-free
// modernc driver.
func Open(file string) (*gorm.DB, error) {
	db, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: dsn(file)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
		NowFunc:     func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("resolve sql db: %w", err)
	}

	sqlDB.SetMaxOpenConns(runtime.NumCPU())
	sqlDB.SetMaxIdleConns(runtime.NumCPU())
	sqlDB.SetConnMaxLifetime(0)

	return db, nil
}

func dsn(file string) string {
	var b strings.Builder
	b.WriteString(file)
	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
