package db

import (
	"fmt"
	"time"

	"taskminder/internal/auth"
	"taskminder/internal/jobs"
	"taskminder/internal/logger"
	"taskminder/internal/task"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens Postgres with error translation on, which the job store relies
// on to detect duplicate keys. gorm logs through log.
func Connect(dsn string, log *logger.Logger) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(log),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&auth.User{},
		&task.Task{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	stmts := []string{
		// at most one pending reminder per task; in-flight jobs do not hold the key
		`create unique index if not exists uq_reminder_jobs_pending on reminder_jobs(task_id) where state = 'PENDING';`,
		`create index if not exists idx_reminder_jobs_due on reminder_jobs(state, fire_at);`,
		`create index if not exists idx_reminder_jobs_lock on reminder_jobs(state, locked_at);`,
		`create index if not exists idx_tasks_user_created on tasks(user_id, created_at desc);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
