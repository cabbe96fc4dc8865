package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

var (
	Module = fx.Provide(
		NewGormClient,
	)
)

type (
	GormForkedModel struct {
		ID        string `gorm:"type:uuid;primarykey"`
		CreatedAt time.Time
	}

	User struct {
		GormForkedModel
		Email     string `gorm:"not null;uniqueIndex:uidx_provider_email"`
		Provider  string `gorm:"not null;uniqueIndex:uidx_provider_email"`
		Password  *string
		Bookmarks []Bookmark
		Sessions  []Session
	}

	Bookmark struct {
		GormForkedModel
		Title  string `gorm:"not null"`
		URL    string `gorm:"not null"`
		UserID string `gorm:"type:uuid;not null;index"`
		User   User
	}

	Session struct {
		GormForkedModel
		UserID    string `gorm:"type:uuid;not null;index"`
		User      User
		ExpiresAt time.Time `gorm:"not null"`
		RevokedAt *time.Time
	}
)

func (m *GormForkedModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (b *Bookmark) ToModel() models.Bookmark {
	return models.Bookmark{
		ID:        b.ID,
		Title:     b.Title,
		URL:       b.URL,
		Owner:     b.UserID,
		CreatedAt: b.CreatedAt,
	}
}

// notifySQL publishes every insert and delete on bookmarks to the channel passed as trigger argument.
// The payload shape is {"type": "INSERT"|"DELETE", "record": {"id", "user_id", "created_at"}}.
// Title and url stay out of it: NOTIFY payloads are capped at 8000 bytes.
const notifySQL = `
CREATE OR REPLACE FUNCTION notify_bookmark_change() RETURNS trigger AS $$
DECLARE
	rec bookmarks;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;
	PERFORM pg_notify(TG_ARGV[0], json_build_object(
		'type', TG_OP,
		'record', json_build_object(
			'id', rec.id,
			'user_id', rec.user_id,
			'created_at', rec.created_at
		)
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS bookmarks_notify ON bookmarks;

CREATE TRIGGER bookmarks_notify
	AFTER INSERT OR DELETE ON bookmarks
	FOR EACH ROW EXECUTE PROCEDURE notify_bookmark_change('%s');
`

func NewGormClient(lc fx.Lifecycle, cfg *config.Config, l *zap.SugaredLogger) (*gorm.DB, error) {
	newLogger := logger.New(zap.NewStdLog(l.Desugar()), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormLogLevel(cfg.LogLevel),
		Colorful:                  cfg.LogDevelopment,
		IgnoreRecordNotFoundError: true,
	})

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db, cfg.FeedChannel); err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			l.Info("Closing database connection.")
			return sqlDB.Close()
		},
	})

	return db, nil
}

// Migrate creates the tables and installs the change-notify trigger on the given channel.
func Migrate(db *gorm.DB, channel string) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Bookmark{}); err != nil {
		return errors.Wrap(err, "migrate bookmark")
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return errors.Wrap(err, "migrate session")
	}
	if err := db.Exec(fmt.Sprintf(notifySQL, strings.ReplaceAll(channel, "'", "''"))).Error; err != nil {
		return errors.Wrap(err, "install notify trigger")
	}
	return nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "debug":
		return logger.Info
	case "info", "warn":
		return logger.Warn
	default:
		return logger.Error
	}
}
