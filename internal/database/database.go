package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vpsdeck/panel/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("record not found")

func Init(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	return Migrate(DB)
}

// Migrate creates or updates the schema on db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Server{}, &Setting{}, &TerminalAuditLog{}, &APIToken{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Settings

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", notFound(err)
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.Where("role = ?", "admin").Order("id").First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// API token helpers

func CreateAPIToken(t *APIToken) error {
	return DB.Create(t).Error
}

// GetUserByTokenHash returns the owner of an unexpired API token.
func GetUserByTokenHash(hash string) (*User, error) {
	var t APIToken
	if err := DB.Where("token_hash = ?", hash).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	if t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt) {
		return nil, ErrNotFound
	}
	return GetUserByID(t.UserID)
}

// Server helpers

func GetServer(ctx context.Context, id uint) (*Server, error) {
	var s Server
	if err := DB.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func CreateServer(s *Server) error {
	return DB.Create(s).Error
}

func ListServersByUser(userID uint) ([]Server, error) {
	var servers []Server
	if err := DB.Where("user_id = ?", userID).Order("id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

// ImportSeed inserts seed users and servers that do not already exist.
// Existing rows (matched by ID, or by username for users) are left alone.
func ImportSeed(seed *config.Seed) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		for _, su := range seed.Users {
			var count int64
			q := tx.Model(&User{}).Where("username = ?", su.Username)
			if su.ID != 0 {
				q = q.Or("id = ?", su.ID)
			}
			if err := q.Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			if err := tx.Create(&User{ID: su.ID, Username: su.Username, Role: su.Role}).Error; err != nil {
				return fmt.Errorf("seed user %s: %w", su.Username, err)
			}
		}

		for _, ss := range seed.Servers {
			if ss.ID != 0 {
				var count int64
				if err := tx.Model(&Server{}).Where("id = ?", ss.ID).Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					continue
				}
			}
			srv := Server{
				ID:      ss.ID,
				Name:    ss.Name,
				SSHPort: ss.Port,
				Status:  ss.Status,
				UserID:  ss.UserID,
			}
			if ss.IPAddress != "" {
				ip := ss.IPAddress
				srv.IPAddress = &ip
			}
			if err := tx.Create(&srv).Error; err != nil {
				return fmt.Errorf("seed server %s: %w", ss.Name, err)
			}
		}
		log.Printf("Seed imported: %d users, %d servers", len(seed.Users), len(seed.Servers))
		return nil
	})
}
