package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/models"
)

// GormDirectory implements Directory on the users table.
type GormDirectory struct {
	db *gorm.DB
}

// NewGormDirectory constructs a relational Directory.
func NewGormDirectory(db *gorm.DB) (*GormDirectory, error) {
	if db == nil {
		return nil, errors.New("directory: db is required")
	}
	return &GormDirectory{db: db}, nil
}

func (d *GormDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := d.db.WithContext(ctx).Take(&user, "email = ?", NormalizeEmail(email)).Error; err != nil {
		return nil, translateUser("find by email", err)
	}
	return &user, nil
}

func (d *GormDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := d.db.WithContext(ctx).Take(&user, "id = ?", id).Error; err != nil {
		return nil, translateUser("find by id", err)
	}
	return &user, nil
}

func (d *GormDirectory) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("directory: find by ids: %w", err)
	}
	return users, nil
}

func (d *GormDirectory) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("directory: user is required")
	}
	user.Email = NormalizeEmail(user.Email)
	if err := d.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("directory: create user: %w", err)
	}
	return nil
}

func (d *GormDirectory) IncrementTicCounter(ctx context.Context, userID string, delta int) error {
	return incrementTicCounter(d.db.WithContext(ctx), userID, delta)
}

func incrementTicCounter(tx *gorm.DB, userID string, delta int) error {
	res := tx.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("tic_counter", gorm.Expr("tic_counter + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("directory: increment tic counter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *GormDirectory) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	res := d.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_login_at", at)
	if res.Error != nil {
		return fmt.Errorf("directory: touch last login: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateUser(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("directory: %s: %w", op, err)
}

var _ Directory = (*GormDirectory)(nil)
