package postgres

import (
	"context"
	"errors"

	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/gorm"
)

type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	ListAll(ctx context.Context) ([]models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
	ListReceivers(ctx context.Context) ([]models.User, error)
}

type userRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, id uint) (*models.User, error) {
	const op = "UserRepo.GetByID"
	var u models.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to get user", err)
	}
	return &u, nil
}

func (r *userRepo) ListAll(ctx context.Context) ([]models.User, error) {
	const op = "UserRepo.ListAll"
	var out []models.User
	if err := r.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list users", err)
	}
	return out, nil
}

func (r *userRepo) ListAdmins(ctx context.Context) ([]models.User, error) {
	const op = "UserRepo.ListAdmins"
	var out []models.User
	if err := r.db.WithContext(ctx).Where("role = ?", models.RoleAdmin).Find(&out).Error; err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list admins", err)
	}
	return out, nil
}

// ListReceivers returns every user who opted into updates, regardless of
// role; channel filtering happens at fan-out based on contact fields.
func (r *userRepo) ListReceivers(ctx context.Context) ([]models.User, error) {
	const op = "UserRepo.ListReceivers"
	var out []models.User
	if err := r.db.WithContext(ctx).Where("receive_updates = ?", true).Find(&out).Error; err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list receivers", err)
	}
	return out, nil
}
