package postgres

import (
	"context"
	"errors"

	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/gorm"
)

type AssignmentRepository interface {
	// FirstActiveByRoomURL returns the active assignment for the stream with
	// the given room URL, deterministic by lowest id. NOT_FOUND code when the
	// stream is unassigned.
	FirstActiveByRoomURL(ctx context.Context, roomURL string) (*models.Assignment, error)
	ListActiveByAgent(ctx context.Context, agentID uint) ([]models.Assignment, error)
	IsAgentAssigned(ctx context.Context, agentID, streamID uint) (bool, error)
	Create(ctx context.Context, a *models.Assignment) error
}

type assignmentRepo struct {
	db *gorm.DB
}

func NewAssignmentRepo(db *gorm.DB) AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) FirstActiveByRoomURL(ctx context.Context, roomURL string) (*models.Assignment, error) {
	const op = "AssignmentRepo.FirstActiveByRoomURL"
	var a models.Assignment
	err := r.db.WithContext(ctx).
		Joins("JOIN streams ON streams.id = assignments.stream_id").
		Where("streams.room_url = ? AND assignments.active = ?", roomURL, true).
		Order("assignments.id ASC").
		Preload("Agent").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "no active assignment", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to resolve assignment", err)
	}
	return &a, nil
}

func (r *assignmentRepo) ListActiveByAgent(ctx context.Context, agentID uint) ([]models.Assignment, error) {
	const op = "AssignmentRepo.ListActiveByAgent"
	var out []models.Assignment
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND active = ?", agentID, true).
		Preload("Stream").
		Find(&out).Error
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list assignments", err)
	}
	return out, nil
}

func (r *assignmentRepo) IsAgentAssigned(ctx context.Context, agentID, streamID uint) (bool, error) {
	const op = "AssignmentRepo.IsAgentAssigned"
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Assignment{}).
		Where("agent_id = ? AND stream_id = ? AND active = ?", agentID, streamID, true).
		Count(&count).Error
	if err != nil {
		return false, utils.E(utils.CodeInternal, op, "failed to check assignment", err)
	}
	return count > 0, nil
}

func (r *assignmentRepo) Create(ctx context.Context, a *models.Assignment) error {
	const op = "AssignmentRepo.Create"
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		if uniqueViolation(err) {
			return utils.E(utils.CodeConflict, op, "agent already assigned to stream", err)
		}
		return utils.E(utils.CodeInternal, op, "failed to create assignment", err)
	}
	return nil
}
