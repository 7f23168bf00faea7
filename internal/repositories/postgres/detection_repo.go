package postgres

import (
	"context"

	"github.com/streamvigil/vigil/internal/models"
	"github.com/streamvigil/vigil/internal/utils"
	"gorm.io/gorm"
)

type DetectionRepository interface {
	// CreateTx inserts within the caller's transaction.
	CreateTx(tx *gorm.DB, d *models.DetectionLog) error
	MarkRead(ctx context.Context, id uint, read bool) error
	// UnreadForAdmin returns every unread row.
	UnreadForAdmin(ctx context.Context) ([]models.DetectionLog, error)
	// UnreadForAgent returns unread rows for streams the agent is assigned
	// to, or rows explicitly attributed to the agent.
	UnreadForAgent(ctx context.Context, agentID uint) ([]models.DetectionLog, error)
}

type detectionRepo struct {
	db *gorm.DB
}

func NewDetectionRepo(db *gorm.DB) DetectionRepository {
	return &detectionRepo{db: db}
}

func (r *detectionRepo) CreateTx(tx *gorm.DB, d *models.DetectionLog) error {
	const op = "DetectionRepo.CreateTx"
	if err := tx.Create(d).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert detection log", err)
	}
	return nil
}

func (r *detectionRepo) MarkRead(ctx context.Context, id uint, read bool) error {
	const op = "DetectionRepo.MarkRead"
	if err := r.db.WithContext(ctx).Model(&models.DetectionLog{}).
		Where("id = ?", id).Update("read", read).Error; err != nil {
		return utils.E(utils.CodeInternal, op, "failed to mark read", err)
	}
	return nil
}

func (r *detectionRepo) UnreadForAdmin(ctx context.Context) ([]models.DetectionLog, error) {
	const op = "DetectionRepo.UnreadForAdmin"
	var out []models.DetectionLog
	err := r.db.WithContext(ctx).
		Where("read = ?", false).
		Order("timestamp DESC").
		Find(&out).Error
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list unread", err)
	}
	return out, nil
}

func (r *detectionRepo) UnreadForAgent(ctx context.Context, agentID uint) ([]models.DetectionLog, error) {
	const op = "DetectionRepo.UnreadForAgent"
	var out []models.DetectionLog
	err := r.db.WithContext(ctx).
		Where("read = ?", false).
		Where(
			"assigned_agent = ? OR room_url IN (?)",
			agentID,
			r.db.Model(&models.Assignment{}).
				Select("streams.room_url").
				Joins("JOIN streams ON streams.id = assignments.stream_id").
				Where("assignments.agent_id = ? AND assignments.active = ?", agentID, true),
		).
		Order("timestamp DESC").
		Find(&out).Error
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list unread", err)
	}
	return out, nil
}
