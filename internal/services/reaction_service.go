package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/teatalks/teatalks/internal/models"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
	"github.com/teatalks/teatalks/pkg/metrics"
)

// ToggleOutcome describes what a toggle did to the caller's reaction.
type ToggleOutcome string

const (
	ReactionAdded   ToggleOutcome = "added"
	ReactionRemoved ToggleOutcome = "removed"
	ReactionChanged ToggleOutcome = "changed"
)

// ToggleResult is returned from ReactionService.Toggle.
type ToggleResult struct {
	Outcome      ToggleOutcome       `json:"action"`
	ReactionType models.ReactionType `json:"reactionType,omitempty"`
	PreviousType models.ReactionType `json:"previousType,omitempty"`
}

// ReactionList is the read model for a target's reactions.
type ReactionList struct {
	Summary   map[models.ReactionType]int64 `json:"summary"`
	Reactions []models.Reaction             `json:"reactions"`
}

// counterSchema names the table and per-kind counter columns of a reaction target.
type counterSchema struct {
	table   string
	columns map[models.ReactionType]string
}

var counterSchemas = map[models.TargetType]counterSchema{
	models.TargetPost: {
		table: "posts",
		columns: map[models.ReactionType]string{
			models.ReactionLike:  "like_count",
			models.ReactionLove:  "love_count",
			models.ReactionFunny: "funny_count",
			models.ReactionAngry: "angry_count",
		},
	},
	models.TargetComment: {
		table: "comments",
		columns: map[models.ReactionType]string{
			models.ReactionLike: "like_count",
			models.ReactionLove: "love_count",
		},
	},
}

// errReactionRaced signals that the ledger row changed between read and write.
var errReactionRaced = errors.New("reaction changed concurrently")

// ReactionService keeps the reaction ledger and the denormalised counters in step.
type ReactionService struct {
	db    *gorm.DB
	locks *keyedMutex
	log   *zap.Logger
}

// NewReactionService constructs a ReactionService.
func NewReactionService(db *gorm.DB) (*ReactionService, error) {
	if db == nil {
		return nil, errors.New("reaction service: db is required")
	}
	return &ReactionService{
		db:    db,
		locks: newKeyedMutex(),
		log:   logger.WithModule("reactions"),
	}, nil
}

// Toggle applies requested to the caller's reaction on a target:
// no reaction adds it, the same kind removes it, a different kind switches to it.
func (s *ReactionService) Toggle(ctx context.Context, userID, targetID string, targetType models.TargetType, requested models.ReactionType) (*ToggleResult, error) {
	ctx = ensureContext(ctx)

	if !targetType.Valid() {
		return nil, ErrInvalidTargetType
	}
	if !requested.Valid() {
		return nil, ErrInvalidReactionType
	}
	userID = strings.TrimSpace(userID)
	targetID = strings.TrimSpace(targetID)
	if userID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	unlock := s.locks.Lock(userID + "|" + targetID + "|" + string(targetType))
	defer unlock()

	// A second pass covers losing a race against another process: the unique index
	// rejects the duplicate insert and the retry sees the winner's row.
	var (
		result *ToggleResult
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		result, err = s.toggle(ctx, userID, targetID, targetType, requested)
		if err == nil {
			break
		}
		if !errors.Is(err, errReactionRaced) && !isUniqueConstraintError(err) {
			break
		}
		s.log.Debug("reaction toggle raced, retrying",
			zap.String("user_id", userID),
			zap.String("target_id", targetID),
			zap.Error(err))
	}
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		if errors.Is(err, errReactionRaced) || isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("Reaction is being updated, try again").WithInternal(err)
		}
		return nil, fmt.Errorf("reaction service: toggle: %w", err)
	}

	metrics.ReactionToggles.WithLabelValues(string(targetType), string(requested), string(result.Outcome)).Inc()
	return result, nil
}

func (s *ReactionService) toggle(ctx context.Context, userID, targetID string, targetType models.TargetType, requested models.ReactionType) (*ToggleResult, error) {
	var result ToggleResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := resolveTarget(tx, targetType, targetID); err != nil {
			return err
		}

		var existing models.Reaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND target_id = ? AND target_type = ?", userID, targetID, targetType).
			Take(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := models.Reaction{
				UserID:       userID,
				TargetID:     targetID,
				TargetType:   targetType,
				ReactionType: requested,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			if err := adjustCounter(tx, targetType, targetID, requested, 1); err != nil {
				return err
			}
			result = ToggleResult{Outcome: ReactionAdded, ReactionType: requested}

		case err != nil:
			return err

		case existing.ReactionType == requested:
			res := tx.Where("id = ? AND reaction_type = ?", existing.ID, requested).Delete(&models.Reaction{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errReactionRaced
			}
			if err := adjustCounter(tx, targetType, targetID, requested, -1); err != nil {
				return err
			}
			result = ToggleResult{Outcome: ReactionRemoved, PreviousType: requested}

		default:
			previous := existing.ReactionType
			res := tx.Model(&models.Reaction{}).
				Where("id = ? AND reaction_type = ?", existing.ID, previous).
				Update("reaction_type", requested)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errReactionRaced
			}
			if err := adjustCounter(tx, targetType, targetID, previous, -1); err != nil {
				return err
			}
			if err := adjustCounter(tx, targetType, targetID, requested, 1); err != nil {
				return err
			}
			result = ToggleResult{Outcome: ReactionChanged, ReactionType: requested, PreviousType: previous}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// List returns the live ledger rows of a target and a per-kind summary grouped from them.
func (s *ReactionService) List(ctx context.Context, targetID string, targetType models.TargetType) (*ReactionList, error) {
	ctx = ensureContext(ctx)
	if !targetType.Valid() {
		return nil, ErrInvalidTargetType
	}

	var reactions []models.Reaction
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("target_id = ? AND target_type = ?", targetID, targetType).
		Order("created_at DESC").
		Find(&reactions).Error; err != nil {
		return nil, fmt.Errorf("reaction service: list reactions: %w", err)
	}

	var groups []struct {
		ReactionType models.ReactionType
		Total        int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.Reaction{}).
		Select("reaction_type, COUNT(*) AS total").
		Where("target_id = ? AND target_type = ?", targetID, targetType).
		Group("reaction_type").
		Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("reaction service: summarise reactions: %w", err)
	}

	summary := make(map[models.ReactionType]int64, len(groups))
	for _, g := range groups {
		summary[g.ReactionType] = g.Total
	}
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	return &ReactionList{Summary: summary, Reactions: reactions}, nil
}

// resolveTarget dispatches on the target kind and reports NotFound for missing targets.
func resolveTarget(tx *gorm.DB, targetType models.TargetType, targetID string) error {
	var (
		model    any
		notFound *apperrors.AppError
	)
	switch targetType {
	case models.TargetPost:
		model, notFound = &models.Post{}, ErrPostNotFound
	case models.TargetComment:
		model, notFound = &models.Comment{}, ErrCommentNotFound
	default:
		return ErrInvalidTargetType
	}

	var count int64
	if err := tx.Model(model).Where("id = ?", targetID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}

// adjustCounter moves a target's counter for kind by delta in SQL, never below zero.
// Kinds outside the target's counter schema are left to the ledger alone.
func adjustCounter(tx *gorm.DB, targetType models.TargetType, targetID string, kind models.ReactionType, delta int) error {
	schema, ok := counterSchemas[targetType]
	if !ok {
		return ErrInvalidTargetType
	}
	column, ok := schema.columns[kind]
	if !ok {
		return nil
	}
	return tx.Table(schema.table).
		Where("id = ?", targetID).
		UpdateColumn(column, counterExpr(column, delta)).Error
}

func counterExpr(column string, delta int) clause.Expr {
	if delta >= 0 {
		return gorm.Expr(column+" + ?", delta)
	}
	return gorm.Expr("CASE WHEN "+column+" >= ? THEN "+column+" - ? ELSE 0 END", -delta, -delta)
}
