package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/models"
	apperrors "github.com/teatalks/teatalks/pkg/errors"
	"github.com/teatalks/teatalks/pkg/logger"
)

// CommentService manages comments and the parent post's comment counter.
type CommentService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewCommentService constructs a CommentService.
func NewCommentService(db *gorm.DB) (*CommentService, error) {
	if db == nil {
		return nil, errors.New("comment service: db is required")
	}
	return &CommentService{db: db, log: logger.WithModule("comments")}, nil
}

// Create adds a comment to an existing post and bumps the post's comment count.
func (s *CommentService) Create(ctx context.Context, authorID, postID, content string) (*models.Comment, error) {
	ctx = ensureContext(ctx)
	postID = strings.TrimSpace(postID)

	content = cleanText(content)
	if content == "" {
		return nil, apperrors.NewBadRequest("Comment content is required")
	}

	comment := models.Comment{PostID: postID, AuthorID: authorID, Content: content}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := resolveTarget(tx, models.TargetPost, postID); err != nil {
			return err
		}
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&models.Post{}).
			Where("id = ?", postID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("comment service: create: %w", err)
	}

	if err := s.db.WithContext(ctx).Preload("Author").Take(&comment, "id = ?", comment.ID).Error; err != nil {
		return nil, fmt.Errorf("comment service: reload: %w", err)
	}
	return &comment, nil
}

// ListForPost returns the comments on a post, newest first.
func (s *CommentService) ListForPost(ctx context.Context, postID string) ([]models.Comment, error) {
	ctx = ensureContext(ctx)
	postID = strings.TrimSpace(postID)

	if err := resolveTarget(s.db.WithContext(ctx), models.TargetPost, postID); err != nil {
		return nil, err
	}

	comments := []models.Comment{}
	if err := s.db.WithContext(ctx).
		Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&comments).Error; err != nil {
		return nil, fmt.Errorf("comment service: list: %w", err)
	}
	return comments, nil
}

// Delete removes the caller's own comment and its reactions, then decrements the parent
// post's comment count. A missing parent is logged and otherwise ignored.
func (s *CommentService) Delete(ctx context.Context, requesterID, id string) error {
	ctx = ensureContext(ctx)

	var comment models.Comment
	err := s.db.WithContext(ctx).Take(&comment, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCommentNotFound
	}
	if err != nil {
		return fmt.Errorf("comment service: load: %w", err)
	}
	if comment.AuthorID != requesterID {
		return ErrNotCommentAuthor
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", comment.ID).Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCommentNotFound
		}
		return tx.Where("target_type = ? AND target_id = ?", models.TargetComment, comment.ID).
			Delete(&models.Reaction{}).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		return fmt.Errorf("comment service: delete: %w", err)
	}

	res := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", comment.PostID).
		UpdateColumn("comment_count", gorm.Expr("CASE WHEN comment_count > 0 THEN comment_count - 1 ELSE 0 END"))
	switch {
	case res.Error != nil:
		s.log.Warn("decrement comment count", zap.String("post_id", comment.PostID), zap.Error(res.Error))
	case res.RowsAffected == 0:
		s.log.Warn("parent post missing on comment delete", zap.String("post_id", comment.PostID), zap.String("comment_id", comment.ID))
	}
	return nil
}

// CountByAuthor returns the number of comments the author has written.
func (s *CommentService) CountByAuthor(ctx context.Context, authorID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ensureContext(ctx)).Model(&models.Comment{}).Where("author_id = ?", authorID).Count(&count).Error
	return count, err
}
