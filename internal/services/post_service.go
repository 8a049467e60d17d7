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

// CreatePostInput carries a new post.
type CreatePostInput struct {
	Title   string
	Content string
}

// UpdatePostInput lists the mutable fields of a post; nil leaves a field unchanged.
type UpdatePostInput struct {
	Title   *string
	Content *string
}

// PostPage is one page of the newest-first feed.
type PostPage struct {
	Posts       []models.Post `json:"posts"`
	CurrentPage int           `json:"currentPage"`
	TotalPages  int           `json:"totalPages"`
	TotalPosts  int64         `json:"totalPosts"`
	PerPage     int           `json:"-"`
}

// PostService manages posts. Only authors may change or remove their posts.
type PostService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPostService constructs a PostService.
func NewPostService(db *gorm.DB) (*PostService, error) {
	if db == nil {
		return nil, errors.New("post service: db is required")
	}
	return &PostService{db: db, log: logger.WithModule("posts")}, nil
}

// Create stores a post with zeroed counters.
func (s *PostService) Create(ctx context.Context, authorID string, in CreatePostInput) (*models.Post, error) {
	ctx = ensureContext(ctx)

	title := cleanText(in.Title)
	content := cleanText(in.Content)
	if title == "" || content == "" {
		return nil, apperrors.NewBadRequest("Title and content are required")
	}

	post := models.Post{AuthorID: authorID, Title: title, Content: content}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("post service: create: %w", err)
	}
	return s.Get(ctx, post.ID)
}

// List returns a newest-first page of posts with their authors.
func (s *PostService) List(ctx context.Context, page Pagination) (*PostPage, error) {
	ctx = ensureContext(ctx)
	page = page.normalise()

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("post service: count: %w", err)
	}

	posts := []models.Post{}
	if err := s.db.WithContext(ctx).
		Preload("Author").
		Order("created_at DESC").
		Order("id DESC").
		Offset(page.offset()).
		Limit(page.Limit).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("post service: list: %w", err)
	}

	return &PostPage{
		Posts:       posts,
		CurrentPage: page.Page,
		TotalPages:  totalPages(total, page.Limit),
		TotalPosts:  total,
		PerPage:     page.Limit,
	}, nil
}

// Get loads a post with its author.
func (s *PostService) Get(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ensureContext(ctx)).Preload("Author").Take(&post, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("post service: get: %w", err)
	}
	return &post, nil
}

// Update edits title and/or content of the caller's own post.
func (s *PostService) Update(ctx context.Context, requesterID, id string, in UpdatePostInput) (*models.Post, error) {
	ctx = ensureContext(ctx)
	if in.Title == nil && in.Content == nil {
		return nil, apperrors.NewBadRequest("At least one field (title or content) must be provided")
	}

	post, err := s.owned(ctx, requesterID, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Title != nil {
		title := cleanText(*in.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("Title cannot be empty")
		}
		updates["title"] = title
	}
	if in.Content != nil {
		content := cleanText(*in.Content)
		if content == "" {
			return nil, apperrors.NewBadRequest("Content cannot be empty")
		}
		updates["content"] = content
	}

	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("post service: update: %w", err)
	}
	return s.Get(ctx, post.ID)
}

// Delete removes the caller's own post together with its comments and every reaction
// on the post or on those comments.
func (s *PostService) Delete(ctx context.Context, requesterID, id string) error {
	ctx = ensureContext(ctx)

	post, err := s.owned(ctx, requesterID, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commentIDs := tx.Model(&models.Comment{}).Select("id").Where("post_id = ?", post.ID)
		if err := tx.Where("target_type = ? AND target_id IN (?)", models.TargetComment, commentIDs).
			Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("target_type = ? AND target_id = ?", models.TargetPost, post.ID).
			Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", post.ID).Delete(&models.Post{}).Error
	})
	if err != nil {
		return fmt.Errorf("post service: delete: %w", err)
	}

	s.log.Info("post deleted", zap.String("post_id", post.ID), zap.String("author_id", requesterID))
	return nil
}

// ListByAuthor returns every post by the author, newest first.
func (s *PostService) ListByAuthor(ctx context.Context, authorID string) ([]models.Post, error) {
	posts := []models.Post{}
	if err := s.db.WithContext(ensureContext(ctx)).
		Preload("Author").
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("post service: list by author: %w", err)
	}
	return posts, nil
}

func (s *PostService) owned(ctx context.Context, requesterID, id string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).Take(&post, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("post service: load: %w", err)
	}
	if post.AuthorID != requesterID {
		return nil, ErrNotPostAuthor
	}
	return &post, nil
}
