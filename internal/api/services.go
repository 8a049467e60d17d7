package api

import (
	"gorm.io/gorm"

	"github.com/teatalks/teatalks/internal/app"
	iauth "github.com/teatalks/teatalks/internal/auth"
	"github.com/teatalks/teatalks/internal/cache"
	"github.com/teatalks/teatalks/internal/services"
)

type serviceSet struct {
	registration *services.RegistrationService
	resets       *services.PasswordResetService
	users        *services.UserService
	profiles     *services.ProfileService
	tokens       *iauth.TokenService
	posts        *services.PostService
	comments     *services.CommentService
	reactions    *services.ReactionService
}

func newServiceSet(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, sender services.OTPSender, store cache.Store) (*serviceSet, error) {
	policy := cfg.Registration.OTPPolicy()

	registration, err := services.NewRegistrationService(db, sender,
		services.WithRegistrationPolicy(policy),
		services.WithCollegeDomain(cfg.Registration.CollegeDomain),
	)
	if err != nil {
		return nil, err
	}

	resets, err := services.NewPasswordResetService(db, sender, services.WithPasswordResetPolicy(policy))
	if err != nil {
		return nil, err
	}

	users, err := services.NewUserService(db, services.WithUserCache(store))
	if err != nil {
		return nil, err
	}

	profiles, err := services.NewProfileService(db)
	if err != nil {
		return nil, err
	}

	tokens, err := iauth.NewTokenService(db, jwt)
	if err != nil {
		return nil, err
	}

	posts, err := services.NewPostService(db)
	if err != nil {
		return nil, err
	}

	comments, err := services.NewCommentService(db)
	if err != nil {
		return nil, err
	}

	reactions, err := services.NewReactionService(db)
	if err != nil {
		return nil, err
	}

	return &serviceSet{
		registration: registration,
		resets:       resets,
		users:        users,
		profiles:     profiles,
		tokens:       tokens,
		posts:        posts,
		comments:     comments,
		reactions:    reactions,
	}, nil
}
