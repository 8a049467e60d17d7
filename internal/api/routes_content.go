package api

import (
	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/handlers"
	"github.com/teatalks/teatalks/internal/models"
)

type contentRouteDeps struct {
	Posts       *handlers.PostHandler
	Comments    *handlers.CommentHandler
	Reactions   *handlers.ReactionHandler
	RequireAuth gin.HandlerFunc
}

func registerContentRoutes(api *gin.RouterGroup, deps contentRouteDeps) {
	posts := api.Group("/posts")
	{
		posts.GET("", deps.Posts.List)
		posts.GET("/:id", deps.Posts.Get)
		posts.GET("/:id/comments", deps.Comments.ListForPost)
		posts.GET("/:id/reactions", deps.Reactions.ListOn(models.TargetPost))

		posts.POST("", deps.RequireAuth, deps.Posts.Create)
		posts.PUT("/:id", deps.RequireAuth, deps.Posts.Update)
		posts.DELETE("/:id", deps.RequireAuth, deps.Posts.Delete)
		posts.POST("/:id/comments", deps.RequireAuth, deps.Comments.Create)
		posts.POST("/:id/reactions", deps.RequireAuth, deps.Reactions.ToggleOn(models.TargetPost))
	}

	comments := api.Group("/comments")
	{
		comments.GET("/:id/reactions", deps.Reactions.ListOn(models.TargetComment))

		comments.DELETE("/:id", deps.RequireAuth, deps.Comments.Delete)
		comments.POST("/:id/reactions", deps.RequireAuth, deps.Reactions.ToggleOn(models.TargetComment))
	}
}
