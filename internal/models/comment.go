package models

// CommentReactionCount only tracks the reaction kinds comments support.
type CommentReactionCount struct {
	Like int64 `gorm:"column:like_count;not null;default:0" json:"like"`
	Love int64 `gorm:"column:love_count;not null;default:0" json:"love"`
}

// Comment belongs to a post.
type Comment struct {
	BaseModel

	PostID        string               `gorm:"size:36;not null;index" json:"postId"`
	AuthorID      string               `gorm:"size:36;not null;index" json:"authorId"`
	Author        *Author              `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Content       string               `gorm:"size:500;not null" json:"content"`
	ReactionCount CommentReactionCount `gorm:"embedded" json:"reactionCount"`
}
