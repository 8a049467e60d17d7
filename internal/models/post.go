package models

// PostReactionCount is the denormalised per-kind reaction tally of a post.
type PostReactionCount struct {
	Like  int64 `gorm:"column:like_count;not null;default:0" json:"like"`
	Love  int64 `gorm:"column:love_count;not null;default:0" json:"love"`
	Funny int64 `gorm:"column:funny_count;not null;default:0" json:"funny"`
	Angry int64 `gorm:"column:angry_count;not null;default:0" json:"angry"`
}

// Post is authored content carrying denormalised comment and reaction counters.
type Post struct {
	BaseModel

	AuthorID      string            `gorm:"size:36;not null;index" json:"authorId"`
	Author        *Author           `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Title         string            `gorm:"size:200;not null" json:"title"`
	Content       string            `gorm:"size:2000;not null" json:"content"`
	CommentCount  int64             `gorm:"not null;default:0" json:"commentCount"`
	ReactionCount PostReactionCount `gorm:"embedded" json:"reactionCount"`
}
