package models

// TargetType discriminates what a reaction points at.
type TargetType string

const (
	TargetPost    TargetType = "Post"
	TargetComment TargetType = "Comment"
)

// Valid reports whether t is a known target kind.
func (t TargetType) Valid() bool {
	return t == TargetPost || t == TargetComment
}

// ReactionType is the kind of reaction a user leaves.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionFunny ReactionType = "funny"
	ReactionAngry ReactionType = "angry"
)

// ReactionTypes lists every reaction kind in display order.
var ReactionTypes = []ReactionType{ReactionLike, ReactionLove, ReactionFunny, ReactionAngry}

// Valid reports whether r is a known reaction kind.
func (r ReactionType) Valid() bool {
	for _, known := range ReactionTypes {
		if r == known {
			return true
		}
	}
	return false
}

// Reaction is a ledger row: the reaction a user currently has on a target.
// At most one row exists per (user, target, target type).
type Reaction struct {
	BaseModel

	UserID       string       `gorm:"size:36;not null;uniqueIndex:idx_reactions_owner,priority:1" json:"userId"`
	TargetID     string       `gorm:"size:36;not null;uniqueIndex:idx_reactions_owner,priority:2;index:idx_reactions_target,priority:1" json:"targetId"`
	TargetType   TargetType   `gorm:"size:16;not null;uniqueIndex:idx_reactions_owner,priority:3;index:idx_reactions_target,priority:2" json:"targetType"`
	ReactionType ReactionType `gorm:"size:16;not null" json:"type"`
	User         *Author      `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
