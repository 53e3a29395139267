package vote

import (
	"time"

	"github.com/google/uuid"
)

// TargetType is the kind of content a vote is cast on.
type TargetType string

const (
	TargetBlogPost      TargetType = "blog_post"
	TargetWallpaper     TargetType = "wallpaper"
	TargetCraftlandCode TargetType = "craftland_code"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetBlogPost, TargetWallpaper, TargetCraftlandCode:
		return true
	}
	return false
}

// Vote is one user's current opinion of a target. Value is +1 or -1.
type Vote struct {
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	TargetType TargetType `db:"target_type" json:"target_type"`
	TargetID   uuid.UUID  `db:"target_id" json:"target_id"`
	Value      int        `db:"value" json:"value"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Tally aggregates the votes on a target.
type Tally struct {
	TargetType TargetType `db:"-" json:"target_type"`
	TargetID   uuid.UUID  `db:"-" json:"target_id"`
	Up         int        `db:"up" json:"up"`
	Down       int        `db:"down" json:"down"`
	Score      int        `db:"score" json:"score"`
}
