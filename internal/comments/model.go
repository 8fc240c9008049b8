package comments

import "time"

// CommentStatus enumerates moderation states of a comment.
type CommentStatus string

const (
	// StatusActive marks a comment visible to readers.
	StatusActive CommentStatus = "active"
	// StatusHidden marks a comment withheld by moderation.
	StatusHidden CommentStatus = "hidden"
	// StatusDeleted marks a comment removed by its author or moderation.
	StatusDeleted CommentStatus = "deleted"
	// StatusFlagged marks a comment awaiting moderation review.
	StatusFlagged CommentStatus = "flagged"
)

// Valid reports whether the status is one of the known states.
func (s CommentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusHidden, StatusDeleted, StatusFlagged:
		return true
	}
	return false
}

// VoteType enumerates the two vote directions.
type VoteType string

const (
	// VoteUp counts toward the upvote tally.
	VoteUp VoteType = "up"
	// VoteDown counts toward the downvote tally.
	VoteDown VoteType = "down"
)

// Valid reports whether the vote type is known.
func (v VoteType) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// SubjectRef is the tagged reference identifying what a comment is attached
// to. The type discriminator is an open string ("article", "revision", ...);
// this package stores and compares the pair but never dereferences it —
// resolution belongs to the caller.
type SubjectRef struct {
	Type string
	ID   string
}

// Comment is one node of a threaded discussion attached to an arbitrary
// subject. The upvote/downvote tallies are maintained exclusively by the
// vote write path and must never be set directly.
type Comment struct {
	ID          string        `gorm:"column:id;primaryKey;size:36;not null"`
	SubjectType string        `gorm:"column:subject_type;size:64;not null;index:idx_comments_subject,priority:1"`
	SubjectID   string        `gorm:"column:subject_id;size:36;not null;index:idx_comments_subject,priority:2"`
	Content     string        `gorm:"column:content;type:text;not null"`
	AuthorID    string        `gorm:"column:author_id;size:36;not null;index"`
	ParentID    *string       `gorm:"column:parent_id;size:36;index"`
	Status      CommentStatus `gorm:"column:status;size:10;not null;default:'active'"`
	Upvotes     int           `gorm:"column:upvotes;not null;default:0"`
	Downvotes   int           `gorm:"column:downvotes;not null;default:0"`
	EditedAt    *time.Time    `gorm:"column:edited_at"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing comments.
func (Comment) TableName() string {
	return "comments"
}

// Subject returns the tagged reference the comment is attached to.
func (c *Comment) Subject() SubjectRef {
	return SubjectRef{Type: c.SubjectType, ID: c.SubjectID}
}

// IsReply reports whether the comment answers another comment.
func (c *Comment) IsReply() bool {
	return c.ParentID != nil
}

// Score is the derived net tally; it is never stored.
func (c *Comment) Score() int {
	return c.Upvotes - c.Downvotes
}

// CommentVote records one user's vote on one comment. (comment, user) is
// unique: changing a vote flips the stored type in place rather than
// creating a second row.
type CommentVote struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	CommentID string    `gorm:"column:comment_id;size:36;not null;uniqueIndex:idx_votes_comment_user,priority:1"`
	UserID    string    `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_votes_comment_user,priority:2"`
	VoteType  VoteType  `gorm:"column:vote_type;size:4;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing comment votes.
func (CommentVote) TableName() string {
	return "comment_votes"
}
