package articles

import (
	"encoding/json"
	"time"
)

// Status enumerates the lifecycle states of an article.
type Status string

const (
	// StatusDraft marks an article not yet visible to readers.
	StatusDraft Status = "draft"
	// StatusPublished marks an article visible to readers.
	StatusPublished Status = "published"
	// StatusArchived marks an article retired from the published set.
	StatusArchived Status = "archived"
)

// Valid reports whether the status is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Permission enumerates the per-article collaborator capability tiers.
// The tiers are totally ordered: view < edit < admin.
type Permission string

const (
	// PermissionView grants read access.
	PermissionView Permission = "view"
	// PermissionEdit grants write access.
	PermissionEdit Permission = "edit"
	// PermissionAdmin grants collaborator management on top of writes.
	PermissionAdmin Permission = "admin"
)

var permissionRank = map[Permission]int{
	PermissionView:  1,
	PermissionEdit:  2,
	PermissionAdmin: 3,
}

// Valid reports whether the permission is one of the known tiers.
func (p Permission) Valid() bool {
	_, ok := permissionRank[p]
	return ok
}

// AtLeast reports whether the permission meets or exceeds the required tier.
// Unknown tiers never satisfy a requirement.
func (p Permission) AtLeast(required Permission) bool {
	return permissionRank[p] >= permissionRank[required] && permissionRank[required] > 0
}

// Article is the denormalized head of a revision history. Once the first
// revision exists, title/content/summary/tags/last editor and the current
// revision pointer mirror the most recently written revision and are only
// moved by the revision write path.
type Article struct {
	ID                string    `gorm:"column:id;primaryKey;size:36;not null"`
	Title             string    `gorm:"column:title;size:200;not null"`
	Slug              string    `gorm:"column:slug;size:200;not null;uniqueIndex"`
	CurrentContent    string    `gorm:"column:current_content;type:text"`
	CurrentSummary    string    `gorm:"column:current_summary;size:500"`
	Status            Status    `gorm:"column:status;size:20;not null;default:'draft';index:idx_articles_status_featured,priority:1"`
	CategoryID        *string   `gorm:"column:category_id;size:36;index"`
	TagsJSON          string    `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	AuthorID          string    `gorm:"column:author_id;size:36;not null;index"`
	LastEditorID      *string   `gorm:"column:last_editor_id;size:36"`
	ViewCount         int64     `gorm:"column:view_count;not null;default:0"`
	Featured          bool      `gorm:"column:featured;not null;default:false;index:idx_articles_status_featured,priority:2"`
	CurrentRevisionID *string   `gorm:"column:current_revision_id;size:36"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing articles.
func (Article) TableName() string {
	return "articles"
}

// IsPublished reports whether the article is in the published state.
func (a *Article) IsPublished() bool {
	return a.Status == StatusPublished
}

// Tags decodes the ordered tag list.
func (a *Article) Tags() []string {
	return decodeTags(a.TagsJSON)
}

// Revision is an immutable, version-numbered snapshot of article content.
// Version numbers are a per-article sequence starting at 1.
type Revision struct {
	ID            string    `gorm:"column:id;primaryKey;size:36;not null"`
	ArticleID     string    `gorm:"column:article_id;size:36;not null;uniqueIndex:idx_revisions_article_version,priority:1"`
	VersionNumber int       `gorm:"column:version_number;not null;uniqueIndex:idx_revisions_article_version,priority:2"`
	Title         string    `gorm:"column:title;size:200;not null"`
	Content       string    `gorm:"column:content;type:text;not null"`
	Summary       string    `gorm:"column:summary;size:500"`
	ChangeMessage string    `gorm:"column:change_message;type:text"`
	EditorID      string    `gorm:"column:editor_id;size:36;not null"`
	TagsJSON      string    `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing revisions.
func (Revision) TableName() string {
	return "revisions"
}

// Tags decodes the ordered tag list captured at revision time.
func (r *Revision) Tags() []string {
	return decodeTags(r.TagsJSON)
}

// Section is one node of a per-article outline. (article, order) is unique;
// parent links nest sections within the same article.
type Section struct {
	ID        string    `gorm:"column:id;primaryKey;size:36;not null"`
	ArticleID string    `gorm:"column:article_id;size:36;not null;uniqueIndex:idx_sections_article_order,priority:1"`
	Title     string    `gorm:"column:title;size:200;not null"`
	Content   string    `gorm:"column:content;type:text"`
	Order     int       `gorm:"column:position;not null;default:0;uniqueIndex:idx_sections_article_order,priority:2"`
	ParentID  *string   `gorm:"column:parent_id;size:36;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing sections.
func (Section) TableName() string {
	return "sections"
}

// ArticleCollaborator grants a user a permission tier on one article.
// (article, user) is unique; a second grant updates the tier in place.
type ArticleCollaborator struct {
	ID          string     `gorm:"column:id;primaryKey;size:36;not null"`
	ArticleID   string     `gorm:"column:article_id;size:36;not null;uniqueIndex:idx_collaborators_article_user,priority:1"`
	UserID      string     `gorm:"column:user_id;size:36;not null;uniqueIndex:idx_collaborators_article_user,priority:2"`
	Permission  Permission `gorm:"column:permission;size:10;not null;default:'view'"`
	InvitedByID *string    `gorm:"column:invited_by_id;size:36"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing collaborator grants.
func (ArticleCollaborator) TableName() string {
	return "article_collaborators"
}

// ArticleView is an append-only analytics event; every view inserts a row.
type ArticleView struct {
	ID         string    `gorm:"column:id;primaryKey;size:36;not null"`
	ArticleID  string    `gorm:"column:article_id;size:36;not null;index:idx_article_views_article_time,priority:1"`
	UserID     *string   `gorm:"column:user_id;size:36"`
	IPAddress  string    `gorm:"column:ip_address;size:45"`
	UserAgent  string    `gorm:"column:user_agent;type:text"`
	SessionKey string    `gorm:"column:session_key;size:40"`
	ViewedAt   time.Time `gorm:"column:viewed_at;autoCreateTime;index:idx_article_views_article_time,priority:2"`
}

// TableName exposes the table backing view events.
func (ArticleView) TableName() string {
	return "article_views"
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeTags(value string) []string {
	if value == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(value), &tags); err != nil {
		return nil
	}
	return tags
}
