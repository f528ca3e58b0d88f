package db

import (
	"encoding/json"
	"time"
)

// Brief maps secbrief.briefs. One row per retained calendar day.
type Brief struct {
	BriefDate  time.Time       `gorm:"column:brief_date;type:date;primaryKey"`
	RunID      string          `gorm:"column:run_id;type:uuid;not null"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	StoryCount int             `gorm:"column:story_count;type:integer;not null;default:0"`
	SavedAt    time.Time       `gorm:"column:saved_at;type:timestamptz;not null;default:now()"`
}

func (Brief) TableName() string { return "secbrief.briefs" }

// FeedHealthRecord maps secbrief.feed_health_records, the append-only run log.
type FeedHealthRecord struct {
	RecordID     int64     `gorm:"column:record_id;primaryKey;autoIncrement"`
	FeedID       string    `gorm:"column:feed_id;type:text;not null;index:idx_feed_health_feed_run,priority:1"`
	RunTimestamp time.Time `gorm:"column:run_timestamp;type:timestamptz;not null;index:idx_feed_health_feed_run,priority:2"`
	ItemCount    int       `gorm:"column:item_count;type:integer;not null"`
	Stale        bool      `gorm:"column:stale;type:boolean;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (FeedHealthRecord) TableName() string { return "secbrief.feed_health_records" }

func autoMigrateModels() []any {
	return []any{
		&Brief{},
		&FeedHealthRecord{},
	}
}
