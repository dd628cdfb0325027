// Package store is the write-through persistence layer for transcripts,
// intents, and dispositions. Persistent storage is treated as a
// side-effecting write path with a defined row shape, not a storage engine
// to be designed — writes never block the broadcast path that triggers
// them.
package store

import "time"

// TranscriptRow is the persisted shape of one transcript line.
type TranscriptRow struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CallID        string    `gorm:"column:call_id;type:varchar(128);not null;index:idx_transcript_call"`
	Seq           uint64    `gorm:"column:seq;not null"`
	Ts            time.Time `gorm:"column:ts;not null"`
	Text          string    `gorm:"column:text;type:text;not null"`
	Speaker       string    `gorm:"column:speaker;type:varchar(16);not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

func (TranscriptRow) TableName() string { return "call_transcripts" }

// IntentRow is the persisted shape of one intent verdict.
type IntentRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CallID     string    `gorm:"column:call_id;type:varchar(128);not null;index:idx_intent_call"`
	Seq        uint64    `gorm:"column:seq;not null"`
	Intent     string    `gorm:"column:intent;type:varchar(50);not null"`
	Confidence float64   `gorm:"column:confidence;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime"`
}

func (IntentRow) TableName() string { return "call_intents" }

// DispositionRow is the persisted shape of an agent-saved disposition.
type DispositionRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CallID     string    `gorm:"column:call_id;type:varchar(128);not null;uniqueIndex:idx_disposition_call"`
	Issue      string    `gorm:"column:issue;type:text"`
	Resolution string    `gorm:"column:resolution;type:text"`
	NextSteps  string    `gorm:"column:next_steps;type:text"`
	Code       string    `gorm:"column:code;type:varchar(64)"`
	Title      string    `gorm:"column:title;type:varchar(256)"`
	Score      float64   `gorm:"column:score"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime;<-:create"`
}

func (DispositionRow) TableName() string { return "call_dispositions" }
