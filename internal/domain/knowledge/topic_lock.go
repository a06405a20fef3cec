package knowledge

import "time"

// TopicLock is the row a resolver commit writes first on databases without
// advisory locks. Holding the row write serializes same-topic commits until
// the transaction ends.
type TopicLock struct {
	TopicKey string    `gorm:"column:topic_key;type:text;primaryKey" json:"topic_key"`
	LockedAt time.Time `gorm:"not null" json:"locked_at"`
}

func (TopicLock) TableName() string { return "topic_lock" }
