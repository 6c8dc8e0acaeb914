package models

// Keyframe is one row of a media item's keyframe index. Rows of one media
// item are numbered from zero in ascending timestamp order.
type Keyframe struct {
	MediaID     string `gorm:"primaryKey;size:255" json:"media_id"`
	Position    int    `gorm:"primaryKey;autoIncrement:false" json:"position"`
	TimestampMs int64  `gorm:"not null;index" json:"timestamp_ms"`
}

// TableName returns the table name for Keyframe.
func (Keyframe) TableName() string {
	return "keyframes"
}

// Validate checks the row for obviously invalid values.
func (k *Keyframe) Validate() error {
	if k.MediaID == "" {
		return ErrMediaIDRequired
	}
	if k.TimestampMs < 0 {
		return ErrNegativeTimestamp
	}
	return nil
}
