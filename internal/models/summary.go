package models

import "time"

// Timestamp is a chapter marker inside a summarised video.
type Timestamp struct {
	Time    string `json:"time"`
	Content string `json:"content"`
}

// Summary is a stored summarisation result.
type Summary struct {
	ID            int64       `json:"id"`
	UserID        string      `json:"user_id"`
	YouTubeURL    string      `json:"youtube_url"`
	VideoTitle    string      `json:"video_title"`
	SummaryText   string      `json:"summary_text"`
	KeyPoints     []string    `json:"key_points"`
	Timestamps    []Timestamp `json:"timestamps"`
	MainTakeaways []string    `json:"main_takeaways"`
	Format        string      `json:"summary_format"`
	Length        string      `json:"summary_length"`
	CreatedAt     time.Time   `json:"created_at"`
}
