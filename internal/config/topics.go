package config

const (
	// TopicVideoIngest is the NSQ topic for video ingestion tasks
	// (transcribe, embed, store).
	TopicVideoIngest = "video.ingest"
)
