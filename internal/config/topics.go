package config

const (
	// TopicIngestTask is the NSQ topic for item processing tasks
	// (both new-item ingestion and refresh-item evolution).
	TopicIngestTask = "ingest.task"

	// ChannelWorkflow is the consumer channel for the item processing workflow.
	ChannelWorkflow = "workflow"
)
