// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentTask represents one document ingestion job.
type DocumentTask struct {
	DocumentID     string `json:"document_id"`
	ConversationID string `json:"conversation_id"`
	ObjectName     string `json:"object_name"`
	FileName       string `json:"file_name"`
	ClientID       string `json:"client_id"`
}
