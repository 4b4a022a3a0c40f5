package fcm

// Priority of a downstream message.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is the legacy FCM HTTP API downstream message body.
type Message struct {
	To         string            `json:"to"`
	Priority   Priority          `json:"priority,omitempty"`
	TimeToLive int               `json:"time_to_live"`
	DryRun     bool              `json:"dry_run,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// TopicRecipient formats a topic name as an FCM recipient.
func TopicRecipient(topic string) string {
	return "/topics/" + topic
}
