package events

// Topic constants for domain events emitted by the group-buy service.
const (
	TopicScheduleRegistered = "groupbuy.schedule_registered"
	TopicBatchFinalized     = "groupbuy.batch_finalized"
)

// DefaultTopics returns the canonical list of topics.
func DefaultTopics() []string {
	return []string{
		TopicScheduleRegistered,
		TopicBatchFinalized,
	}
}
