package metadata

// Reserved header names. Custom headers must not reuse them.
const (
	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"

	// KeyRecordKey is the broker key of the envelope (a UUID v4 per publish).
	KeyRecordKey = "record_key"

	// KeyRecordSchema names the schema subject the payload was encoded against.
	KeyRecordSchema = "record_schema"

	// KeyTargetPartition pins an outgoing envelope to a partition.
	KeyTargetPartition = "target_partition"

	// KeyPartition and KeyOffset are stamped by the transport on consumed
	// envelopes. They are never sent on the wire.
	KeyPartition = "record_partition"
	KeyOffset    = "record_offset"

	// DeadLetterPrefix prefixes every header added by dead-letter routing.
	DeadLetterPrefix = "dlt_"

	KeyDeadLetterID             = "dlt_id"
	KeyDeadLetterErrorMessage   = "dlt_exception_message"
	KeyDeadLetterErrorClass     = "dlt_exception_class"
	KeyDeadLetterOriginalTopic  = "dlt_original_topic"
	KeyDeadLetterOriginalPart   = "dlt_original_partition"
	KeyDeadLetterOriginalOffset = "dlt_original_offset"
	KeyDeadLetterAttempts       = "dlt_attempts"
)
