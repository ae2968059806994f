package handlers

import (
	"strconv"

	loggingpkg "github.com/drblury/userflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/userflow/internal/runtime/metadata"
)

// MessageContextBase holds the headers and logger shared by every typed handler.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata returns a copy of the current metadata map so handlers can safely
// mutate headers without touching the original map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}

// Get retrieves a metadata value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[metadatapkg.KeyCorrelationID]
}

// Key returns the broker key the envelope was published with.
func (b MessageContextBase) Key() string {
	return b.Metadata[metadatapkg.KeyRecordKey]
}

// Partition returns the partition the envelope was read from. The second
// result is false on transports without partitions.
func (b MessageContextBase) Partition() (int32, bool) {
	raw, ok := b.Metadata[metadatapkg.KeyPartition]
	if !ok {
		return 0, false
	}
	p, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(p), true
}

// Offset returns the position of the envelope within its partition, or -1.
func (b MessageContextBase) Offset() int64 {
	raw, ok := b.Metadata[metadatapkg.KeyOffset]
	if !ok {
		return -1
	}
	o, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return o
}

// LogFields returns the envelope coordinates as logging fields.
func (b MessageContextBase) LogFields() loggingpkg.LogFields {
	fields := loggingpkg.LogFields{"key": b.Key()}
	if p, ok := b.Partition(); ok {
		fields["partition"] = p
		fields["offset"] = b.Offset()
	}
	return fields
}
