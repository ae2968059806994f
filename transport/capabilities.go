package transport

// Capabilities describes what a transport backend guarantees about the
// envelopes it carries. The runtime and producer read it to decide how dead
// letters are addressed and how large a record may be.
type Capabilities struct {
	// Name is the transport name used in configuration.
	Name string

	// SupportsPartitioning indicates envelopes carry the partition they were
	// read from and a publisher can target a partition.
	SupportsPartitioning bool

	// SupportsOrdering indicates envelopes within a partition are delivered
	// in publish order.
	SupportsOrdering bool

	// MaxMessageSize is the largest payload in bytes the publisher accepts.
	// Zero means no limit is known.
	MaxMessageSize int64
}

// PinsDeadLetters reports whether a dead letter can be written to the same
// partition as its source so per-partition order carries over.
func (c Capabilities) PinsDeadLetters() bool {
	return c.SupportsPartitioning && c.SupportsOrdering
}

// Capability sets of the bundled transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
	}

	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsPartitioning: true,
		SupportsOrdering:     true,
		MaxMessageSize:       1000000,
	}
)

// GetCapabilities returns the capabilities registered for a transport name,
// or a zero value carrying only the name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
