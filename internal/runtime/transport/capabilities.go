// Package transport connects the runtime to the modular transports in
// github.com/drblury/userflow/transport.
package transport

import (
	newtransport "github.com/drblury/userflow/transport"
)

// Capabilities is an alias for the modular transport Capabilities.
type Capabilities = newtransport.Capabilities

// Predefined capability sets aliased from the transport package.
var (
	ChannelCapabilities = newtransport.ChannelCapabilities
	KafkaCapabilities   = newtransport.KafkaCapabilities
)

// GetCapabilities returns the capabilities for a transport by name.
func GetCapabilities(transportName string) Capabilities {
	return newtransport.GetCapabilities(transportName)
}
