// Package core defines core types.
package core

// Log field names following {scope}.{field} convention.
const (
	FieldComponent = "component"
	FieldDirection = "direction"
	FieldFlow      = "flow"
	FieldSrc       = "net.src"
	FieldDst       = "net.dst"

	FieldSeqno   = "zwift.seqno"
	FieldLastSeq = "zwift.last_seqno"
	FieldMissing = "zwift.missing"
	FieldVariant = "zwift.variant"
	FieldPrefix  = "zwift.prefix" // hex of the first payload bytes
	FieldTag     = "zwift.payload_type"
	FieldRaw     = "zwift.raw"  // hex of an opaque or failed sub-payload
	FieldType    = "zwift.type" // codec message type name
	FieldLength  = "zwift.length"
	FieldDrift   = "zwift.clock_drift"
)
