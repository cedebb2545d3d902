// Package core defines core types with zero external dependencies.
package core

// TCP flag bits as carried in byte 13 of the TCP header.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// Default protocol ports.
const (
	DefaultUDPPort uint16 = 3022
	DefaultTCPPort uint16 = 3023
)

// DefaultWorldEpochMillis is the Unix time in milliseconds at which the
// world-clock counter reads zero.
const DefaultWorldEpochMillis int64 = 1414016074335
