// ABOUTME: Version and identity constants for the sound module
// ABOUTME: Announced in the bus hello and mDNS TXT records
package version

const (
	Version      = "0.1.0"
	Product      = "soundmodule-go"
	Manufacturer = "GameTable"
)
