// ABOUTME: Build identification reported in handshakes
// ABOUTME: Version, product and manufacturer strings
package version

const (
	Version      = "0.3.0"
	Product      = "Resonate Mixer"
	Manufacturer = "Resonate"
)
