// ABOUTME: Version constants for the Chorale node
// ABOUTME: Reported in logs and discovery metadata
package version

const (
	// Version is the node software version.
	Version = "0.1.0"

	// Product is the product name.
	Product = "Chorale Node"

	// Manufacturer identifies the project.
	Manufacturer = "Chorale Protocol"
)
