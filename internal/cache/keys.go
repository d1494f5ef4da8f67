package cache

import "fmt"

const (
	KeyGTFSVersion = "gtfs:version"
)

func KeySequence(version, routeID string, direction int) string {
	return fmt.Sprintf("seq:%s:%s:%d", version, routeID, direction)
}

// KeySequencePattern matches every sequence of one schedule version.
func KeySequencePattern(version string) string {
	return fmt.Sprintf("seq:%s:*", version)
}
