package semantic

import "time"

// VectorRecord is one profile summary embedding stored in Qdrant.
type VectorRecord struct {
	ID        string // UUID point id
	Embedding []float32
	Text      string
	Refs      []string // record ids summarized by Text, never empty
	Platform  int
	Cycle     int
	Time      time.Time
	Lat       float64
	Lon       float64
}

// Payload keys.
const (
	keyText     = "text"
	keyRefs     = "refs"
	keyPlatform = "platform"
	keyCycle    = "cycle"
	keyTime     = "time"
	keyLat      = "lat"
	keyLon      = "lon"
)
