package knowledge

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// newArtifactID mirrors rag_agent.py's _generate_artifact_id:
// "{type}-{card_id}-{first 8 hex chars of md5(type+card_id+timestamp)}".
func newArtifactID(artifactType ArtifactType, cardID string, now time.Time) string {
	ts := now.UTC().Format("20060102150405")
	sum := md5.Sum([]byte(string(artifactType) + cardID + ts))
	return fmt.Sprintf("%s-%s-%s", artifactType, cardID, hex.EncodeToString(sum[:])[:8])
}
