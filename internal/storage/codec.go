package storage

import (
	"encoding/json"
	"fmt"

	"github.com/tabletop-sync/lifesync/internal/models"
)

// marshalSession serializes a session in its document layout.
func marshalSession(s models.Session) ([]byte, error) {
	data, err := json.Marshal(models.ToDocument(s))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func unmarshalSession(data []byte) (models.Session, error) {
	var doc models.SessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return models.FromDocument(doc)
}
