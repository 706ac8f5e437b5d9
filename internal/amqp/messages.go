package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"fintrack/internal/core"
)

// Invalidation tells other processes of the same user that a resource
// changed on the server. It carries no data; receivers refetch.
type Invalidation struct {
	Resource  core.Resource `json:"resource"`
	Origin    string        `json:"origin"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewInvalidation(resource core.Resource, origin string) *Invalidation {
	return &Invalidation{
		Resource:  resource,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *Invalidation) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvalidationFromJSON decodes a message and rejects unknown resources.
func InvalidationFromJSON(data []byte) (*Invalidation, error) {
	var msg Invalidation
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Resource == core.ResourceAuth || !msg.Resource.IsValid() {
		return nil, fmt.Errorf("unknown resource %q", msg.Resource)
	}
	return &msg, nil
}
