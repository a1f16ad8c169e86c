package longtermmemory

import (
	"fmt"

	"github.com/google/uuid"
)

// DefaultK is the number of neighbors returned by Search.
const DefaultK = 10

// Record is one indexed message.
type Record struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Embedding []float32
}

// NewRecordID generates a new unique record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// Validate ensures the record can be written to an index of dims dimensions.
func (r *Record) Validate(dims int) error {
	if r.ID == "" {
		return fmt.Errorf("longtermmemory: missing ID")
	}
	if r.SessionID == "" {
		return fmt.Errorf("longtermmemory: missing SessionID")
	}
	if len(r.Embedding) != dims {
		return fmt.Errorf("longtermmemory: embedding has %d dimensions, index expects %d", len(r.Embedding), dims)
	}
	return nil
}
