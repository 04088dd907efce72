package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"villagecash/internal/core"
)

// Change operations carried by CollectionChangedMessage.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// CollectionChangedMessage announces that a village's collections changed.
// It carries no amounts; consumers reload the village to see the new state.
type CollectionChangedMessage struct {
	Op          string      `json:"op"`
	RecordID    string      `json:"recordId"`
	VillageID   string      `json:"villageId,omitempty"`
	VillageName string      `json:"villageName,omitempty"`
	Date        core.DayKey `json:"date,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewCollectionChangedMessage describes op applied to rec.
func NewCollectionChangedMessage(op string, rec core.Record) *CollectionChangedMessage {
	return &CollectionChangedMessage{
		Op:          op,
		RecordID:    rec.ID,
		VillageID:   rec.Village.ID,
		VillageName: rec.Village.Name,
		Date:        rec.Date,
		Timestamp:   time.Now(),
	}
}

// Village returns the village the change belongs to.
func (m *CollectionChangedMessage) Village() core.VillageRef {
	return core.VillageRef{ID: m.VillageID, Name: m.VillageName}
}

// ToJSON converts the message to JSON bytes
func (m *CollectionChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CollectionChangedMessageFromJSON decodes and checks a message.
func CollectionChangedMessageFromJSON(data []byte) (*CollectionChangedMessage, error) {
	var msg CollectionChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Op {
	case OpCreated, OpUpdated, OpDeleted:
	default:
		return nil, fmt.Errorf("unknown op %q", msg.Op)
	}
	if msg.Village().IsZero() {
		return nil, fmt.Errorf("message for record %q has no village", msg.RecordID)
	}
	return &msg, nil
}
