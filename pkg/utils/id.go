package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateRoomID generates a unique room ID.
func GenerateRoomID() string {
	return uuid.NewString()
}

// GenerateEndpointID generates a unique transport endpoint ID.
func GenerateEndpointID() string {
	return fmt.Sprintf("ep_%s", uuid.NewString())
}

// GenerateAckID generates a correlation ID for request/acknowledgement
// calls.
func GenerateAckID() string {
	timestamp := time.Now().UnixNano()
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("ack_%d_%s", timestamp, hex.EncodeToString(b))
}

// GenerateStreamID generates a unique media stream ID.
func GenerateStreamID() string {
	return fmt.Sprintf("stream_%s", uuid.NewString())
}
