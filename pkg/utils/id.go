package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateParticipantID generates a unique participant ID. The id must stay
// free of underscores so it survives relay stream id packing intact.
func GenerateParticipantID() string {
	return fmt.Sprintf("participant-%s", uuid.NewString())
}

// GenerateRelayStreamID packs the owning participant into a relay-rewritten
// stream id of the form sfu_<participant>_<suffix>. The participant segment
// must not itself contain underscores or the id cannot be unpacked.
func GenerateRelayStreamID(participantID string, ordinal int) string {
	return fmt.Sprintf("sfu_%s_%d", participantID, ordinal)
}

// GeneratePreviewToken generates an unguessable preview handle token.
func GeneratePreviewToken() string {
	return uuid.NewString()
}

// GenerateInstanceID generates a unique id for this process instance.
func GenerateInstanceID() string {
	return fmt.Sprintf("callmesh_%s", uuid.NewString())
}
