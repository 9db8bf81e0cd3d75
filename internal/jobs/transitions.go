package jobs

import "autodubber/internal/domain"

// ValidTransition enforces the allowed job state machine edges. Any
// non-terminal stage may fail into error; completed additionally admits the
// speed-adjustment side branch.
func ValidTransition(from, to domain.JobStatus) bool {
	if to == domain.StatusError {
		return !from.Terminal()
	}

	switch from {
	case domain.StatusCreated:
		return to == domain.StatusExtractingMedia
	case domain.StatusExtractingMedia:
		return to == domain.StatusTranscribing
	case domain.StatusTranscribing:
		return to == domain.StatusAwaitingConfirmation
	case domain.StatusAwaitingConfirmation:
		return to == domain.StatusConfirmed
	case domain.StatusConfirmed:
		return to == domain.StatusSynthesizing
	case domain.StatusSynthesizing:
		return to == domain.StatusAssemblingAudio
	case domain.StatusAssemblingAudio:
		return to == domain.StatusAssemblingVideo
	case domain.StatusAssemblingVideo:
		return to == domain.StatusCompleted
	case domain.StatusCompleted:
		return to == domain.StatusAdjustingSpeed
	case domain.StatusAdjustingSpeed:
		return to == domain.StatusRenderingAdjusted
	case domain.StatusRenderingAdjusted:
		return to == domain.StatusCompleted
	default:
		return false
	}
}
