package domain

import "errors"

var (
	// ErrAlreadySubmitted is returned on a second submission attempt for the
	// same (participant, question) pair.
	ErrAlreadySubmitted = errors.New("answer already submitted for this question")
	// ErrQuestionNotFound indicates a question ID that does not exist.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound indicates an unknown participant ID.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrNameDeviceConflict is returned when a name and a device identifier
	// are already bound to different records.
	ErrNameDeviceConflict = errors.New("name and device are bound to different participants")
	// ErrBanned rejects any access by a banned participant.
	ErrBanned = errors.New("participant is banned")
	// ErrDeleteBlocked rejects deleting a question that still has submissions.
	ErrDeleteBlocked = errors.New("question has submissions; delete them first")
	// ErrInvalidInput marks caller-supplied data that fails validation.
	ErrInvalidInput = errors.New("invalid input")
)
