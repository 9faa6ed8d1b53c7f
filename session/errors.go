package session

import "errors"

var (
	// ErrUnknownParticipant reports a submission from an id that is not
	// part of the session.
	ErrUnknownParticipant = errors.New("session: unknown participant")

	// ErrConflictingSubmission reports a second, different submission for
	// the same participant and round. The session is aborted.
	ErrConflictingSubmission = errors.New("session: conflicting submission")

	// ErrSessionCancelled is the abort reason for an explicit cancellation.
	ErrSessionCancelled = errors.New("session: cancelled")

	// ErrParticipantAborted is the abort reason when a participant reports
	// a local failure the coordinator has no sentinel for.
	ErrParticipantAborted = errors.New("session: participant aborted")

	// ErrSessionAborted wraps the abort reason when a submission reaches a
	// session that has already aborted.
	ErrSessionAborted = errors.New("session: aborted")

	// ErrUnknownSession reports a handle that does not refer to a live or
	// retained session.
	ErrUnknownSession = errors.New("session: unknown session")

	// ErrSessionExists reports an attempt to create a session whose id is
	// already in use by a non-terminal session.
	ErrSessionExists = errors.New("session: session already in progress")
)
