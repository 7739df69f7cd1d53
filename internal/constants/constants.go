// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Processing constants
const (
	// EnrollWorkers is the default number of parallel workers for batch enrollment.
	// Each worker holds one provider call in flight.
	EnrollWorkers = 4

	// MaxEnrollFileSize is the largest image file the batch importer will read
	MaxEnrollFileSize = 10 << 20
)

// Server constants
const (
	// ShutdownTimeout bounds graceful shutdown of the HTTP server and queue worker
	ShutdownTimeout = 30 * time.Second

	// ChallengeSweepInterval is how often expired challenges are removed from PostgreSQL.
	// Redis expires them on its own.
	ChallengeSweepInterval = 5 * time.Minute

	// ChallengeRetentionFactor multiplies the OTP window to get how long an expired
	// challenge is kept so a late check still reports Expired rather than NotFound
	ChallengeRetentionFactor = 2
)

// Enrollment file naming
const (
	// EnrollFileSeparator splits "<primary>_<secondary>.jpg" file names in batch imports
	EnrollFileSeparator = "_"
)
