// Package roles defines the external role mutation surface. The reconciler
// drives it; pkg/gateway provides the production implementation.
package roles

import (
	"context"
	"errors"
	"fmt"
)

// Status reports what a grant or revoke actually changed on the platform.
type Status int

const (
	// StatusApplied means the platform state changed.
	StatusApplied Status = iota
	// StatusNoop means the platform already matched the requested state.
	StatusNoop
)

// PermanentError marks a role mutation that retrying cannot fix, such as a
// deleted role or missing permission. The reconciler logs these and moves on
// instead of retrying next sweep as if they were transient.
type PermanentError struct {
	Op     string
	Role   string
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s role %s: %s", e.Op, e.Role, e.Reason)
}

// IsPermanent reports whether err wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Service mutates and inspects a subject's platform roles.
type Service interface {
	// Held returns the role refs the subject currently holds.
	Held(ctx context.Context, communityID, subjectID string) ([]string, error)
	// Grant assigns a role. Granting an already held role returns StatusNoop.
	Grant(ctx context.Context, communityID, subjectID, roleRef string) (Status, error)
	// Revoke removes a role. Revoking an unheld role returns StatusNoop.
	Revoke(ctx context.Context, communityID, subjectID, roleRef string) (Status, error)
}
