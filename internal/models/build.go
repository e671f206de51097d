package models

import "time"

// BuildStatus is the lifecycle state of a head-vs-base comparison.
type BuildStatus string

const (
	// BuildPending is the initial state; the build is waiting for browser
	// uploads or for diffing to run.
	BuildPending BuildStatus = "pending"
	// BuildSuccess means diffing found no divergence.
	BuildSuccess BuildStatus = "success"
	// BuildFailed means at least one image differed; Diffs holds the detail.
	BuildFailed BuildStatus = "failed"
	// BuildApproved is a manual sign-off on a failed build.
	BuildApproved BuildStatus = "approved"
)

// Build tracks one head-vs-base comparison request for a project.
type Build struct {
	ID          string      `json:"id"`
	Project     string      `json:"project"`
	Head        string      `json:"head"`
	Base        string      `json:"base"`
	NumBrowsers int         `json:"numBrowsers"`
	Status      BuildStatus `json:"status"`
	// Diffs maps browser name to the images that differed. Present only
	// while the build is failed (or approved after failing).
	Diffs     map[string][]string `json:"diffs,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Resolved reports whether the build has left the pending state. Resolved
// builds are never re-diffed.
func (b *Build) Resolved() bool {
	return b.Status != BuildPending
}
