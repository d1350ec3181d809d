// Package export renders the audit trail of a release as a PDF document.
package export

import (
	"errors"
)

// Request contains parameters for an export operation.
type Request struct {
	ReleaseID string
}

// Result contains the export output. ArtifactURL is set when the PDF was
// additionally uploaded to object storage.
type Result struct {
	Data        []byte
	Filename    string
	MimeType    string
	ArtifactURL string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
