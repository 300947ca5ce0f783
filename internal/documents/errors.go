package documents

import (
	"errors"
	"fmt"
	"strings"

	platformstorage "github.com/kapitalwerk/contract-api/internal/platform/storage"
)

var (
	// ErrTemplateNotFound indicates no candidate location yielded a template.
	ErrTemplateNotFound = errors.New("documents: template not found")
	// ErrTemplateUnreadable indicates the resolved template could not be opened as a form.
	ErrTemplateUnreadable = errors.New("documents: template unreadable")
	// ErrUnknownTemplate indicates the template key is not part of the catalogue.
	ErrUnknownTemplate = errors.New("documents: unknown template key")
	// ErrSubjectNotFound indicates the investor profile could not be loaded.
	ErrSubjectNotFound = errors.New("documents: subject not found")
	// ErrTransactionNotFound indicates the investment could not be loaded for the subject.
	ErrTransactionNotFound = errors.New("documents: transaction not found")
	// ErrTransactionNotOwned indicates the investment exists but belongs to another subject.
	// It matches ErrTransactionNotFound as well.
	ErrTransactionNotOwned = fmt.Errorf("%w: owned by another subject", ErrTransactionNotFound)
	// ErrPersistFailure indicates the generated document could not be stored or recorded.
	ErrPersistFailure = errors.New("documents: persist failed")
	// ErrBlobNotFound is returned by template sources when an object does not exist.
	ErrBlobNotFound = platformstorage.ErrObjectNotFound
	// ErrInvalidSignature indicates the signature payload could not be decoded.
	ErrInvalidSignature = errors.New("documents: invalid signature payload")
)

// TemplateNotFoundError lists every location probed for a template key.
type TemplateNotFoundError struct {
	Key       string
	Attempted []Location
}

func (e *TemplateNotFoundError) Error() string {
	names := make([]string, 0, len(e.Attempted))
	for _, loc := range e.Attempted {
		names = append(names, loc.String())
	}
	return fmt.Sprintf("%s: %s (attempted %s)", ErrTemplateNotFound.Error(), e.Key, strings.Join(names, ", "))
}

func (e *TemplateNotFoundError) Unwrap() error {
	return ErrTemplateNotFound
}

// PersistStage names the persistence step that failed.
type PersistStage string

const (
	PersistStageSerialize PersistStage = "serialize"
	PersistStageUpload    PersistStage = "upload"
	PersistStageRecord    PersistStage = "record"
)

// PersistError reports a failed persistence step. Address is set when the document was
// uploaded but recording it on the investment failed.
type PersistError struct {
	Stage   PersistStage
	Address string
	Err     error
}

func (e *PersistError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("%s: %s (document stored at %s): %v", ErrPersistFailure.Error(), e.Stage, e.Address, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrPersistFailure.Error(), e.Stage, e.Err)
}

func (e *PersistError) Unwrap() []error {
	return []error{ErrPersistFailure, e.Err}
}
