package domain

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks a bad upload. Terminal, user-correctable, no side
// effects.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid upload: " + e.Reason
}

// NotADogError is the pre-classification gate rejection. The image is never
// stored.
type NotADogError struct{}

func (e *NotADogError) Error() string { return "image does not contain a dog" }

type ServiceFailure string

const (
	FailureUnavailable ServiceFailure = "unavailable"
	FailureBlocked     ServiceFailure = "blocked"
	FailureQuota       ServiceFailure = "quota"
	FailureNetwork     ServiceFailure = "network"
)

// ExternalServiceError wraps failures of the classifier, identifier and
// image-generation services. Reason distinguishes "down" from "content
// blocked" from "quota" for user messaging.
type ExternalServiceError struct {
	Service string
	Reason  ServiceFailure
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service error (%s): %v", e.Service, e.Reason, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ParseError marks model output that stayed malformed after fallback
// extraction.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("unparseable model output: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

type JobTimeoutError struct {
	Elapsed time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("age progression exceeded wall clock (%s)", e.Elapsed)
}

// UserMessage maps any pipeline error to a safe message that never leaks the
// upstream provider or raw error text.
func UserMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	var nderr *NotADogError
	if errors.As(err, &nderr) {
		return "We couldn't find a dog in this photo. Please upload a clear photo of a dog."
	}
	var serr *ExternalServiceError
	if errors.As(err, &serr) {
		switch serr.Reason {
		case FailureQuota:
			return "The analysis service is temporarily busy. Please try again in a few minutes."
		case FailureBlocked:
			return "This image could not be processed. Please try a different photo."
		case FailureNetwork:
			return "A network issue interrupted the analysis. Please try again."
		default:
			return "The analysis service is unavailable right now. Please try again later."
		}
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		return "We were unable to identify the breed from this photo."
	}
	var sterr *StorageError
	if errors.As(err, &sterr) {
		return "The image could not be saved. It may be corrupted."
	}
	var terr *JobTimeoutError
	if errors.As(err, &terr) {
		return "Image generation timed out. You can retry from the scan page."
	}
	return "Something went wrong while analyzing the photo. Please try again."
}
