package otaextract

import (
	"errors"
	"fmt"
)

// Kind is a stable error category, used by the CLI driver to pick an exit
// code (see cmd/otaextract) and by callers that want to branch on failure
// class without string-matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindInputNotFound
	KindInvalidArgument
	KindNotAZip
	KindPayloadNotInZip
	KindInvalidMagic
	KindUnsupportedVersion
	KindManifestTooLarge
	KindManifestDecode
	KindUnsupportedOp
	KindOpLengthMismatch
	KindCorruptStream
	KindSourceHashMismatch
	KindOutputHashMismatch
	KindRangeNotSupported
	KindNetworkTransient
	KindNetworkFatal
	KindIoWrite
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInputNotFound:
		return "InputNotFound"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotAZip:
		return "NotAZip"
	case KindPayloadNotInZip:
		return "PayloadNotInZip"
	case KindInvalidMagic:
		return "InvalidMagic"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindManifestTooLarge:
		return "ManifestTooLarge"
	case KindManifestDecode:
		return "ManifestDecode"
	case KindUnsupportedOp:
		return "UnsupportedOp"
	case KindOpLengthMismatch:
		return "OpLengthMismatch"
	case KindCorruptStream:
		return "CorruptStream"
	case KindSourceHashMismatch:
		return "SourceHashMismatch"
	case KindOutputHashMismatch:
		return "OutputHashMismatch"
	case KindRangeNotSupported:
		return "RangeNotSupported"
	case KindNetworkTransient:
		return "Network(transient)"
	case KindNetworkFatal:
		return "Network(fatal)"
	case KindIoWrite:
		return "IoWrite"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a stable Kind, and optionally the
// partition the failure belongs to.
type Error struct {
	Kind      Kind
	Partition string
	Detail    string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Partition != "" {
		msg = fmt.Sprintf("%s: partition %q", msg, e.Partition)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, KindX) style matching via a *Error sentinel built
// with NewError(kind, "", nil).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Cause == nil && other.Partition == "" && other.Kind == e.Kind
	}
	return false
}

// NewError builds an *Error for the given kind and cause.
func NewError(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// NewPartitionError builds an *Error scoped to a single partition.
func NewPartitionError(kind Kind, partition, detail string, cause error) *Error {
	return &Error{Kind: kind, Partition: partition, Detail: detail, Cause: cause}
}

// IsKind reports whether the first *Error in err's chain has the given Kind.
// The kinds of *Error values nested further down, as its Cause, are not
// consulted.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrUnsupportedOp reports a payload referencing an install-operation type
// this build has no decoder/applier for.
func ErrUnsupportedOp(name string) error {
	return NewError(KindUnsupportedOp, name, nil)
}

// ErrCorruptStream reports a codec decode failure.
func ErrCorruptStream(codec string, cause error) error {
	return NewError(KindCorruptStream, codec, cause)
}
