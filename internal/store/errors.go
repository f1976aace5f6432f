package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ridelines/draftsync/internal/common"
)

// Kind classifies store errors to drive retry-vs-surface decisions.
type Kind int

const (
	KindOther Kind = iota
	KindNetwork
	KindPermission
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	default:
		return "other"
	}
}

// Substrings that mark an error as network-related when no typed match is
// available. Drivers are not consistent about error types, so the message
// patterns stay as a fallback.
var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"timeout",
	"unavailable",
	"temporarily",
}

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}

	switch {
	case errors.Is(err, common.ErrNotFound):
		return KindNotFound
	case errors.Is(err, common.ErrPermission):
		return KindPermission
	case errors.Is(err, common.ErrValidation):
		return KindValidation
	case errors.Is(err, common.ErrUnavailable):
		return KindNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return KindNetwork
		}
	}
	return KindOther
}

// IsNetwork reports whether err is transient/network-classified and therefore
// retryable and queueable.
func IsNetwork(err error) bool { return Classify(err) == KindNetwork }
