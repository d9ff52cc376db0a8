package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// ErrorType represents the category of a transport failure
type ErrorType int

const (
	// ErrTypeTransport indicates the socket closed or errored before a reply
	ErrTypeTransport ErrorType = iota
	// ErrTypeTimeout indicates no complete reply arrived in time
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates the device refused the TCP connection
	ErrTypeConnectionRefused
	// ErrTypeUnreachable indicates the host or network is unreachable
	ErrTypeUnreachable
	// ErrTypeFraming indicates a TCP reply shorter than its length header
	ErrTypeFraming
	// ErrTypeParse indicates an undecodable reply
	ErrTypeParse
	// ErrTypeClosed indicates use of a socket or connection after Close
	ErrTypeClosed
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeUnreachable:
		return "Unreachable"
	case ErrTypeFraming:
		return "Framing Error"
	case ErrTypeParse:
		return "Parse Error"
	case ErrTypeClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is returned by sockets and connections. It carries enough context
// (host, port, payload) to diagnose which request failed.
type Error struct {
	Type      ErrorType     // Category of error
	Message   string        // Human-readable error message
	Host      string        // Device host
	Port      int           // Device port
	Transport string        // "tcp" or "udp"
	Timeout   time.Duration // Elapsed timeout (ErrTypeTimeout only)
	Payload   []byte        // Plaintext request payload
	Segments  int           // TCP segments received before failure
	HadError  bool          // Socket reported an error before closing
	Err       error         // Underlying error (if any)
}

// Error implements the error interface
func (e *Error) Error() string {
	where := ""
	if e.Host != "" {
		where = fmt.Sprintf(" [%s %s:%d]", e.Transport, e.Host, e.Port)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s%s (caused by: %v)", e.Type, e.Message, where, e.Err)
	}
	return fmt.Sprintf("%s: %s%s", e.Type, e.Message, where)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request may succeed
func (e *Error) Retryable() bool {
	switch e.Type {
	case ErrTypeTimeout, ErrTypeConnectionRefused, ErrTypeTransport:
		return true
	default:
		return false
	}
}

// ClassifyNetworkError maps a socket error onto an ErrorType
func ClassifyNetworkError(err error, host string, port int) *Error {
	if err == nil {
		return nil
	}

	var te *Error
	if errors.As(err, &te) {
		return te
	}

	base := &Error{Err: err, Host: host, Port: port}

	switch {
	case os.IsTimeout(err):
		base.Type = ErrTypeTimeout
		base.Message = "Request timed out"
	case errors.Is(err, net.ErrClosed):
		base.Type = ErrTypeClosed
		base.Message = "Socket closed"
	case errors.Is(err, syscall.ECONNREFUSED):
		base.Type = ErrTypeConnectionRefused
		base.Message = "Device refused connection"
	case errors.Is(err, syscall.EHOSTUNREACH):
		base.Type = ErrTypeUnreachable
		base.Message = "Host unreachable"
	case errors.Is(err, syscall.ENETUNREACH):
		base.Type = ErrTypeUnreachable
		base.Message = "Network unreachable"
	default:
		base.Type = ErrTypeTransport
		base.Message = "Network error occurred"
	}
	return base
}

func errorType(err error) (ErrorType, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Type, true
	}
	return 0, false
}

// IsTimeout checks if an error is a transport timeout
func IsTimeout(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeTimeout
}

// IsFraming checks if an error is a TCP framing error
func IsFraming(err error) bool {
	t, ok := errorType(err)
	return ok && t == ErrTypeFraming
}

// IsTransport checks if an error came from the transport layer at all
func IsTransport(err error) bool {
	_, ok := errorType(err)
	return ok
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// ShortMessage returns a concise, user-friendly error message
func ShortMessage(err error) string {
	var te *Error
	if !errors.As(err, &te) {
		return err.Error()
	}

	switch te.Type {
	case ErrTypeTimeout:
		return fmt.Sprintf("%s not responding (timeout after %s)", te.Host, te.Timeout)
	case ErrTypeConnectionRefused:
		return fmt.Sprintf("%s refused connection on port %d", te.Host, te.Port)
	case ErrTypeUnreachable:
		return fmt.Sprintf("%s unreachable - check network connection", te.Host)
	case ErrTypeFraming:
		return "Device sent a truncated reply"
	case ErrTypeParse:
		return "Failed to parse device response"
	case ErrTypeClosed:
		return "Connection already closed"
	default:
		return "Network error - check connection"
	}
}

// TroubleshootingHint returns user-friendly troubleshooting advice for an error
func TroubleshootingHint(err error) string {
	var te *Error
	if !errors.As(err, &te) {
		return "An unexpected error occurred. Please try again."
	}

	switch te.Type {
	case ErrTypeTimeout:
		return strings.Join([]string{
			"The device did not respond in time.",
			"Troubleshooting:",
			"  • Check that the device is powered on and joined to your WiFi",
			"  • Try the other transport (--transport udp or tcp)",
			"  • Try increasing the timeout duration",
		}, "\n")
	case ErrTypeConnectionRefused:
		return strings.Join([]string{
			"The device refused the connection.",
			"Troubleshooting:",
			"  • Verify the port number (default is 9999)",
			"  • Newer firmware may have disabled the local protocol",
		}, "\n")
	case ErrTypeUnreachable:
		return strings.Join([]string{
			"The device is not reachable on the network.",
			"Troubleshooting:",
			"  • Verify the device IP address is correct",
			"  • Check that you're on the same network as the device",
			"  • Try pinging the device: ping " + te.Host,
		}, "\n")
	default:
		return "An error occurred. Please check the error message for details."
	}
}
