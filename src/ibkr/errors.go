package ibkr

import "fmt"

// TransportError signals a failed HTTP exchange with the Flex Web Service:
// either the request itself failed or the service answered with a non-200 status.
// Fatal when returned from TriggerReport; FetchReport retries it internally.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flex request failed: %v", e.Err)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError carries an explicit non-Success status reported by the Flex
// Web Service, with the upstream error code and message verbatim.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("IBKR error %s: %s", e.Code, e.Message)
}

// ProtocolError signals a trigger response that does not match the expected
// FlexStatementResponse envelope.
type ProtocolError struct {
	Body string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response format: %s", e.Body)
}

// TimeoutError signals that all poll attempts were exhausted without the
// report becoming available. Callers should suggest retrying later.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for report generation after %d attempts", e.Attempts)
}
