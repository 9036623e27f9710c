package services

// ServiceError carries an HTTP status plus a stable reason code for
// well-known business conditions.
type ServiceError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func newError(status int, reason, message string) *ServiceError {
	return &ServiceError{StatusCode: status, Reason: reason, Message: message}
}

// RequestMeta is the client context attached to audit entries.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	RequestID string
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
