package apperr

// Catalog
var (
	ErrCopyNotFound      = New(NotFound, "COPY_NOT_FOUND", "book copy not found")
	ErrBookNotFound      = New(NotFound, "BOOK_NOT_FOUND", "book not found")
	ErrCopyNotAvailable  = New(InvalidState, "COPY_NOT_AVAILABLE", "book copy is not available for issue")
	ErrCopyInCirculation = New(InvalidState, "COPY_IN_CIRCULATION", "book copy is on loan or held for a reservation")
	ErrDuplicateBarcode  = New(InvalidState, "DUPLICATE_BARCODE", "a copy with this barcode already exists")
)

// Circulation ledger
var (
	ErrTransactionNotFound  = New(NotFound, "TRANSACTION_NOT_FOUND", "transaction not found")
	ErrAlreadyReturned      = New(InvalidState, "ALREADY_RETURNED", "transaction already returned")
	ErrReservationPending   = New(InvalidState, "RESERVATION_PENDING", "another reader is waiting for this book")
	ErrRenewalLimitExceeded = New(LimitExceeded, "RENEWAL_LIMIT_EXCEEDED", "renewal limit reached")
	ErrLoanNotPermitted     = New(Forbidden, "LOAN_NOT_PERMITTED", "reader may not borrow")
)

// Reservation queue
var (
	ErrReservationNotFound              = New(NotFound, "RESERVATION_NOT_FOUND", "reservation not found")
	ErrCopyAvailableDirectIssueRequired = New(InvalidState, "COPY_AVAILABLE_DIRECT_ISSUE_REQUIRED", "a copy is available, issue it directly")
	ErrDuplicateReservation             = New(LimitExceeded, "DUPLICATE_RESERVATION", "reader already has a pending reservation for this book")
	ErrReservationNotPending            = New(InvalidState, "RESERVATION_NOT_PENDING", "reservation is no longer pending")
)

// Fine ledger
var (
	ErrFineNotFound        = New(NotFound, "FINE_NOT_FOUND", "fine not found")
	ErrFineAlreadyResolved = New(InvalidState, "FINE_ALREADY_RESOLVED", "fine already paid or waived")
)

// Identity and cross-cutting
var (
	ErrUserNotFound           = New(NotFound, "USER_NOT_FOUND", "user not found")
	ErrForbidden              = New(Forbidden, "FORBIDDEN", "operation not permitted for this principal")
	ErrUnauthenticated        = New(Forbidden, "UNAUTHENTICATED", "missing or invalid credentials")
	ErrConcurrentModification = New(Conflict, "CONCURRENT_MODIFICATION", "record changed concurrently, retry")
	ErrInvalidArgument        = New(InvalidArgument, "INVALID_ARGUMENT", "invalid argument")
	ErrDuplicateUser          = New(InvalidState, "DUPLICATE_USER", "a user with this email already exists")
	ErrRateLimited            = New(LimitExceeded, "RATE_LIMITED", "too many requests")
)
