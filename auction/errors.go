package auction

import "errors"

// Kind classifies engine errors.
type Kind string

const (
	KindAccess     Kind = "access"
	KindTiming     Kind = "timing"
	KindValidation Kind = "validation"
	KindTransfer   Kind = "transfer"
	KindProtocol   Kind = "protocol"
	KindInvariant  Kind = "invariant"
)

// Error is a sentinel engine error. Callers match with errors.Is against the exported values
// and classify with KindOf.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var (
	ErrNotOwner      = newError(KindAccess, "NotOwner", "caller is not the auction owner")
	ErrReentrantCall = newError(KindAccess, "ReentrantCall", "reentrant call while funds are being distributed")

	ErrAuctionNotOpen   = newError(KindTiming, "AuctionNotOpen", "auction is not open for bidding")
	ErrAuctionStillOpen = newError(KindTiming, "AuctionStillOpen", "auction has not reached its closing time")
	ErrAlreadySettled   = newError(KindTiming, "AlreadySettled", "auction already settled")
	ErrRevealIncomplete = newError(KindTiming, "RevealIncomplete", "not every bid has been revealed")

	ErrInvalidConfig      = newError(KindValidation, "InvalidConfig", "invalid auction configuration")
	ErrInvalidAmount      = newError(KindValidation, "InvalidAmount", "invalid amount")
	ErrInvalidParticipant = newError(KindValidation, "InvalidParticipant", "invalid participant")
	ErrPaymentMismatch    = newError(KindValidation, "PaymentMismatch", "attached value does not match amount")
	ErrAlreadyBid         = newError(KindValidation, "AlreadyBid", "participant already placed a bid")
	ErrCapacityExceeded   = newError(KindValidation, "CapacityExceeded", "maximum number of participants reached")
	ErrInvalidInput       = newError(KindValidation, "InvalidInput", "invalid encrypted input")

	ErrEscrowFailed          = newError(KindTransfer, "EscrowFailed", "asset escrow transfer failed")
	ErrPaymentTransferFailed = newError(KindTransfer, "PaymentTransferFailed", "payment transfer failed")
	ErrAssetTransferFailed   = newError(KindTransfer, "AssetTransferFailed", "asset transfer to winner failed")
	ErrOwnerPaymentFailed    = newError(KindTransfer, "OwnerPaymentFailed", "payment to owner failed")
	ErrRefundFailed          = newError(KindTransfer, "RefundFailed", "refund failed")
	ErrUnsoldReturnFailed    = newError(KindTransfer, "UnsoldReturnFailed", "return of unsold asset failed")

	ErrUnknownRequest       = newError(KindProtocol, "UnknownRequest", "unknown decryption request")
	ErrAlreadyRevealed      = newError(KindProtocol, "AlreadyRevealed", "decryption request already revealed")
	ErrUnauthorizedCallback = newError(KindProtocol, "UnauthorizedCallback", "callback not authenticated by the oracle")
	ErrRevealRequestFailed  = newError(KindProtocol, "RevealRequestFailed", "failed to issue reveal request")

	ErrLedgerInvariant = newError(KindInvariant, "LedgerInvariant", "ledger invariant violated")
)
