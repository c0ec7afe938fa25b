package domain

const (
	// TreasuryRowID is the fixed primary key of the single system_treasury row.
	TreasuryRowID = 1

	DirectionDebit  = "debit"
	DirectionCredit = "credit"

	TxTypeDeposit               = "DEPOSIT"
	TxTypeWithdrawal            = "WITHDRAWAL"
	TxTypeBonus                 = "BONUS"
	TxTypeConsortiumEntry       = "CONSORTIUM_ENTRY"
	TxTypeConsortiumAdminFee    = "CONSORTIUM_ADMIN_FEE"
	TxTypeConsortiumInstallment = "CONSORTIUM_INSTALLMENT"
	TxTypeContemplation         = "CONSORTIUM_CONTEMPLATION"
	TxTypeAdReward              = "AD_REWARD"
	TxTypeReferralBonus         = "REFERRAL_BONUS"
	TxTypeEscrowSeller          = "ESCROW_RELEASE_SELLER"
	TxTypeEscrowCourier         = "ESCROW_RELEASE_COURIER"
	TxTypePointConversion       = "POINT_CONVERSION"

	TxStatusPending             = "PENDING"
	TxStatusPendingConfirmation = "PENDING_CONFIRMATION"
	TxStatusApproved            = "APPROVED"
	TxStatusRejected            = "REJECTED"
	TxStatusCancelled           = "CANCELLED"

	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"

	AssemblyStatusOpenForBids = "OPEN_FOR_BIDS"
	AssemblyStatusFinished    = "FINISHED"

	GroupStatusActive = "ACTIVE"
	GroupStatusClosed = "CLOSED"
)

// IsTerminalStatus reports whether a transaction record status accepts no
// further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case TxStatusApproved, TxStatusRejected, TxStatusCancelled:
		return true
	}
	return false
}
