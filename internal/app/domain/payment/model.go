package payment

import "time"

// MinFrequency is the smallest accepted payment cadence, in seconds.
const MinFrequency int64 = 3600

// MaxDescriptionLength bounds the free-text description on a payment.
const MaxDescriptionLength = 256

// Common frequency presets, in seconds.
const (
	FrequencyDaily   int64 = 86400
	FrequencyWeekly  int64 = 604800
	FrequencyMonthly int64 = 2592000
	FrequencyYearly  int64 = 31536000
)

// ScheduledPayment is a recurring authorization to move funds from its
// sender to a recipient on a fixed cadence. Due payments are discovered and
// executed by an automation caller, not by the sender.
type ScheduledPayment struct {
	ID              int64
	Sender          string
	Recipient       string
	Amount          int64
	Frequency       int64
	TotalPayments   int64
	PaymentsMade    int64
	NextPaymentTime time.Time
	Active          bool
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Ready reports whether the payment is due for execution at the given time.
func (p ScheduledPayment) Ready(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.NextPaymentTime.After(now) {
		return false
	}
	return p.TotalPayments == 0 || p.PaymentsMade < p.TotalPayments
}
