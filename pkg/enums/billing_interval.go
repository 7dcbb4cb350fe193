package enums

import "fmt"

// BillingInterval maps to the billing_interval enum in Postgres.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalYearly  BillingInterval = "yearly"
)

var validBillingIntervals = []BillingInterval{
	BillingIntervalMonthly,
	BillingIntervalYearly,
}

// IsValid checks whether the interval matches the canonical enum.
func (i BillingInterval) IsValid() bool {
	for _, candidate := range validBillingIntervals {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseBillingInterval converts raw strings into BillingInterval.
func ParseBillingInterval(value string) (BillingInterval, error) {
	for _, candidate := range validBillingIntervals {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing interval %q", value)
}
