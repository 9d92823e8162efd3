package services

import "errors"

var (
	// ErrCouponRepositoryMissing indicates the coupon repository dependency is absent.
	ErrCouponRepositoryMissing = errors.New("coupon service: repository is not configured")
	// ErrCouponInvalidCode signals the supplied coupon code is missing or malformed.
	ErrCouponInvalidCode = errors.New("coupon service: invalid coupon code")
	// ErrCouponNotFound indicates no coupon exists for the provided code.
	ErrCouponNotFound = errors.New("coupon service: coupon not found")
	// ErrCouponNotEligible indicates the coupon failed a validation rule.
	ErrCouponNotEligible = errors.New("coupon service: coupon not eligible")
	// ErrCouponExhausted indicates a concurrent redemption consumed the last use.
	ErrCouponExhausted = errors.New("coupon service: usage limit reached")
)
