package reward

import "errors"

var (
	ErrInvalidCode    = errors.New("referral code not found")
	ErrSelfReferral   = errors.New("cannot apply your own referral code")
	ErrAlreadyApplied = errors.New("a code from this referrer was already applied")
	ErrUserNotFound   = errors.New("user not found")

	// ErrApplicationExists is returned by the repository when the
	// (referred, referrer) pair is already recorded.
	ErrApplicationExists = errors.New("referral application exists")

	ErrQuizNotFound  = errors.New("quiz not found")
	ErrQuizInactive  = errors.New("quiz is not active")
	ErrQuizNotPassed = errors.New("score below pass mark")
)
