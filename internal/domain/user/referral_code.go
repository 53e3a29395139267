package user

import (
	"crypto/rand"
	"math/big"
)

const (
	referralAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength = 8
)

// NewReferralCode returns a random code matching the referral_code
// validation rule. Ambiguous characters (0/O, 1/I) are left out.
func NewReferralCode() (string, error) {
	b := make([]byte, referralCodeLength)
	max := big.NewInt(int64(len(referralAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = referralAlphabet[n.Int64()]
	}
	return string(b), nil
}
