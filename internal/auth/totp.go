package auth

import (
	"github.com/pquerna/otp/totp"
)

const totpIssuer = "feedrouter"

// Enrollment carries the freshly generated TOTP secret plus the
// otpauth URL the client renders as a QR code.
type Enrollment struct {
	Secret     string
	OtpauthURL string
}

// BeginTOTPEnrollment generates a new TOTP secret for the user. The
// secret is stored but not enforced until a first code is verified
// through ActivateTOTP.
func BeginTOTPEnrollment(username string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{Secret: key.Secret(), OtpauthURL: key.URL()}, nil
}

// ValidateTOTP checks a 6-digit code against the stored secret.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
