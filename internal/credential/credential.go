// Package credential issues and decodes the QR credential bound to an
// identity at enrollment.
package credential

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrEncoding reports input the token format cannot represent.
var ErrEncoding = errors.New("credential encoding failed")

// ErrBadToken reports a scanned token that is not one of ours.
var ErrBadToken = errors.New("malformed credential token")

const (
	tokenPrefix = "gatepass"
	// maxID bounds identifiers to twelve digits so tokens stay scannable
	// at the fixed QR size.
	maxID = int64(999_999_999_999)
)

// Issuer renders credential tokens as QR PNGs.
type Issuer struct {
	size int
}

// NewIssuer creates an issuer rendering at the given pixel size
// (<=0 means 256).
func NewIssuer(size int) *Issuer {
	if size <= 0 {
		size = 256
	}
	return &Issuer{size: size}
}

// Issue builds the token for the identity and renders it. Re-issuing for
// the same identifier yields an equivalent token.
func (i *Issuer) Issue(id int64, name, email string) (string, []byte, error) {
	if id <= 0 || id > maxID {
		return "", nil, fmt.Errorf("%w: identifier %d out of range", ErrEncoding, id)
	}
	token := Token(id, name, email)
	png, err := qrcode.Encode(token, qrcode.Medium, i.size)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return token, png, nil
}

// Token is the opaque-to-scanners payload embedded in the QR image.
func Token(id int64, name, email string) string {
	return fmt.Sprintf("%s|%d|%s|%s", tokenPrefix, id, name, email)
}

// Decode extracts the identity identifier from a scanned token.
func Decode(token string) (int64, error) {
	parts := strings.SplitN(token, "|", 3)
	if len(parts) < 2 || parts[0] != tokenPrefix {
		return 0, ErrBadToken
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrBadToken
	}
	return id, nil
}
