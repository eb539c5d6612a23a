package license

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"obsidian/internal/config"
	apierrors "obsidian/internal/errors"
)

const serialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var alphabetSize = big.NewInt(int64(len(serialAlphabet)))

// GenerateSerial returns one random serial
func GenerateSerial() (string, error) {
	var sb strings.Builder
	sb.Grow(config.SerialLength)
	for i := 0; i < config.SerialLength; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		sb.WriteByte(serialAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// GenerateSerials returns amount distinct serials after validating the amount
func GenerateSerials(amount int) ([]string, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, amount)
	serials := make([]string, 0, amount)
	for len(serials) < amount {
		s, err := GenerateSerial()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		serials = append(serials, s)
	}
	return serials, nil
}

// ValidateAmount checks a batch size is within 1..MaxSerialAmount
func ValidateAmount(amount int) error {
	switch {
	case amount <= 0:
		return apierrors.ErrAmountTooSmall
	case amount > config.MaxSerialAmount:
		return apierrors.ErrAmountTooLarge
	}
	return nil
}

// NormalizeSerial strips separators and whitespace and upper-cases the input
func NormalizeSerial(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, s)
}

// ValidateSerial checks a normalized serial's length and alphabet
func ValidateSerial(s string) error {
	if len(s) != config.SerialLength {
		return apierrors.ErrInvalidSerial
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return apierrors.ErrInvalidSerial
		}
	}
	return nil
}

// FormatSerial renders a serial as XXXX-XXXX-XXXX-XXXX; other input is returned as-is
func FormatSerial(s string) string {
	clean := NormalizeSerial(s)
	if len(clean) != config.SerialLength {
		return s
	}
	return fmt.Sprintf("%s-%s-%s-%s", clean[:4], clean[4:8], clean[8:12], clean[12:])
}
