// Package command implements the timed command language: address-data tokens,
// timestamped command lines and the per-song timeline they form.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidToken is returned for tokens that are not AAA-DDD or AAA-DDDDDD.
var ErrInvalidToken = errors.New("invalid command token")

// MaxDecimalData is the largest data value expressible in the decimal form.
// Six-character data is always read as a hex colour, so decimal data stays below it.
const MaxDecimalData = 99999

// Command is a single address-data token, the atomic unit of device control.
type Command struct {
	Address    uint32
	Data       uint32
	IsHexColor bool
}

// ParseCommand parses "AAA-DDD" (decimal data) or "AAA-DDDDDD" (hex colour data).
func ParseCommand(token string) (Command, error) {
	addrText, dataText, ok := strings.Cut(strings.TrimSpace(token), "-")
	if !ok || addrText == "" || dataText == "" {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if !allDigits(addrText) {
		return Command{}, fmt.Errorf("%w: address %q is not decimal", ErrInvalidToken, addrText)
	}
	addr, err := strconv.ParseUint(addrText, 10, 32)
	if err != nil {
		return Command{}, fmt.Errorf("%w: address %q: %v", ErrInvalidToken, addrText, err)
	}

	if len(dataText) == 6 {
		data, err := strconv.ParseUint(dataText, 16, 32)
		if err != nil {
			return Command{}, fmt.Errorf("%w: colour %q is not hex", ErrInvalidToken, dataText)
		}
		return Command{Address: uint32(addr), Data: uint32(data), IsHexColor: true}, nil
	}

	if !allDigits(dataText) {
		return Command{}, fmt.Errorf("%w: data %q is not decimal", ErrInvalidToken, dataText)
	}
	data, err := strconv.ParseUint(dataText, 10, 32)
	if err != nil || data > MaxDecimalData {
		return Command{}, fmt.Errorf("%w: data %q out of range", ErrInvalidToken, dataText)
	}
	return Command{Address: uint32(addr), Data: uint32(data)}, nil
}

// MustParse is ParseCommand for literals in code and tests.
func MustParse(token string) Command {
	c, err := ParseCommand(token)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the canonical token form.
func (c Command) String() string {
	if c.IsHexColor {
		return fmt.Sprintf("%03d-%06X", c.Address, c.Data&0xFFFFFF)
	}
	return fmt.Sprintf("%03d-%03d", c.Address, c.Data)
}

// RGB splits hex colour data into its components.
func (c Command) RGB() (r, g, b uint8) {
	return uint8(c.Data >> 16), uint8(c.Data >> 8), uint8(c.Data)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
