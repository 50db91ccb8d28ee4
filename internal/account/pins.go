package account

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePins parses a PIN table from its environment representation:
// comma-separated pin=amount pairs, amounts in cents. Example:
// "SUMMER24=500,WELCOME=1000". An empty string yields an empty table,
// which disables redemption.
func ParsePins(s string) (map[string]int64, error) {
	pins := make(map[string]int64)
	if strings.TrimSpace(s) == "" {
		return pins, nil
	}

	for _, pair := range strings.Split(s, ",") {
		pin, amountStr, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || pin == "" {
			return nil, fmt.Errorf("account: malformed pin entry %q", pair)
		}
		amount, err := strconv.ParseInt(amountStr, 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("account: invalid amount in pin entry %q", pair)
		}
		pins[pin] = amount
	}
	return pins, nil
}
