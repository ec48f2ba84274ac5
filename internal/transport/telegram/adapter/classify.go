package adapter

import (
	"fmt"
	"strings"

	kit "chanrelay/internal/transport"
)

// Bot API descriptions that mean the source post is gone for good.
var sourceMissingMarkers = []string{
	"message to copy not found",
	"message to forward not found",
	"message_id_invalid",
}

// classify wraps Bot API failures in kit errors, keeping the original text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	low := strings.ToLower(err.Error())
	for _, m := range sourceMissingMarkers {
		if strings.Contains(low, m) {
			return fmt.Errorf("%w: %v", kit.ErrSourceMissing, err)
		}
	}
	return err
}
