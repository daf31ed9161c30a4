// Package capability wraps the external data sources the handlers call:
// weather and geocoding, Seoul subway arrivals, the station directory,
// the Yonhap news feeds, and the bot guide.
//
// Adapters return typed results, or one of the sentinel strings below for
// expected "no data" conditions. Transport faults are returned as errors
// wrapping ErrUnavailable; the tool bindings in tools.go turn those into
// the Unavailable sentinel so one flaky source does not abort a turn.
package capability

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a transport-level failure of an external source.
var ErrUnavailable = errors.New("capability unavailable")

// Unavailable is the text handed to the model when source name could
// not be reached.
func Unavailable(name string) string {
	return fmt.Sprintf("%s 정보를 지금은 가져올 수 없습니다.", name)
}

func unavailable(source string, err error) error {
	return fmt.Errorf("%s: %w: %w", source, ErrUnavailable, err)
}
