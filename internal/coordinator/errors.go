package coordinator

import (
	"errors"

	"github.com/aristath/marketsession/internal/bar"
)

func isDuplicateTimestamp(err error) bool {
	return errors.Is(err, bar.ErrDuplicateTimestamp)
}
