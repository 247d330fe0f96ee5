package blob

import (
	"strconv"
	"strings"

	"github.com/hlsvault/hlsvault/internal/models"
)

// Handle identifies an uploaded blob. The platform hands out two references
// per upload: a file identifier used for download and a message identifier
// used for deletion. Both travel together in one opaque string stored in the
// segment row.
type Handle struct {
	FileID    string
	MessageID int64
}

// String encodes the handle. File identifiers never contain ':', so the
// message id rides after a colon.
func (h Handle) String() string {
	if h.MessageID == 0 {
		return h.FileID
	}
	return h.FileID + ":" + strconv.FormatInt(h.MessageID, 10)
}

// ParseHandle decodes a stored handle string. Handles written before message
// ids were recorded have no colon and decode with MessageID zero.
func ParseHandle(s string) (Handle, error) {
	if s == "" {
		return Handle{}, models.E(models.KindIntegrityViolation, "empty blob handle")
	}
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return Handle{FileID: s}, nil
	}
	msgID, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return Handle{}, models.Wrap(models.KindIntegrityViolation, err, "malformed blob handle %q", s)
	}
	return Handle{FileID: s[:idx], MessageID: msgID}, nil
}
