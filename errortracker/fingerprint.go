package errortracker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
)

// frameRe matches a traceback frame location, e.g.
//
//	File "/app/handlers.py", line 42, in create_user
var frameRe = regexp.MustCompile(`File "([^"]+)", line (\d+)`)

// Fingerprint derives the 32-hex group identity for an occurrence. The key
// is built from the deepest application frame of the traceback; when no
// frame is recoverable it falls back to a hash of the message so that
// frameless errors still group by text.
func Fingerprint(project, exceptionType, message, traceback string) string {
	var key string
	if matches := frameRe.FindAllStringSubmatch(traceback, -1); len(matches) > 0 {
		deepest := matches[len(matches)-1]
		key = fmt.Sprintf("%s:%s:%s:%s", project, exceptionType, deepest[1], deepest[2])
	} else {
		key = fmt.Sprintf("%s:%s:%s", project, exceptionType, md5hex(message))
	}
	return md5hex(key)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
