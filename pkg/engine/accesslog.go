// pkg/engine/accesslog.go

package engine

import (
	"fmt"
	"time"
)

// operations slower than this are worth a look
const slowOperation = time.Second

func (e *Engine) logit(start time.Time, format string, args ...interface{}) {
	used := time.Since(start)
	cmd := fmt.Sprintf(format, args...)
	cmd += fmt.Sprintf(" <%.6f>", used.Seconds())
	if used >= slowOperation {
		logger.Infof("slow operation: %s", cmd)
	} else {
		logger.Debugf("%s", cmd)
	}
}
