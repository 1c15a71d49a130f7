package voicesession

import (
	"os"

	"github.com/charmbracelet/log"
)

func defaultLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "voicesession",
		ReportTimestamp: true,
	})
}
