package xmpp

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"time"
)

var verbose bool = false

const rfc3339MsecTz0 = "2006-01-02T15:04:05.000Z07:00"

func vv(format string, a ...interface{}) {
	if verbose {
		tsPrintf(format, a...)
	}
}

func tsPrintf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "\n%s %s ", fileLine(3), time.Now().UTC().Format(rfc3339MsecTz0))
	fmt.Fprintf(os.Stderr, format+"\n", a...)
}

func fileLine(depth int) string {
	_, fileName, fileLine, ok := runtime.Caller(depth)
	var s string
	if ok {
		s = fmt.Sprintf("%s:%d", path.Base(fileName), fileLine)
	} else {
		s = ""
	}
	return s
}

func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}
