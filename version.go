package obsrpc

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
)

// Tag overrides the reported version when set at link time:
//
//	go build -ldflags "-X github.com/glycerine/obsrpc.Tag=v0.3.1"
var Tag string

// BuildInfo describes how the running binary was built.
type BuildInfo struct {
	Version  string // Tag, else the main module version, else "devel"
	Revision string // vcs commit, when the toolchain stamped one
	Time     string
	Modified bool
	Go       string
}

func ReadBuildInfo() BuildInfo {
	b := BuildInfo{Version: Tag, Go: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if b.Version == "" && bi.Main.Version != "(devel)" {
			b.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				b.Revision = s.Value
			case "vcs.time":
				b.Time = s.Value
			case "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
	}
	if b.Version == "" {
		b.Version = "devel"
	}
	return b
}

func (b BuildInfo) String() string {
	s := b.Version
	if b.Revision != "" {
		s += " " + b.Revision
		if b.Modified {
			s += "+dirty"
		}
	}
	if b.Time != "" {
		s += " " + b.Time
	}
	return s + " " + b.Go
}

// ModuleVersion is what IModule.get_version reports when the
// module does not set its own.
func ModuleVersion() string {
	return ReadBuildInfo().Version
}

// Exit1IfVersionReq prints the build and exits when the command
// line asks for -version.
func Exit1IfVersionReq() {
	for _, a := range os.Args[1:] {
		if a == "-version" || a == "--version" {
			fmt.Fprintf(os.Stderr, "%v %v\n", os.Args[0], ReadBuildInfo())
			os.Exit(1)
		}
	}
}
