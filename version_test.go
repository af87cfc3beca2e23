package obsrpc

import (
	"context"
	"runtime"
	"strings"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
	"github.com/glycerine/obsrpc/iface"
)

func Test110_build_version(t *testing.T) {

	cv.Convey("a link time Tag wins and is what modules report", t, func() {
		prior := Tag
		defer func() { Tag = prior }()

		Tag = ""
		cv.So(ReadBuildInfo().Version, cv.ShouldNotEqual, "")
		cv.So(ReadBuildInfo().Version, cv.ShouldNotEqual, "(devel)")

		Tag = "v0.3.1"
		b := ReadBuildInfo()
		cv.So(b.Version, cv.ShouldEqual, "v0.3.1")
		cv.So(b.Go, cv.ShouldEqual, runtime.Version())
		cv.So(strings.HasPrefix(b.String(), "v0.3.1"), cv.ShouldBeTrue)
		cv.So(strings.HasSuffix(b.String(), runtime.Version()), cv.ShouldBeTrue)

		m, err := NewModule("dome", iface.Default, iface.IDome)
		cv.So(err, cv.ShouldBeNil)
		ctx := context.Background()
		v, err := m.Execute(ctx, "get_version").Wait(ctx)
		cv.So(err, cv.ShouldBeNil)
		cv.So(v, cv.ShouldEqual, "v0.3.1")
	})
}
