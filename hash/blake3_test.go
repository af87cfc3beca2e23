package hash

import (
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test001_caps_ver_is_order_independent(t *testing.T) {

	cv.Convey("CapsVer ignores feature order and duplicates, and notices differences", t, func() {
		a := CapsVer([]string{"pyobs:interface:ICamera", "pyobs:interface:IModule", "pyobs:event:NewImageEvent"})
		b := CapsVer([]string{"pyobs:event:NewImageEvent", "pyobs:interface:IModule", "pyobs:interface:ICamera", "pyobs:interface:IModule"})
		cv.So(a, cv.ShouldEqual, b)
		cv.So(a[:11], cv.ShouldEqual, "blake3.33B-")

		c := CapsVer([]string{"pyobs:interface:ICamera"})
		cv.So(c, cv.ShouldNotEqual, a)
	})
}

func Test002_incremental_matches_one_shot(t *testing.T) {

	cv.Convey("the incremental hasher agrees with Blake3OfBytesString", t, func() {
		h := NewBlake3()
		h.Write([]byte("hello "))
		h.Write([]byte("world"))
		cv.So(h.SumString(), cv.ShouldEqual, Blake3OfBytesString([]byte("hello world")))
		h.Reset()
		cv.So(h.SumString(), cv.ShouldEqual, Blake3OfBytesString(nil))
	})
}
