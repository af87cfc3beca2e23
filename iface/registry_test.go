package iface

import (
	"errors"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test001_reduce_drops_refined_interfaces(t *testing.T) {

	cv.Convey("Reduce removes an interface when a refinement of it is also present", t, func() {
		r := Catalog()

		cv.So(r.Refines(IRoof, IMotion), cv.ShouldBeTrue)
		cv.So(r.Refines(IMotion, IRoof), cv.ShouldBeFalse)
		cv.So(r.Refines(IRoof, IRoof), cv.ShouldBeFalse)

		red := r.Reduce([]*Interface{IMotion, IRoof})
		cv.So(len(red), cv.ShouldEqual, 1)
		cv.So(red[0], cv.ShouldEqual, IRoof)

		// transitive: IReady is a grand-parent of IRoof.
		red = r.Reduce([]*Interface{IReady, Base, IRoof, IModule})
		cv.So(len(red), cv.ShouldEqual, 2)
		cv.So(red[0], cv.ShouldEqual, IRoof)
		cv.So(red[1], cv.ShouldEqual, IModule)

		// duplicates collapse
		red = r.Reduce([]*Interface{IModule, IModule})
		cv.So(len(red), cv.ShouldEqual, 1)
	})
}

func Test002_operations_include_inherited(t *testing.T) {

	cv.Convey("Operations of a refinement include those of its ancestors exactly once", t, func() {
		r := Catalog()
		ops := r.Operations(ICamera)
		names := make(map[string]int)
		for _, o := range ops {
			names[o.Op.Name]++
		}
		for _, want := range []string{"abort", "grab_image", "get_exposure_status", "get_exposure_progress", "expose"} {
			cv.So(names[want], cv.ShouldEqual, 1)
		}
		cv.So(ops[len(ops)-1].Op.Name, cv.ShouldEqual, "expose")
		cv.So(ops[len(ops)-1].Iface, cv.ShouldEqual, ICamera)

		cv.So(len(r.Operations(Base)), cv.ShouldEqual, 0)
	})
}

func Test003_bind_applies_defaults(t *testing.T) {

	cv.Convey("Bind lays out positional and named args and fills defaults", t, func() {
		expose := ICamera.Own("expose")

		b, err := expose.Bind([]any{2.5}, nil)
		cv.So(err, cv.ShouldBeNil)
		cv.So(b, cv.ShouldResemble, []any{2.5, ImageTypeObject, 1, true})

		b, err = expose.Bind([]any{2.5}, map[string]any{"count": 3})
		cv.So(err, cv.ShouldBeNil)
		cv.So(b[2], cv.ShouldEqual, 3)

		_, err = expose.Bind(nil, nil)
		cv.So(errors.Is(err, ErrBadArgs), cv.ShouldBeTrue)

		_, err = expose.Bind([]any{1.0}, map[string]any{"exposure_time": 2.0})
		cv.So(errors.Is(err, ErrBadArgs), cv.ShouldBeTrue)

		_, err = expose.Bind([]any{1.0}, map[string]any{"nope": 2.0})
		cv.So(errors.Is(err, ErrBadArgs), cv.ShouldBeTrue)

		_, err = expose.Bind([]any{1.0, ImageTypeDark, 1, true, 5}, nil)
		cv.So(errors.Is(err, ErrBadArgs), cv.ShouldBeTrue)
	})
}

func Test004_register_requires_parents(t *testing.T) {

	cv.Convey("Registering a child before its parent is refused", t, func() {
		r := NewRegistry()
		parent := Define("IParent", nil, Op("ping", Bool))
		child := Define("IChild", Extends(parent))
		err := r.Register(child)
		cv.So(errors.Is(err, ErrUnknownInterface), cv.ShouldBeTrue)

		cv.So(r.Register(parent), cv.ShouldBeNil)
		cv.So(r.Register(child), cv.ShouldBeNil)
		cv.So(r.Register(child), cv.ShouldBeNil) // idempotent
		cv.So(r.Register(Define("IChild", nil)), cv.ShouldNotBeNil)
		cv.So(r.Names(), cv.ShouldResemble, []string{"IParent", "IChild"})

		is, unknown := r.Resolve([]string{"IChild", "IMystery"})
		cv.So(len(is), cv.ShouldEqual, 1)
		cv.So(unknown, cv.ShouldResemble, []string{"IMystery"})
	})
}

func Test005_enum_conversion(t *testing.T) {

	cv.Convey("enums convert between their Go type and wire strings", t, func() {
		v, ok := MotionStatusEnum.FromWire("parked")
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(v, cv.ShouldEqual, MotionStatusParked)

		s, ok := MotionStatusEnum.ToWire(MotionStatusParked)
		cv.So(ok, cv.ShouldBeTrue)
		cv.So(s, cv.ShouldEqual, "parked")

		_, ok = MotionStatusEnum.FromWire("flying")
		cv.So(ok, cv.ShouldBeFalse)

		cv.So(ListOf(ImageTypeT).Equal(ListOf(ImageTypeT)), cv.ShouldBeTrue)
		cv.So(ListOf(ImageTypeT).Equal(ListOf(ImageFormatT)), cv.ShouldBeFalse)
	})
}
