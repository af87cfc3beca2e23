package iface

import (
	"time"
)

// The interface catalog. Every interface refines the
// operation-less marker Base, directly or through its parents.

var Base = Define("Interface", nil)

var root = Extends(Base)

var (
	IAbortable = Define("IAbortable", root,
		Op("abort", Bool))

	IRunning = Define("IRunning", root,
		Op("is_running", Bool))

	IReady = Define("IReady", root,
		Op("is_ready", Bool))

	IModule = Define("IModule", root,
		Op("get_label", String),
		Op("get_version", String),
		Op("get_state", ModuleStateT),
		Op("get_error_string", String),
		Op("reset_error", Bool),
	)

	IConfig = Define("IConfig", root,
		Op("get_config_caps", MapOf(TupleOf(Bool, Bool, Bool))),
		Op("get_config_value", Any, P("name", String)),
		Op("get_config_value_options", ListOf(String), P("name", String)),
		Op("set_config_value", Void, P("name", String), P("value", Any)),
	)

	IStartStop = Define("IStartStop", Extends(IRunning),
		Op("start", Void),
		Op("stop", Void),
	)

	IRunnable = Define("IRunnable", Extends(IAbortable),
		Op("run", Void),
	)

	IAutonomous = Define("IAutonomous", Extends(IStartStop))

	ILatLon = Define("ILatLon", root,
		Op("get_latlon", TupleOf(Float, Float)))

	IAutoFocus = Define("IAutoFocus", Extends(IAbortable),
		Op("auto_focus", TupleOf(Float, Float),
			P("count", Int), P("step", Float), P("exposure_time", Float),
		).WithTimeout(ExprTimeout("(* (+ exposure_time 10) (+ (* 2 count) 1))")),
		Op("auto_focus_status", MapOf(Any)),
	)

	IAcquisition = Define("IAcquisition", Extends(IRunning, IAbortable),
		Op("acquire_target", MapOf(Any)).WithTimeout(FixedTimeout(120*time.Second)),
	)

	IAutoGuiding = Define("IAutoGuiding", Extends(IStartStop),
		Op("set_exposure_time", Void, P("exposure_time", Float)),
	)

	IBinning = Define("IBinning", root,
		Op("set_binning", Void, P("x", Int), P("y", Int)),
		Op("get_binning", TupleOf(Int, Int)),
		Op("list_binnings", ListOf(TupleOf(Int, Int))),
	)

	IWindow = Define("IWindow", root,
		Op("get_full_frame", TupleOf(Int, Int, Int, Int)),
		Op("set_window", Void, P("left", Int), P("top", Int), P("width", Int), P("height", Int)),
		Op("get_window", TupleOf(Int, Int, Int, Int)),
	)

	IExposureTime = Define("IExposureTime", root,
		Op("set_exposure_time", Void, P("exposure_time", Float)),
		Op("get_exposure_time", Float),
		Op("get_exposure_time_left", Float),
	)

	IImageType = Define("IImageType", root,
		Op("set_image_type", Void, P("image_type", ImageTypeT)),
		Op("get_image_type", ImageTypeT),
	)

	IImageFormat = Define("IImageFormat", root,
		Op("set_image_format", Void, P("format", ImageFormatT)),
		Op("get_image_format", ImageFormatT),
		Op("list_image_formats", ListOf(String)),
	)

	IGain = Define("IGain", root,
		Op("set_gain", Void, P("gain", Float)),
		Op("get_gain", Float),
		Op("set_offset", Void, P("offset", Float)),
		Op("get_offset", Float),
	)

	ITemperatures = Define("ITemperatures", root,
		Op("get_temperatures", MapOf(Float)))

	ICooling = Define("ICooling", Extends(ITemperatures),
		Op("set_cooling", Void, P("enabled", Bool), P("setpoint", Float)),
		Op("get_cooling", TupleOf(Bool, Float, Float)),
	)

	IData = Define("IData", root,
		Op("grab_data", String, PD("broadcast", Bool, true)))

	IImageGrabber = Define("IImageGrabber", root,
		Op("grab_image", String, PD("broadcast", Bool, true)))

	IExposure = Define("IExposure", root,
		Op("get_exposure_status", ExposureStatusT),
		Op("get_exposure_progress", Float),
	)

	ICamera = Define("ICamera", Extends(IAbortable, IImageGrabber, IExposure),
		Op("expose", String,
			P("exposure_time", Float),
			PD("image_type", ImageTypeT, ImageTypeObject),
			PD("count", Int, 1),
			PD("broadcast", Bool, true),
		).WithTimeout(ExprTimeout("(* (+ exposure_time 10) count)")),
	)

	ISpectrograph = Define("ISpectrograph", Extends(IAbortable, IData),
		Op("grab_spectrum", String, PD("broadcast", Bool, true)).
			WithTimeout(FixedTimeout(300*time.Second)),
		Op("get_exposure_progress", Float),
	)

	IVideo = Define("IVideo", Extends(IImageGrabber),
		Op("get_video", String))

	ICalibrate = Define("ICalibrate", root,
		Op("calibrate", Void).WithTimeout(FixedTimeout(1800*time.Second)))

	IFitsHeaderBefore = Define("IFitsHeaderBefore", root,
		Op("get_fits_header_before", MapOf(TupleOf(Any, String)),
			PD("namespaces", OptionalOf(ListOf(String)), nil)))

	IFitsHeaderAfter = Define("IFitsHeaderAfter", root,
		Op("get_fits_header_after", MapOf(TupleOf(Any, String)),
			PD("namespaces", OptionalOf(ListOf(String)), nil)))

	IFlatField = Define("IFlatField", Extends(IAbortable),
		Op("flat_field", TupleOf(Int, Float), P("count", Int)).
			WithTimeout(FixedTimeout(3600*time.Second)),
	)

	IMotion = Define("IMotion", Extends(IReady),
		Op("init", Void).WithTimeout(FixedTimeout(300*time.Second)),
		Op("park", Void).WithTimeout(FixedTimeout(300*time.Second)),
		Op("get_motion_status", MotionStatusT, PD("device", OptionalOf(String), nil)),
		Op("stop_motion", Void, PD("device", OptionalOf(String), nil)),
	)

	IFilters = Define("IFilters", Extends(IMotion),
		Op("list_filters", ListOf(String)),
		Op("set_filter", Void, P("filter_name", String)).WithTimeout(FixedTimeout(60*time.Second)),
		Op("get_filter", String),
	)

	IFocuser = Define("IFocuser", Extends(IMotion),
		Op("set_focus", Void, P("focus", Float)).WithTimeout(FixedTimeout(300*time.Second)),
		Op("set_focus_offset", Void, P("offset", Float)).WithTimeout(FixedTimeout(300*time.Second)),
		Op("get_focus", Float),
		Op("get_focus_offset", Float),
	)

	IFocusModel = Define("IFocusModel", root,
		Op("get_optimal_focus", Float),
		Op("set_optimal_focus", Void),
	)

	IMode = Define("IMode", Extends(IMotion),
		Op("list_mode_groups", ListOf(String)),
		Op("list_modes", ListOf(String), PD("group", Int, 0)),
		Op("set_mode", Void, P("mode", String), PD("group", Int, 0)).WithTimeout(FixedTimeout(60*time.Second)),
		Op("get_mode", String, PD("group", Int, 0)),
	)

	IPointingAltAz = Define("IPointingAltAz", root,
		Op("move_altaz", Void, P("alt", Float), P("az", Float)).WithTimeout(FixedTimeout(1200*time.Second)),
		Op("get_altaz", TupleOf(Float, Float)),
	)

	IPointingRaDec = Define("IPointingRaDec", root,
		Op("move_radec", Void, P("ra", Float), P("dec", Float)).WithTimeout(FixedTimeout(1200*time.Second)),
		Op("get_radec", TupleOf(Float, Float)),
	)

	IPointingHGS = Define("IPointingHGS", root,
		Op("move_hgs_lon_lat", Void, P("lon", Float), P("lat", Float)).WithTimeout(FixedTimeout(1200*time.Second)),
		Op("get_hgs_lon_lat", TupleOf(Float, Float)),
	)

	IPointingHelioprojective = Define("IPointingHelioprojective", root,
		Op("move_helioprojective", Void, P("theta_x", Float), P("theta_y", Float)).WithTimeout(FixedTimeout(1200*time.Second)),
		Op("get_helioprojective", TupleOf(Float, Float)),
	)

	IPointingSeries = Define("IPointingSeries", root,
		Op("start_pointing_series", String).WithTimeout(FixedTimeout(7200*time.Second)))

	IOffsetsAltAz = Define("IOffsetsAltAz", root,
		Op("set_offsets_altaz", Void, P("dalt", Float), P("daz", Float)).WithTimeout(FixedTimeout(60*time.Second)),
		Op("get_offsets_altaz", TupleOf(Float, Float)),
	)

	IOffsetsRaDec = Define("IOffsetsRaDec", root,
		Op("set_offsets_radec", Void, P("dra", Float), P("ddec", Float)).WithTimeout(FixedTimeout(60*time.Second)),
		Op("get_offsets_radec", TupleOf(Float, Float)),
	)

	ISyncTarget = Define("ISyncTarget", root,
		Op("sync_target", Void))

	IRotation = Define("IRotation", Extends(IMotion),
		Op("set_rotation", Void, P("angle", Float)).WithTimeout(FixedTimeout(300*time.Second)),
		Op("get_rotation", Float),
		Op("track", Void, P("ra", Float), P("dec", Float)),
	)

	ITelescope = Define("ITelescope", Extends(IMotion))

	IDome = Define("IDome", Extends(IMotion, IPointingAltAz))

	IRoof = Define("IRoof", Extends(IMotion))

	IScriptRunner = Define("IScriptRunner", root,
		Op("run_script", Void, P("script", String)).WithTimeout(FixedTimeout(3600*time.Second)))

	IWeather = Define("IWeather", Extends(IStartStop),
		Op("get_weather_status", MapOf(Any)),
		Op("is_weather_good", Bool),
		Op("get_current_weather", MapOf(Any)),
		Op("get_sensor_value", TupleOf(String, Float), P("station", String), P("sensor", WeatherSensorsT)),
	)
)

// All lists the catalog in dependency order.
var All = []*Interface{
	Base,
	IAbortable, IRunning, IReady, IModule, IConfig,
	IStartStop, IRunnable, IAutonomous, ILatLon,
	IAutoFocus, IAcquisition, IAutoGuiding,
	IBinning, IWindow, IExposureTime, IImageType, IImageFormat, IGain,
	ITemperatures, ICooling,
	IData, IImageGrabber, IExposure, ICamera, ISpectrograph, IVideo,
	ICalibrate, IFitsHeaderBefore, IFitsHeaderAfter, IFlatField,
	IMotion, IFilters, IFocuser, IFocusModel, IMode,
	IPointingAltAz, IPointingRaDec, IPointingHGS, IPointingHelioprojective, IPointingSeries,
	IOffsetsAltAz, IOffsetsRaDec, ISyncTarget, IRotation,
	ITelescope, IDome, IRoof, IScriptRunner, IWeather,
}

// Catalog returns a fresh registry holding All.
func Catalog() *Registry {
	r := NewRegistry()
	r.MustRegister(All...)
	return r
}

// Default is the process-wide catalog registry.
var Default = Catalog()
