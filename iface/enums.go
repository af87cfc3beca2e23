package iface

// ModuleState is the life-cycle state of a module.
type ModuleState string

const (
	ModuleStateClosed ModuleState = "closed"
	ModuleStateReady  ModuleState = "ready"
	ModuleStateError  ModuleState = "error"
	ModuleStateLocal  ModuleState = "local"
)

type ExposureStatus string

const (
	ExposureStatusIdle     ExposureStatus = "idle"
	ExposureStatusExposing ExposureStatus = "exposing"
	ExposureStatusReadout  ExposureStatus = "readout"
	ExposureStatusError    ExposureStatus = "error"
)

type ImageType string

const (
	ImageTypeBias        ImageType = "bias"
	ImageTypeDark        ImageType = "dark"
	ImageTypeObject      ImageType = "object"
	ImageTypeSkyFlat     ImageType = "skyflat"
	ImageTypeFocus       ImageType = "focus"
	ImageTypeAcquisition ImageType = "acquisition"
	ImageTypeGuiding     ImageType = "guiding"
)

type ImageFormat string

const (
	ImageFormatInt8    ImageFormat = "int8"
	ImageFormatInt16   ImageFormat = "int16"
	ImageFormatFloat32 ImageFormat = "float32"
	ImageFormatFloat64 ImageFormat = "float64"
	ImageFormatRGB24   ImageFormat = "rgb24"
)

// MotionStatus is reported by anything that moves:
// telescopes, roofs, domes, focusers, filter wheels.
type MotionStatus string

const (
	MotionStatusAborting     MotionStatus = "aborting"
	MotionStatusError        MotionStatus = "error"
	MotionStatusIdle         MotionStatus = "idle"
	MotionStatusInitializing MotionStatus = "initializing"
	MotionStatusParking      MotionStatus = "parking"
	MotionStatusParked       MotionStatus = "parked"
	MotionStatusPositioned   MotionStatus = "positioned"
	MotionStatusSlewing      MotionStatus = "slewing"
	MotionStatusTracking     MotionStatus = "tracking"
	MotionStatusUnknown      MotionStatus = "unknown"
)

type WeatherSensors string

const (
	WeatherSensorsTime      WeatherSensors = "time"
	WeatherSensorsTemp      WeatherSensors = "temp"
	WeatherSensorsHumid     WeatherSensors = "humid"
	WeatherSensorsPress     WeatherSensors = "press"
	WeatherSensorsWindDir   WeatherSensors = "winddir"
	WeatherSensorsWindSpeed WeatherSensors = "windspeed"
	WeatherSensorsRain      WeatherSensors = "rain"
	WeatherSensorsSkyTemp   WeatherSensors = "skytemp"
	WeatherSensorsDewPoint  WeatherSensors = "dewpoint"
	WeatherSensorsParticles WeatherSensors = "particles"
	WeatherSensorsSkyMag    WeatherSensors = "skymag"
)

var (
	ModuleStateEnum = NewEnum("ModuleState",
		ModuleStateClosed, ModuleStateReady, ModuleStateError, ModuleStateLocal)

	ExposureStatusEnum = NewEnum("ExposureStatus",
		ExposureStatusIdle, ExposureStatusExposing, ExposureStatusReadout, ExposureStatusError)

	ImageTypeEnum = NewEnum("ImageType",
		ImageTypeBias, ImageTypeDark, ImageTypeObject, ImageTypeSkyFlat,
		ImageTypeFocus, ImageTypeAcquisition, ImageTypeGuiding)

	ImageFormatEnum = NewEnum("ImageFormat",
		ImageFormatInt8, ImageFormatInt16, ImageFormatFloat32, ImageFormatFloat64, ImageFormatRGB24)

	MotionStatusEnum = NewEnum("MotionStatus",
		MotionStatusAborting, MotionStatusError, MotionStatusIdle, MotionStatusInitializing,
		MotionStatusParking, MotionStatusParked, MotionStatusPositioned, MotionStatusSlewing,
		MotionStatusTracking, MotionStatusUnknown)

	WeatherSensorsEnum = NewEnum("WeatherSensors",
		WeatherSensorsTime, WeatherSensorsTemp, WeatherSensorsHumid, WeatherSensorsPress,
		WeatherSensorsWindDir, WeatherSensorsWindSpeed, WeatherSensorsRain, WeatherSensorsSkyTemp,
		WeatherSensorsDewPoint, WeatherSensorsParticles, WeatherSensorsSkyMag)
)

// shorthand types for the catalog
var (
	ModuleStateT    = EnumOf(ModuleStateEnum)
	ExposureStatusT = EnumOf(ExposureStatusEnum)
	ImageTypeT      = EnumOf(ImageTypeEnum)
	ImageFormatT    = EnumOf(ImageFormatEnum)
	MotionStatusT   = EnumOf(MotionStatusEnum)
	WeatherSensorsT = EnumOf(WeatherSensorsEnum)
)
