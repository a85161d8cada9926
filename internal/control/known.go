package control

// 代表的なコントロール。ドライバーはこれ以外の名前も自由に公開できる
var (
	VendorName    = New(GroupDevice, "vendor_name")
	ModelName     = New(GroupDevice, "model_name")
	SerialNumber  = New(GroupDevice, "serial_number")
	Temperature   = New(GroupDevice, "temperature")
	CoolerTemp    = New(GroupDevice, "cooler_temp")
	CoolerPower   = New(GroupDevice, "cooler_power")
	FanToggle     = New(GroupDevice, "fan_toggle")
	HighSpeedMode = New(GroupDevice, "high_speed_mode")

	PixelWidth  = New(GroupSensor, "pixel_width")
	PixelHeight = New(GroupSensor, "pixel_height")
	WidthMax    = New(GroupSensor, "width_max")
	HeightMax   = New(GroupSensor, "height_max")
	ShutterMode = New(GroupSensor, "shutter_mode")
	BinningHorz = New(GroupSensor, "binning_horz")
	BinningVert = New(GroupSensor, "binning_vert")
	ReverseX    = New(GroupSensor, "reverse_x")
	ReverseY    = New(GroupSensor, "reverse_y")
	PixelFormat = New(GroupSensor, "pixel_format")
	TestPattern = New(GroupSensor, "test_pattern")
	OffsetX     = New(GroupSensor, "offset_x")
	OffsetY     = New(GroupSensor, "offset_y")
	Width       = New(GroupSensor, "width")
	Height      = New(GroupSensor, "height")

	TriggerSelector   = New(GroupTrigger, "selector")
	TriggerMode       = New(GroupTrigger, "mode")
	TriggerSource     = New(GroupTrigger, "source")
	TriggerDelay      = New(GroupTrigger, "delay")
	TriggerDivider    = New(GroupTrigger, "divider")
	TriggerMultiplier = New(GroupTrigger, "multiplier")

	ExposureMode     = New(GroupExposure, "mode")
	ExposureTime     = New(GroupExposure, "exposure_time") // マイクロ秒
	ExposureAuto     = New(GroupExposure, "auto")
	AutoTargetBright = New(GroupExposure, "auto_target_brightness")
	AutoMaxGain      = New(GroupExposure, "auto_max_gain")

	FrameTimeMode = New(GroupFrameTime, "mode")
	FrameTime     = New(GroupFrameTime, "frame_time") // マイクロ秒
	FrameTimeAuto = New(GroupFrameTime, "auto")

	Gain             = New(GroupAnalog, "gain")
	GainAuto         = New(GroupAnalog, "gain_auto")
	BlackLevel       = New(GroupAnalog, "black_level")
	BlackLevelAuto   = New(GroupAnalog, "black_level_auto")
	WhiteClip        = New(GroupAnalog, "white_clip")
	BalanceRatio     = New(GroupAnalog, "balance_ratio")
	BalanceWhiteAuto = New(GroupAnalog, "balance_white_auto")
	Gamma            = New(GroupAnalog, "gamma")

	LineSelector       = New(GroupDigitalIO, "line_selector")
	LineMode           = New(GroupDigitalIO, "line_mode")
	LineInvert         = New(GroupDigitalIO, "line_invert")
	LineStatus         = New(GroupDigitalIO, "line_status")
	LineSource         = New(GroupDigitalIO, "line_source")
	UserOutputSelector = New(GroupDigitalIO, "user_output_selector")
	UserOutputValue    = New(GroupDigitalIO, "user_output_value")
)
