package camera

import "fmt"

// Access describes which operations a property permits.
type Access uint8

const (
	AccessRead  Access = 1 << iota
	AccessWrite
	AccessReadWrite = AccessRead | AccessWrite
)

func (a Access) Readable() bool { return a&AccessRead != 0 }
func (a Access) Writable() bool { return a&AccessWrite != 0 }

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "r"
	case AccessWrite:
		return "w"
	case AccessReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

func (a Access) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// RegisterMode is the access mode a device declares for a hardware register.
type RegisterMode uint8

const (
	RegisterR RegisterMode = iota
	RegisterW
	RegisterRW
	// RegisterW1C and RegisterRW1C clear bits written as one.
	RegisterW1C
	RegisterRW1C
)

// AccessForRegister maps a declared register mode to property access.
func AccessForRegister(m RegisterMode) Access {
	switch m {
	case RegisterR:
		return AccessRead
	case RegisterW, RegisterW1C:
		return AccessWrite
	default:
		return AccessReadWrite
	}
}

// Descriptor is the schema of a single property.
type Descriptor struct {
	Name    string `json:"name"`
	Blurb   string `json:"blurb,omitempty"`
	Kind    Kind   `json:"kind"`
	Access  Access `json:"access"`
	Default Value  `json:"default"`
}

// Validate checks that d is usable in a registry.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidProperty)
	}
	if d.Kind == KindInvalid {
		return fmt.Errorf("%w: %s has no kind", ErrInvalidProperty, d.Name)
	}
	if d.Access&AccessReadWrite == 0 {
		return fmt.Errorf("%w: %s is neither readable nor writable", ErrInvalidProperty, d.Name)
	}
	if d.Default.IsValid() && d.Default.Kind() != d.Kind {
		return fmt.Errorf("%w: %s default is %v, want %v", ErrInvalidProperty, d.Name, d.Default.Kind(), d.Kind)
	}
	return nil
}

// Names of the properties every camera exposes.
const (
	PropName                     = "name"
	PropSensorWidth              = "sensor-width"
	PropSensorHeight             = "sensor-height"
	PropSensorBitdepth           = "sensor-bitdepth"
	PropSensorHorizontalBinning  = "sensor-horizontal-binning"
	PropSensorHorizontalBinnings = "sensor-horizontal-binnings"
	PropSensorVerticalBinning    = "sensor-vertical-binning"
	PropSensorVerticalBinnings   = "sensor-vertical-binnings"
	PropExposureTime             = "exposure-time"
	PropROIX                     = "roi-x"
	PropROIY                     = "roi-y"
	PropROIWidth                 = "roi-width"
	PropROIHeight                = "roi-height"
	PropROIWidthMultiplier       = "roi-width-multiplier"
	PropROIHeightMultiplier      = "roi-height-multiplier"
	PropMaxFrameRate             = "max-frame-rate"
	PropHasStreaming             = "has-streaming"
	PropHasCamRAMRecording       = "has-camram-recording"
	PropTriggerMode              = "trigger-mode"
	PropTransferAsynchronously   = "transfer-asynchronously"
	PropIsRecording              = "is-recording"
	PropIsReadout                = "is-readout"

	// PropFrameRate is optional; backends that pace a software stream
	// declare it.
	PropFrameRate = "frame-rate"
)

// Trigger modes accepted by PropTriggerMode.
const (
	TriggerAuto     = "auto"
	TriggerSoftware = "software"
	TriggerExternal = "external"
)

// CommonProperties is the fixed table every registry starts with.
var CommonProperties = []Descriptor{
	{Name: PropName, Blurb: "Name of the camera", Kind: KindString, Access: AccessRead},
	{Name: PropSensorWidth, Blurb: "Width of the sensor in pixels", Kind: KindUint, Access: AccessRead},
	{Name: PropSensorHeight, Blurb: "Height of the sensor in pixels", Kind: KindUint, Access: AccessRead},
	{Name: PropSensorBitdepth, Blurb: "Number of bits per pixel", Kind: KindUint, Access: AccessRead},
	{Name: PropSensorHorizontalBinning, Blurb: "Horizontal binning factor", Kind: KindUint, Access: AccessReadWrite, Default: Uint(1)},
	{Name: PropSensorHorizontalBinnings, Blurb: "Supported horizontal binning factors", Kind: KindUintArray, Access: AccessRead},
	{Name: PropSensorVerticalBinning, Blurb: "Vertical binning factor", Kind: KindUint, Access: AccessReadWrite, Default: Uint(1)},
	{Name: PropSensorVerticalBinnings, Blurb: "Supported vertical binning factors", Kind: KindUintArray, Access: AccessRead},
	{Name: PropExposureTime, Blurb: "Exposure time in seconds", Kind: KindDouble, Access: AccessReadWrite},
	{Name: PropROIX, Blurb: "Horizontal coordinate of the region of interest", Kind: KindUint, Access: AccessReadWrite},
	{Name: PropROIY, Blurb: "Vertical coordinate of the region of interest", Kind: KindUint, Access: AccessReadWrite},
	{Name: PropROIWidth, Blurb: "Width of the region of interest", Kind: KindUint, Access: AccessReadWrite},
	{Name: PropROIHeight, Blurb: "Height of the region of interest", Kind: KindUint, Access: AccessReadWrite},
	{Name: PropROIWidthMultiplier, Blurb: "Required horizontal ROI alignment", Kind: KindUint, Access: AccessRead, Default: Uint(1)},
	{Name: PropROIHeightMultiplier, Blurb: "Required vertical ROI alignment", Kind: KindUint, Access: AccessRead, Default: Uint(1)},
	{Name: PropMaxFrameRate, Blurb: "Maximum frame rate in frames per second", Kind: KindFloat, Access: AccessRead},
	{Name: PropHasStreaming, Blurb: "Whether the camera can stream frames", Kind: KindBool, Access: AccessRead},
	{Name: PropHasCamRAMRecording, Blurb: "Whether the camera records into on-board memory", Kind: KindBool, Access: AccessRead},
	{Name: PropTriggerMode, Blurb: "Frame trigger source", Kind: KindString, Access: AccessReadWrite, Default: String(TriggerAuto)},
	{Name: PropTransferAsynchronously, Blurb: "Deliver frames through the ring buffer", Kind: KindBool, Access: AccessReadWrite, Default: Bool(false)},
	{Name: PropIsRecording, Blurb: "Whether the camera is recording", Kind: KindBool, Access: AccessRead},
	{Name: PropIsReadout, Blurb: "Whether recorded frames are being read out", Kind: KindBool, Access: AccessRead},
}

// Discovered pairs a property found by enumerating hardware at open time
// with the value read back from the device.
type Discovered struct {
	Descriptor
	Value Value
}
