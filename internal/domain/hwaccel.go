package domain

type Accelerator string

const (
	AccelNone         Accelerator = "none"
	AccelCUDA         Accelerator = "cuda"
	AccelVideoToolbox Accelerator = "videotoolbox"
	AccelVAAPI        Accelerator = "vaapi"
	AccelQSV          Accelerator = "qsv"
)

// HWAccelConfig holds the decoder flags placed before -i. Decoded frames are
// always downloaded to system memory since sampling reads raw RGB.
type HWAccelConfig struct {
	Accelerator Accelerator
	DecodeFlags []string
}
