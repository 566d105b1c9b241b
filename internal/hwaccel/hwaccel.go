package hwaccel

import (
	"bufio"
	"context"
	"os/exec"
	"strings"

	"github.com/eleven-am/slidepdf/internal/domain"
)

func Detect(ctx context.Context) ([]domain.Accelerator, error) {
	hwaccels, err := detectHWAccels(ctx)
	if err != nil {
		return nil, err
	}

	var available []domain.Accelerator

	if hwaccels["cuda"] {
		available = append(available, domain.AccelCUDA)
	}
	if hwaccels["videotoolbox"] {
		available = append(available, domain.AccelVideoToolbox)
	}
	if hwaccels["vaapi"] {
		available = append(available, domain.AccelVAAPI)
	}
	if hwaccels["qsv"] {
		available = append(available, domain.AccelQSV)
	}

	available = append(available, domain.AccelNone)

	return available, nil
}

func Select(available []domain.Accelerator) domain.Accelerator {
	priority := []domain.Accelerator{domain.AccelCUDA, domain.AccelQSV, domain.AccelVideoToolbox, domain.AccelVAAPI}

	for _, accel := range priority {
		for _, a := range available {
			if a == accel {
				return accel
			}
		}
	}

	return domain.AccelNone
}

func DetectBest(ctx context.Context) *domain.HWAccelConfig {
	available, err := Detect(ctx)
	if err != nil {
		return NewConfig(domain.AccelNone)
	}
	return NewConfig(Select(available))
}

// Parse maps a configured name to a config. "auto" probes ffmpeg.
func Parse(ctx context.Context, name string) *domain.HWAccelConfig {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off":
		return NewConfig(domain.AccelNone)
	case "auto":
		return DetectBest(ctx)
	default:
		return NewConfig(domain.Accelerator(strings.ToLower(name)))
	}
}

func NewConfig(accel domain.Accelerator) *domain.HWAccelConfig {
	switch accel {
	case domain.AccelCUDA:
		return &domain.HWAccelConfig{
			Accelerator: domain.AccelCUDA,
			DecodeFlags: []string{"-hwaccel", "cuda"},
		}
	case domain.AccelVideoToolbox:
		return &domain.HWAccelConfig{
			Accelerator: domain.AccelVideoToolbox,
			DecodeFlags: []string{"-hwaccel", "videotoolbox"},
		}
	case domain.AccelVAAPI:
		return &domain.HWAccelConfig{
			Accelerator: domain.AccelVAAPI,
			DecodeFlags: []string{"-hwaccel", "vaapi", "-vaapi_device", "/dev/dri/renderD128"},
		}
	case domain.AccelQSV:
		return &domain.HWAccelConfig{
			Accelerator: domain.AccelQSV,
			DecodeFlags: []string{"-hwaccel", "qsv"},
		}
	default:
		return &domain.HWAccelConfig{
			Accelerator: domain.AccelNone,
			DecodeFlags: []string{},
		}
	}
}

func detectHWAccels(ctx context.Context) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-hwaccels")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool)
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && line != "Hardware acceleration methods:" {
			result[line] = true
		}
	}

	return result, nil
}
