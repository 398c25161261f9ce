package hardware

import (
	"context"
	"strings"
)

// Codec families accepted by the selector.
const (
	FamilyH264 = "h264"
	FamilyH265 = "h265"
	FamilyVP9  = "vp9"
	FamilyAV1  = "av1"
)

// encoderTable maps (codec family, backend) to the concrete ffmpeg encoder.
var encoderTable = map[string]map[string]string{
	FamilyH264: {
		BackendCUDA:         "h264_nvenc",
		BackendAMF:          "h264_amf",
		BackendQSV:          "h264_qsv",
		BackendVAAPI:        "h264_vaapi",
		BackendVideoToolbox: "h264_videotoolbox",
	},
	FamilyH265: {
		BackendCUDA:         "hevc_nvenc",
		BackendAMF:          "hevc_amf",
		BackendQSV:          "hevc_qsv",
		BackendVAAPI:        "hevc_vaapi",
		BackendVideoToolbox: "hevc_videotoolbox",
	},
	FamilyVP9: {
		BackendQSV:   "vp9_qsv",
		BackendVAAPI: "vp9_vaapi",
	},
	FamilyAV1: {
		BackendCUDA:  "av1_nvenc",
		BackendAMF:   "av1_amf",
		BackendQSV:   "av1_qsv",
		BackendVAAPI: "av1_vaapi",
	},
}

// softwareEncoders maps a codec family to its software fallback.
var softwareEncoders = map[string]string{
	FamilyH264: "libx264",
	FamilyH265: "libx265",
	FamilyVP9:  "libvpx-vp9",
	FamilyAV1:  "libsvtav1",
}

// vendorOrder is the default selection priority across vendors.
var vendorOrder = []Vendor{VendorNvidia, VendorAmd, VendorIntel, VendorApple}

// Selector resolves codec families to concrete encoders for this host.
type Selector struct {
	detector  *Detector
	preferred Vendor
}

// NewSelector creates a Selector backed by the shared detector.
func NewSelector(detector *Detector) *Selector {
	return &Selector{detector: detector}
}

// SetPreferredVendor moves the named vendor to the front of the selection
// order when its backend is available. Empty or unknown names keep the
// default order.
func (s *Selector) SetPreferredVendor(name string) {
	s.preferred = vendorByName(name)
}

func vendorByName(name string) Vendor {
	switch strings.ToLower(name) {
	case "nvidia":
		return VendorNvidia
	case "amd":
		return VendorAmd
	case "intel":
		return VendorIntel
	case "apple":
		return VendorApple
	default:
		return VendorUnknown
	}
}

// SelectH264Codec returns the best H.264 encoder for this host.
func (s *Selector) SelectH264Codec(ctx context.Context) string { return s.selectFamily(ctx, FamilyH264) }

// SelectH265Codec returns the best H.265/HEVC encoder for this host.
func (s *Selector) SelectH265Codec(ctx context.Context) string { return s.selectFamily(ctx, FamilyH265) }

// SelectVp9Codec returns the best VP9 encoder for this host.
func (s *Selector) SelectVp9Codec(ctx context.Context) string { return s.selectFamily(ctx, FamilyVP9) }

// SelectAv1Codec returns the best AV1 encoder for this host.
func (s *Selector) SelectAv1Codec(ctx context.Context) string { return s.selectFamily(ctx, FamilyAV1) }

func (s *Selector) selectFamily(ctx context.Context, family string) string {
	accels := s.detector.GetAvailableAccelerators(ctx)
	byVendor := make(map[Vendor]string, len(accels))
	for _, accel := range accels {
		if encoder, ok := encoderTable[family][accel.Backend]; ok {
			if _, seen := byVendor[accel.Vendor]; !seen {
				byVendor[accel.Vendor] = encoder
			}
		}
	}
	order := vendorOrder
	if s.preferred != VendorUnknown {
		order = append([]Vendor{s.preferred}, vendorOrder...)
	}
	for _, vendor := range order {
		if encoder, ok := byVendor[vendor]; ok {
			return encoder
		}
	}
	return softwareEncoders[family]
}

// ResolveBestCodec normalizes a requested codec to the best concrete choice
// for the current host. The request may be a family name or an already
// specific encoder id: profiles pinned to unavailable hardware degrade to
// software, and software-pinned profiles upgrade to hardware when present.
func (s *Selector) ResolveBestCodec(ctx context.Context, requested string) string {
	family := normalizeFamily(requested)
	if family == "" {
		// Not a codec we manage; pass through unchanged.
		return requested
	}
	return s.selectFamily(ctx, family)
}

// BackendFor returns the accelerator whose backend produces the given
// encoder, or nil for software encoders.
func (s *Selector) BackendFor(ctx context.Context, encoder string) *GpuAccelerator {
	accels := s.detector.GetAvailableAccelerators(ctx)
	for _, table := range encoderTable {
		for backend, name := range table {
			if name != encoder {
				continue
			}
			for i := range accels {
				if accels[i].Backend == backend {
					return &accels[i]
				}
			}
		}
	}
	return nil
}

// IsSupportedCodec reports whether the requested codec maps to a family
// the selection tables cover.
func IsSupportedCodec(requested string) bool {
	return normalizeFamily(requested) != ""
}

// normalizeFamily maps family aliases and concrete encoder ids back to a
// codec family; it returns "" for codecs outside the selection tables.
func normalizeFamily(requested string) string {
	switch strings.ToLower(requested) {
	case "h264", "avc", "libx264":
		return FamilyH264
	case "h265", "hevc", "libx265":
		return FamilyH265
	case "vp9", "libvpx-vp9":
		return FamilyVP9
	case "av1", "libaom-av1", "libsvtav1":
		return FamilyAV1
	}
	for family, table := range encoderTable {
		for _, encoder := range table {
			if strings.EqualFold(requested, encoder) {
				return family
			}
		}
	}
	return ""
}
