package hls

import (
	"fmt"
	"strings"
)

// h264ProfileIDC maps ffprobe profile names to the avc1 profile_idc and
// constraint bytes used in RFC 6381 codec strings.
var h264ProfileIDC = map[string]string{
	"baseline":             "4200",
	"constrained baseline": "42c0",
	"main":                 "4d00",
	"high":                 "6400",
	"high 10":              "6e00",
	"high 4:2:2":           "7a00",
}

// VideoCodecString derives an RFC 6381 codec string from the probed codec
// name, profile and level of an encoded stream.
func VideoCodecString(codecName, profile string, level int) string {
	switch codecName {
	case "h264":
		idc, ok := h264ProfileIDC[strings.ToLower(profile)]
		if !ok {
			idc = "6400"
		}
		if level <= 0 {
			level = 40
		}
		return fmt.Sprintf("avc1.%s%02x", idc, level)
	case "hevc", "h265":
		// Main 10 streams advertise profile 2, everything else Main.
		if strings.Contains(strings.ToLower(profile), "10") {
			return "hvc1.2.4.L120.B0"
		}
		return "hvc1.1.4.L120.B0"
	case "vp9":
		return "vp09.00.40.08"
	case "av1":
		return "av01.0.08M.08"
	default:
		return codecName
	}
}

// AudioCodecString maps an encoded audio codec family to its RFC 6381
// identifier.
func AudioCodecString(codec string) string {
	switch strings.ToLower(codec) {
	case "aac":
		return "mp4a.40.2"
	case "eac3":
		return "ec-3"
	case "ac3":
		return "ac-3"
	case "opus":
		return "opus"
	case "flac":
		return "flac"
	default:
		return codec
	}
}
