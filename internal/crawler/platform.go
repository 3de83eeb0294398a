package crawler

import (
	"fmt"
	"strings"
)

// Platform identifies one of the supported content sources.
type Platform string

// Supported platform codes, in the order batch syncs visit them.
const (
	PlatformXHS      Platform = "xhs"
	PlatformDouyin   Platform = "dy"
	PlatformKuaishou Platform = "ks"
	PlatformBilibili Platform = "bili"
	PlatformWeibo    Platform = "wb"
	PlatformTieba    Platform = "tieba"
	PlatformZhihu    Platform = "zhihu"
)

var platformNames = map[Platform]string{
	PlatformXHS:      "小红书",
	PlatformDouyin:   "抖音",
	PlatformKuaishou: "快手",
	PlatformBilibili: "B站",
	PlatformWeibo:    "微博",
	PlatformTieba:    "贴吧",
	PlatformZhihu:    "知乎",
}

// Platforms returns every supported platform in canonical order.
func Platforms() []Platform {
	return []Platform{
		PlatformXHS,
		PlatformDouyin,
		PlatformKuaishou,
		PlatformBilibili,
		PlatformWeibo,
		PlatformTieba,
		PlatformZhihu,
	}
}

// Valid reports whether p is one of the supported platform codes.
func (p Platform) Valid() bool {
	_, ok := platformNames[p]
	return ok
}

// DisplayName returns the human readable platform name stored on feed rows.
// Unknown codes fall back to the code itself.
func (p Platform) DisplayName() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return string(p)
}

func (p Platform) String() string {
	return string(p)
}

// ParsePlatform lower-cases and validates a single platform code.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, raw)
	}
	return p, nil
}

// ParsePlatformList accepts comma separated values, trims and lower-cases each
// entry and drops empty ones. Every invalid code is reported in one error.
func ParsePlatformList(values ...string) ([]Platform, error) {
	var (
		out     []Platform
		invalid []string
	)
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			p := Platform(part)
			if !p.Valid() {
				invalid = append(invalid, part)
				continue
			}
			out = append(out, p)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid platform(s): %s", ErrInvalidRequest, strings.Join(invalid, ", "))
	}
	return out, nil
}
