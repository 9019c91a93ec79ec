package executor

import (
	"sort"
	"strings"
)

// Profile is a coarse resource hint attached to a call kind.
type Profile struct {
	Name     string  `json:"name"`
	CPU      float64 `json:"cpu"`
	GPU      int     `json:"gpu,omitempty"`
	MemoryMB int     `json:"memoryMb"`
}

// MilliCPU returns the CPU hint in thousandths of a core, at least 1.
func (p Profile) MilliCPU() int64 {
	m := int64(p.CPU * 1000)
	if m < 1 {
		return 1
	}
	return m
}

var (
	Light  = Profile{Name: "light", CPU: 1, MemoryMB: 1024}
	Medium = Profile{Name: "medium", CPU: 2, MemoryMB: 4096}
	Heavy  = Profile{Name: "heavy", CPU: 4, MemoryMB: 8192}
	GPU    = Profile{Name: "gpu", CPU: 2, GPU: 1, MemoryMB: 8192}
)

// per job type hints
var (
	VideoProfile    = Profile{Name: "video", CPU: 2, MemoryMB: 4096}
	ImageProfile    = Profile{Name: "image", CPU: 1, MemoryMB: 2048}
	TextProfile     = Profile{Name: "text", CPU: 0.5, MemoryMB: 512}
	CampaignProfile = Profile{Name: "campaign", CPU: 1, MemoryMB: 1024}
	ProductProfile  = Profile{Name: "product", CPU: 1, MemoryMB: 1536}
	BlogProfile     = Profile{Name: "blog", CPU: 0.5, MemoryMB: 512}
	BatchProfile    = Profile{Name: "batch", CPU: 0.5, MemoryMB: 256}
	WorkflowProfile = Profile{Name: "workflow", CPU: 1, MemoryMB: 1024}
)

var profiles = map[string]Profile{}

func init() {
	for _, p := range []Profile{
		Light, Medium, Heavy, GPU,
		VideoProfile, ImageProfile, TextProfile, CampaignProfile,
		ProductProfile, BlogProfile, BatchProfile, WorkflowProfile,
	} {
		profiles[p.Name] = p
	}
}

// ProfileByName looks up a preset or job-type profile.
func ProfileByName(name string) (Profile, bool) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Profiles lists every known profile sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProfileForKind maps a kind such as "media.video" to the first of its
// dot-separated segments that names a profile. Unknown kinds get Medium.
func ProfileForKind(kind string) Profile {
	for _, segment := range strings.Split(kind, ".") {
		if p, ok := ProfileByName(segment); ok {
			return p
		}
	}
	return Medium
}
