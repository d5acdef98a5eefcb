// Package device probes the host platform at engine creation time. The
// engine refuses to come up on hardware below the tracking pipeline's
// floor or when required device permissions are missing.
package device

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Profile describes the host the engine is about to run on.
type Profile struct {
	OS            string
	Platform      string
	Arch          string
	LogicalCores  int
	TotalMemoryMB uint64
}

// Requirements is the floor a host must meet for the pipeline to run.
type Requirements struct {
	MinLogicalCores  int
	MinTotalMemoryMB uint64
}

// DefaultRequirements matches the tracking pipeline's minimum footprint.
var DefaultRequirements = Requirements{
	MinLogicalCores:  2,
	MinTotalMemoryMB: 512,
}

// Probe gathers the host profile. Individual probe failures degrade to
// zero values rather than failing the whole probe; CheckSupport treats
// zero values as unknown and lets them pass.
func Probe() Profile {
	p := Profile{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	if info, err := host.Info(); err == nil {
		p.Platform = info.Platform
	}
	if n, err := cpu.Counts(true); err == nil {
		p.LogicalCores = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		p.TotalMemoryMB = vm.Total / (1024 * 1024)
	}
	return p
}

// CheckSupport reports whether the profile meets the requirements.
// The returned reason is empty when supported.
func CheckSupport(p Profile, req Requirements) (bool, string) {
	if p.LogicalCores > 0 && p.LogicalCores < req.MinLogicalCores {
		return false, fmt.Sprintf("%d logical cores, need %d", p.LogicalCores, req.MinLogicalCores)
	}
	if p.TotalMemoryMB > 0 && p.TotalMemoryMB < req.MinTotalMemoryMB {
		return false, fmt.Sprintf("%d MB memory, need %d MB", p.TotalMemoryMB, req.MinTotalMemoryMB)
	}
	return true, ""
}

// CheckCameraAccess verifies the process can reach a camera device when one
// is required. Synthetic capture needs no device node; external drivers on
// Linux read /dev/video*. Returns an empty reason when access is fine.
func CheckCameraAccess(required bool) (bool, string) {
	if !required || runtime.GOOS != "linux" {
		return true, ""
	}
	matches, err := videoDevices()
	if err != nil || len(matches) == 0 {
		return false, "no camera device found"
	}
	for _, dev := range matches {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, ""
		}
	}
	return false, "camera device present but not readable"
}

func videoDevices() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var devs []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > 5 && name[:5] == "video" {
			devs = append(devs, "/dev/"+name)
		}
	}
	return devs, nil
}
