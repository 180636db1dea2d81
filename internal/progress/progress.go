// Package progress defines the one-directional event contract between the
// orchestrators and their observers (CLI progress bar, GUI wizard). Events
// are advisory: emitting them never blocks and never fails the operation.
package progress

// Phase is one named, observable step of an install or uninstall.
type Phase string

const (
	PhaseExtracting         Phase = "Extracting"
	PhaseVerifying          Phase = "Verifying"
	PhaseCopying            Phase = "Copying"
	PhaseSettingPermissions Phase = "SettingPermissions"
	PhasePostInstallScript  Phase = "RunningPostInstallScript"
	PhaseRegisteringService Phase = "RegisteringService"
	PhaseRegisteringDesktop Phase = "RegisteringDesktopEntry"
	PhaseLinkingBinaries    Phase = "LinkingBinaries"
	PhaseCompleted          Phase = "Completed"

	PhaseStoppingService   Phase = "StoppingService"
	PhasePreUninstall      Phase = "RunningPreUninstallScript"
	PhaseRemovingFiles     Phase = "RemovingFiles"
	PhaseRemovingArtifacts Phase = "RemovingArtifacts"
)

// Event is a single progress notification.
type Event struct {
	Phase   Phase  `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Percent maps an event onto the reserved percentage bands so observers
// render smooth progress regardless of which optional phases execute:
// Extracting 0-30, Copying 30-60, the remaining phases share 60-100.
func (e Event) Percent() int {
	switch e.Phase {
	case PhaseExtracting:
		return band(0, 30, e.Current, e.Total)
	case PhaseVerifying:
		return 30
	case PhaseCopying:
		return band(30, 60, e.Current, e.Total)
	case PhaseSettingPermissions:
		return 65
	case PhasePostInstallScript:
		return 72
	case PhaseRegisteringService:
		return 80
	case PhaseRegisteringDesktop:
		return 87
	case PhaseLinkingBinaries:
		return 94
	case PhaseCompleted:
		return 100
	case PhaseStoppingService:
		return 10
	case PhasePreUninstall:
		return 25
	case PhaseRemovingFiles:
		return band(30, 90, e.Current, e.Total)
	case PhaseRemovingArtifacts:
		return 95
	}
	return 0
}

func band(lo, hi, current, total int) int {
	if total <= 0 {
		return lo
	}
	if current > total {
		current = total
	}
	return lo + (hi-lo)*current/total
}
