package domain

import "strings"

// Mode is the persona the assistant is currently playing.
type Mode string

const (
	ModeCompanion        Mode = "Companion"
	ModeStudent          Mode = "Student"
	ModeTeacher          Mode = "Teacher"
	ModeTeacherPhysics   Mode = "Physics Teacher"
	ModeTeacherChemistry Mode = "Chemistry Teacher"
	ModeTeacherMaths     Mode = "Maths Teacher"
	ModeTeacherComputer  Mode = "Computer Teacher"
	ModeTeacherRealLife  Mode = "Real-Life Teacher"
	ModeManager          Mode = "Manager"
	ModeDeveloper        Mode = "Developer"
	ModeSpiritual        Mode = "Spiritual"
	ModeHistorian        Mode = "Historian"
	ModeResearch         Mode = "Research"
	ModeKitchen          Mode = "Kitchen"
	ModeHealthAdvisor    Mode = "Health Advisor"
	ModeSongPlayer       Mode = "Song Player"
)

var allModes = []Mode{
	ModeCompanion, ModeStudent, ModeTeacher, ModeTeacherPhysics, ModeTeacherChemistry,
	ModeTeacherMaths, ModeTeacherComputer, ModeTeacherRealLife, ModeManager, ModeDeveloper,
	ModeSpiritual, ModeHistorian, ModeResearch, ModeKitchen, ModeHealthAdvisor, ModeSongPlayer,
}

// Modes lists every known mode.
func Modes() []Mode {
	out := make([]Mode, len(allModes))
	copy(out, allModes)
	return out
}

// ParseMode matches s against the known modes, ignoring case and
// surrounding space.
func ParseMode(s string) (Mode, bool) {
	s = strings.TrimSpace(s)
	for _, m := range allModes {
		if strings.EqualFold(string(m), s) {
			return m, true
		}
	}
	return "", false
}

// Vibe is the detected mood of the operator's voice.
type Vibe string

const (
	VibeNeutral  Vibe = "NEUTRAL"
	VibeHappy    Vibe = "HAPPY"
	VibeStressed Vibe = "STRESSED"
)

const DefaultOperatorName = "Operator"

// Profile is what the assistant remembers about its operator.
type Profile struct {
	ID              string  `json:"id,omitempty"`
	Name            string  `json:"name"`
	PreferredMode   Mode    `json:"preferredMode"`
	LastCheckInDate *string `json:"lastCheckInDate"`
	Summary         string  `json:"summary"`
}

func DefaultProfile() Profile {
	return Profile{
		Name:          DefaultOperatorName,
		PreferredMode: ModeCompanion,
		Summary:       "New Raspberry Pi link established.",
	}
}
