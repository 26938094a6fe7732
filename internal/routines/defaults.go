package routines

import "time"

// EnergyProfile sets the cadence of the team's self-maintaining routines.
type EnergyProfile struct {
	Name               string
	TeamCheckInMinutes int
	RoomPulseMinutes   int
	BotFocusMinutes    int
}

// EnergyProfiles are the named cadences a team can run at.
var EnergyProfiles = map[string]EnergyProfile{
	"quiet":    {Name: "quiet", TeamCheckInMinutes: 240, RoomPulseMinutes: 360, BotFocusMinutes: 1440},
	"balanced": {Name: "balanced", TeamCheckInMinutes: 120, RoomPulseMinutes: 240, BotFocusMinutes: 720},
	"active":   {Name: "active", TeamCheckInMinutes: 60, RoomPulseMinutes: 120, BotFocusMinutes: 360},
}

func routineExists(existing []Routine, routine, targetType, targetID string) bool {
	for _, r := range existing {
		if r.Payload.Routine != routine {
			continue
		}
		if r.Payload.Metadata["target_type"] != targetType {
			continue
		}
		if targetID != "" && r.Payload.Metadata["target_id"] != targetID {
			continue
		}
		return true
	}
	return false
}

// SeedDefaultTeamRoutines idempotently schedules the team's upkeep
// routines — a periodic team check-in, a per-room pulse, and a per-bot
// focus reminder — at the cadence named by energy ("quiet"|"balanced"|
// "active", defaulting to "balanced"). Safe to call on every startup:
// routines already present (matched by routine name + target) are left
// untouched.
func SeedDefaultTeamRoutines(sched *Scheduler, teamBots, roomIDs []string, energy string) error {
	profile, ok := EnergyProfiles[energy]
	if !ok {
		profile = EnergyProfiles["balanced"]
	}
	existing := sched.List()

	if !routineExists(existing, "team_check_in", "team", "") {
		if _, err := sched.Add(Routine{
			Name:    "Team Check-In",
			Enabled: true,
			Schedule: Schedule{
				Kind:  ScheduleEvery,
				Every: minutesToDuration(profile.TeamCheckInMinutes),
			},
			Payload: Payload{
				Kind:     PayloadSystemEvent,
				Message:  "TEAM_ROUTINE: team_check_in",
				Channel:  "internal",
				To:       "team",
				Scope:    ScopeSystem,
				Routine:  "team_check_in",
				Metadata: map[string]string{"target_type": "team"},
			},
		}); err != nil {
			return err
		}
	}

	for _, roomID := range roomIDs {
		if routineExists(existing, "room_pulse", "room", roomID) {
			continue
		}
		if _, err := sched.Add(Routine{
			Name:    "Room Pulse: " + roomID,
			Enabled: true,
			Schedule: Schedule{
				Kind:  ScheduleEvery,
				Every: minutesToDuration(profile.RoomPulseMinutes),
			},
			Payload: Payload{
				Kind:     PayloadSystemEvent,
				Message:  "TEAM_ROUTINE: room_pulse room=" + roomID,
				Channel:  "internal",
				To:       roomID,
				Scope:    ScopeSystem,
				Routine:  "room_pulse",
				Metadata: map[string]string{"target_type": "room", "target_id": roomID},
			},
		}); err != nil {
			return err
		}
	}

	for _, botName := range teamBots {
		if routineExists(existing, "bot_focus", "bot", botName) {
			continue
		}
		if _, err := sched.Add(Routine{
			Name:    "Bot Focus: " + botName,
			Enabled: true,
			Schedule: Schedule{
				Kind:  ScheduleEvery,
				Every: minutesToDuration(profile.BotFocusMinutes),
			},
			Payload: Payload{
				Kind:     PayloadSystemEvent,
				Message:  "TEAM_ROUTINE: bot_focus bot=" + botName,
				Channel:  "internal",
				To:       botName,
				Scope:    ScopeSystem,
				Routine:  "bot_focus",
				Metadata: map[string]string{"target_type": "bot", "target_id": botName},
			},
		}); err != nil {
			return err
		}
	}

	return nil
}

func minutesToDuration(m int) time.Duration { return time.Duration(m) * time.Minute }
