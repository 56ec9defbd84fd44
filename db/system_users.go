package db

// System actor ids recorded as creator/modifier on automated mutations so
// audit rows never carry an empty actor.
const (
	// SystemActorBreachSweep marks breach-flag updates made by the poller
	SystemActorBreachSweep = "00000000-0000-0000-0000-000000000001"

	// SystemActorEscalationSweep marks level advances made by the poller
	SystemActorEscalationSweep = "00000000-0000-0000-0000-000000000002"

	// SystemActorTrigger marks transitions applied from an inbound entity event
	SystemActorTrigger = "00000000-0000-0000-0000-000000000003"

	// SystemActorAPI marks direct API mutations without a user context
	SystemActorAPI = "00000000-0000-0000-0000-000000000004"
)

// GetSystemActorBySource maps an event source to its system actor id.
func GetSystemActorBySource(source string) string {
	switch source {
	case "breach_sweep":
		return SystemActorBreachSweep
	case "escalation_sweep":
		return SystemActorEscalationSweep
	case "trigger":
		return SystemActorTrigger
	default:
		return SystemActorAPI
	}
}
