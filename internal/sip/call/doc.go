// Package call manages the station's single outbound call.
//
// States (github.com/looplab/fsm):
//
//	Idle --initiate--> Calling --2xx--> Connected --hangup/BYE--> Idle
//	Calling --cancel--> Idle
//	Calling, Connected --fail--> Error --recover--> Idle
//
// Error is transient: the engine reports it and immediately recovers to
// Idle, so a new call can be placed. Statistics are updated exactly once per
// call when it reaches a terminal state. A call ended from Connected counts
// as a success; a call that never connected counts as a failure.
//
// Tones (SIP INFO, application/dtmf-relay or application/dtmf) are passed
// to the Observer only while Connected.
package call
