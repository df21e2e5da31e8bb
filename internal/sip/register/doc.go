// Package register implements the station's registration with the SIP
// server.
//
// The engine is a state machine (github.com/looplab/fsm):
//
//	Idle --start--> Registering --2xx--> Registered
//	Registering --401/407--> Registering   (one authenticated retry)
//	Registering --failure/timeout--> Error
//	Registered --refresh failure--> Error
//	Registered, Registering, Error --stop--> Idle
//	Error --start--> Registering
//
// Every REGISTER carries a fresh Call-ID and branch and the next CSeq. A
// second challenge on the same attempt is treated as rejected credentials.
// While Registered a refresh timer re-sends REGISTER; the state stays
// Registered during the refresh so an active call is not disturbed.
//
// The engine holds no lock. Its owner serialises every call and runs the
// Outbox and Timers side effects after releasing its own lock.
package register
