package statemachine

import "fmt"

// AppState is the application state.
type AppState uint8

const (
	Initial AppState = iota
	Reset
	NetworkInit
	Discovery
	DiscoveryWait
	ButtonHandle
	DataSending
	DataSendingWait
	DataSendingSuccess
	DataSendingError
	Finished
	ResultIndication
	ResultIndicationWait
	TurningOff
	End
)

var appStateNames = [...]string{
	Initial:              "INITIAL",
	Reset:                "RESET",
	NetworkInit:          "NETWORK_INIT",
	Discovery:            "DISCOVERY",
	DiscoveryWait:        "DISCOVERY_WAIT",
	ButtonHandle:         "BUTTON_HANDLE",
	DataSending:          "DATA_SENDING",
	DataSendingWait:      "DATA_SENDING_WAIT",
	DataSendingSuccess:   "DATA_SENDING_SUCCESS",
	DataSendingError:     "DATA_SENDING_ERROR",
	Finished:             "FINISHED",
	ResultIndication:     "RESULT_INDICATION",
	ResultIndicationWait: "RESULT_INDICATION_WAIT",
	TurningOff:           "TURNING_OFF",
	End:                  "END",
}

func (s AppState) String() string {
	if int(s) < len(appStateNames) {
		return appStateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// CommandState is the outcome of a wake cycle.
type CommandState uint8

const (
	Unknown CommandState = iota
	Success
	NothingToSend
	HubMissing
	SendTimeout
	SendError
)

func (c CommandState) String() string {
	switch c {
	case Unknown:
		return "UNKNOWN"
	case Success:
		return "SUCCESS"
	case NothingToSend:
		return "NOTHING_TO_SEND"
	case HubMissing:
		return "HUB_MISSING"
	case SendTimeout:
		return "SEND_TIMEOUT"
	case SendError:
		return "SEND_ERROR"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// BlinkCount is the LED code for c; zero means no indication.
func (c CommandState) BlinkCount() int {
	switch c {
	case HubMissing:
		return 5
	case SendTimeout:
		return 4
	case SendError:
		return 3
	}
	return 0
}
