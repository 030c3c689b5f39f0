package instance

// Status is the lifecycle state of a Handle's child process.
type Status int

const (
	Stopped Status = iota
	Starting
	Running
	Stopping
	Crashed
	Killing
	Killed
)

var statusNames = [...]string{
	Stopped:  "Stopped",
	Starting: "Starting",
	Running:  "Running",
	Stopping: "Stopping",
	Crashed:  "Crashed",
	Killing:  "Killing",
	Killed:   "Killed",
}

// AllStatuses lists every status, for metrics gauges.
var AllStatuses = []Status{Stopped, Starting, Running, Stopping, Crashed, Killing, Killed}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// Live reports whether a child in this state is expected to be alive.
func (s Status) Live() bool {
	return s == Starting || s == Running
}

// Terminal reports whether the state ends a process lifetime.
func (s Status) Terminal() bool {
	return s == Stopped || s == Crashed || s == Killed
}
