// ABOUTME: Wire messages for the fleet.v1.FleetControl service
// ABOUTME: Plain structs carried by the JSON codec, with nil-safe getters in generated-code style

package fleet

// Platform names reported by agents during registration.
const (
	PlatformUnknown = "unknown"
	PlatformWindows = "windows"
	PlatformLinux   = "linux"
	PlatformMacOS   = "macos"
)

// RegisterRequest is sent by an agent to announce its hardware identity.
type RegisterRequest struct {
	MacAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	Platform   string `json:"platform"`
	OsVersion  string `json:"os_version"`
	IpAddress  string `json:"ip_address,omitempty"`
}

func (x *RegisterRequest) GetMacAddress() string {
	if x != nil {
		return x.MacAddress
	}
	return ""
}

func (x *RegisterRequest) GetHostname() string {
	if x != nil {
		return x.Hostname
	}
	return ""
}

func (x *RegisterRequest) GetPlatform() string {
	if x != nil {
		return x.Platform
	}
	return ""
}

func (x *RegisterRequest) GetOsVersion() string {
	if x != nil {
		return x.OsVersion
	}
	return ""
}

func (x *RegisterRequest) GetIpAddress() string {
	if x != nil {
		return x.IpAddress
	}
	return ""
}

// RegisterResponse carries the stable device id and, once the device is
// approved, a session token. An empty token means approval is pending.
type RegisterResponse struct {
	DeviceId string `json:"device_id"`
	Token    string `json:"token,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (x *RegisterResponse) GetDeviceId() string {
	if x != nil {
		return x.DeviceId
	}
	return ""
}

func (x *RegisterResponse) GetToken() string {
	if x != nil {
		return x.Token
	}
	return ""
}

func (x *RegisterResponse) GetMessage() string {
	if x != nil {
		return x.Message
	}
	return ""
}

// Heartbeat is the only message an agent sends on its stream.
type Heartbeat struct {
	TimestampMs int64 `json:"timestamp_ms"`
}

func (x *Heartbeat) GetTimestampMs() int64 {
	if x != nil {
		return x.TimestampMs
	}
	return 0
}

// AgentMessage is the agent-to-server stream frame.
type AgentMessage struct {
	Heartbeat *Heartbeat `json:"heartbeat,omitempty"`
}

func (x *AgentMessage) GetHeartbeat() *Heartbeat {
	if x != nil {
		return x.Heartbeat
	}
	return nil
}

// Welcome is the first server frame on an admitted stream.
type Welcome struct {
	DeviceId            string `json:"device_id"`
	SessionId           string `json:"session_id"`
	HeartbeatIntervalMs int64  `json:"heartbeat_interval_ms,omitempty"`
}

func (x *Welcome) GetDeviceId() string {
	if x != nil {
		return x.DeviceId
	}
	return ""
}

func (x *Welcome) GetSessionId() string {
	if x != nil {
		return x.SessionId
	}
	return ""
}

func (x *Welcome) GetHeartbeatIntervalMs() int64 {
	if x != nil {
		return x.HeartbeatIntervalMs
	}
	return 0
}

// JobInvocation asks the agent to run one command.
type JobInvocation struct {
	JobId     string  `json:"job_id"`
	Command   string  `json:"command"`
	Arguments string  `json:"arguments,omitempty"`
	Script    *string `json:"script,omitempty"`
}

func (x *JobInvocation) GetJobId() string {
	if x != nil {
		return x.JobId
	}
	return ""
}

func (x *JobInvocation) GetCommand() string {
	if x != nil {
		return x.Command
	}
	return ""
}

func (x *JobInvocation) GetArguments() string {
	if x != nil {
		return x.Arguments
	}
	return ""
}

func (x *JobInvocation) GetScript() string {
	if x != nil && x.Script != nil {
		return *x.Script
	}
	return ""
}

// HasScript reports whether a script body was attached to the invocation.
func (x *JobInvocation) HasScript() bool {
	return x != nil && x.Script != nil
}

// ServerMessage is the server-to-agent stream frame. Exactly one field is set.
type ServerMessage struct {
	Welcome *Welcome       `json:"welcome,omitempty"`
	Job     *JobInvocation `json:"job,omitempty"`
}

func (x *ServerMessage) GetWelcome() *Welcome {
	if x != nil {
		return x.Welcome
	}
	return nil
}

func (x *ServerMessage) GetJob() *JobInvocation {
	if x != nil {
		return x.Job
	}
	return nil
}

// JobResult is reported by the agent once a job finishes.
type JobResult struct {
	JobId    string `json:"job_id"`
	ExitCode int32  `json:"exit_code"`
	Output   string `json:"output"`
}

func (x *JobResult) GetJobId() string {
	if x != nil {
		return x.JobId
	}
	return ""
}

func (x *JobResult) GetExitCode() int32 {
	if x != nil {
		return x.ExitCode
	}
	return 0
}

func (x *JobResult) GetOutput() string {
	if x != nil {
		return x.Output
	}
	return ""
}
