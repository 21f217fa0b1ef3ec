package main

// Request operations.
const (
	opDispatch = "dispatch"
	opStatus   = "status"
)

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Op      string `json:"op"`                // "dispatch" | "status"
	Command uint32 `json:"command,omitempty"` // control.Command code
	Args    []byte `json:"args,omitempty"`    // encoded control.Args block, absent for detect
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	ID            string `json:"id,omitempty"`
	Status        int32  `json:"status"`
	Error         string `json:"error,omitempty"`
	Notifications *bool  `json:"notifications,omitempty"` // status only
	Phone         *bool  `json:"phone,omitempty"`         // status only
}
