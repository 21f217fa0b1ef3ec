package control

// Request is a decoded, already validated command. Each variant carries
// only the fields its command uses.
type Request interface {
	Command() Command
	isRequest()
}

type DetectRequest struct{}

// TransferRequest pushes a local file to the device, or pulls a device
// file into the local inbox.
type TransferRequest struct {
	Path string
	Push bool
}

// TetherRequest sets the administrative state of IfName. An empty IfName
// selects the configured default interface.
type TetherRequest struct {
	IfName string
	Up     bool
}

type NotifyRequest struct {
	Enable bool
}

type CallRequest struct {
	Answer bool
}

type MediaRequest struct {
	VolumeUp bool
}

func (DetectRequest) Command() Command   { return Detect }
func (TransferRequest) Command() Command { return FileTransfer }
func (TetherRequest) Command() Command   { return Tethering }
func (NotifyRequest) Command() Command   { return Notifications }
func (CallRequest) Command() Command     { return CallControl }
func (MediaRequest) Command() Command    { return MediaControl }

func (DetectRequest) isRequest()   {}
func (TransferRequest) isRequest() {}
func (TetherRequest) isRequest()   {}
func (NotifyRequest) isRequest()   {}
func (CallRequest) isRequest()     {}
func (MediaRequest) isRequest()    {}
