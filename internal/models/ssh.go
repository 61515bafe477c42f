package models

// SSHShutdownConfig holds configuration for powering the target host down after a run.
type SSHShutdownConfig struct {
	Host           string
	Port           int
	Username       string
	PrivateKey     []byte // loaded from file path
	KeyPath        string // path to key file
	KnownHostsPath string // empty accepts any host key
	ShutdownDelay  int    // minutes before shutdown
	OS             string // "linux" (default) or "windows"
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	CommandRun bool
	Command    string
	Output     string
	Error      error
}
