package model

// ChainTarget is one monitored honeypot deployment on a chain.
type ChainTarget struct {
	Chain       string
	EndpointEnv string
	Endpoint    string
	Address     string
	Enabled     bool
}

// Active reports whether the target should be polled. Disabled targets and
// targets without a deployed address are inert.
func (t ChainTarget) Active() bool {
	return t.Enabled && t.Address != ""
}
