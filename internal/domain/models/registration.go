package models

// GcdState is the registration state machine's position (spec.md §3, §4.7;
// named for the original "Google Cloud Devices" wire concept the field
// travels under).
type GcdState string

const (
	StateUnconfigured       GcdState = "unconfigured"
	StateConnecting         GcdState = "connecting"
	StateConnected          GcdState = "connected"
	StateInvalidCredentials GcdState = "invalid-credentials"
)

// RegistrationSettings holds the device's cloud identity and the
// endpoint defaults/overrides governing where it talks to the cloud.
type RegistrationSettings struct {
	CloudID             string
	DeviceID            string
	RobotAccountEmail   string
	RefreshToken        string

	OAuthURL               string
	ServiceURL             string
	APIKey                 string
	ClientID               string
	ClientSecret           string
	XMPPEndpoint           string
	AllowEndpointsOverride bool
}

// Registered reports whether credentials already exist, i.e. whether a
// register_device call must fail with already_registered.
func (r RegistrationSettings) Registered() bool {
	return r.CloudID != "" || r.RefreshToken != ""
}

// Clear resets CloudID, RobotAccountEmail and RefreshToken, leaving
// DeviceID and the endpoint configuration untouched. This is what a device factory-reset or
// external "deregister" hands the registration manager back to.
func (r *RegistrationSettings) Clear() {
	r.CloudID = ""
	r.RobotAccountEmail = ""
	r.RefreshToken = ""
}
