package flows

import (
	"github.com/MrEthical07/sessiongate/session"
)

// Deny reasons produced by the default gate.
const (
	ReasonNoDeviceCookie      = "no_device_cookie"
	ReasonInvalidDeviceCookie = "invalid_device_cookie"
	ReasonNoUserID            = "no_user_id"
	ReasonDeviceMismatch      = "device_mismatch"
)

// GateInput is the state a gate evaluates. Earlier predicates may fill fields that later
// predicates read; DeviceID is set once the device cookie has been verified.
type GateInput struct {
	Session      *session.Session
	DeviceCookie string
	DeviceID     string
}

// Predicate is one named gate step. Check returns "" to allow, or a deny reason.
type Predicate struct {
	Name  string
	Check func(*GateInput) string
}

// AuthorizeDeps captures authorization gate dependencies.
type AuthorizeDeps struct {
	VerifyDevice func(string) (string, error)
	Equal        func(a, b string) bool
}

// AuthorizeResult reports the outcome of a gate run. Step names the predicate that denied.
type AuthorizeResult struct {
	Allowed  bool
	Step     string
	Reason   string
	DeviceID string
}

// DefaultPredicates returns the mandatory steps in evaluation order: device cookie, user id,
// device match.
func DefaultPredicates(deps AuthorizeDeps) []Predicate {
	equal := deps.Equal
	if equal == nil {
		equal = ConstantTimeEqual
	}

	return []Predicate{
		{
			Name: "device_cookie",
			Check: func(in *GateInput) string {
				if in.DeviceCookie == "" {
					return ReasonNoDeviceCookie
				}
				if deps.VerifyDevice == nil {
					return ReasonInvalidDeviceCookie
				}
				id, err := deps.VerifyDevice(in.DeviceCookie)
				if err != nil || id == "" {
					return ReasonInvalidDeviceCookie
				}
				in.DeviceID = id
				return ""
			},
		},
		{
			Name: "user_id",
			Check: func(in *GateInput) string {
				if !in.Session.Authenticated() {
					return ReasonNoUserID
				}
				return ""
			},
		},
		{
			Name: "device_match",
			Check: func(in *GateInput) string {
				if !equal(in.DeviceID, in.Session.UserUUID) {
					return ReasonDeviceMismatch
				}
				return ""
			},
		},
	}
}

// RunAuthorize evaluates the default predicates followed by extra, stopping at the first
// denial. No state is cached between runs.
func RunAuthorize(sess *session.Session, deviceCookie string, deps AuthorizeDeps, extra ...Predicate) AuthorizeResult {
	in := &GateInput{Session: sess, DeviceCookie: deviceCookie}

	res := RunGate(in, DefaultPredicates(deps))
	if !res.Allowed {
		return res
	}
	return RunGate(in, extra)
}

// RunGate evaluates predicates in order against in.
func RunGate(in *GateInput, predicates []Predicate) AuthorizeResult {
	for _, p := range predicates {
		if p.Check == nil {
			continue
		}
		if reason := p.Check(in); reason != "" {
			return AuthorizeResult{Step: p.Name, Reason: reason, DeviceID: in.DeviceID}
		}
	}
	return AuthorizeResult{Allowed: true, DeviceID: in.DeviceID}
}
