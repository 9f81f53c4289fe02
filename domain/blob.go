package domain

// BlobVersion is the current layout version of a persisted EncryptedBlob.
const BlobVersion = 1

// EncryptedBlob is the persisted, encrypted form of a session token. The IV used to
// encrypt the token is stored next to the ciphertext and is only ever reused to
// initialize the matching decryption cipher.
type EncryptedBlob struct {
	Version    int    `json:"version"`
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
}

// Destination is the fixed namespace/key pair a blob is persisted under.
type Destination struct {
	Namespace string
	Key       string
}

// DefaultDestination is where the blob lives unless configured otherwise.
var DefaultDestination = Destination{
	Namespace: "biometric_prefs",
	Key:       "ciphertext_wrapper",
}

// State is the state of the login state machine.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateSuccess
	StateFailed
	StateRequirePin
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateRequirePin:
		return "require_pin"
	default:
		return "unknown"
	}
}
