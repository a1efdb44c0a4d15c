package blink

// Camera kinds as reported by the homescreen payload. The vendor splits
// its product lines into separate lists with slightly different APIs;
// the bridge treats them all as cameras.
const (
	KindCamera   = "camera"
	KindOwl      = "owl"
	KindDoorbell = "doorbell"
)

// Homescreen is the vendor's raw device-listing payload.
type Homescreen struct {
	Networks    []Network    `json:"networks"`
	SyncModules []SyncModule `json:"sync_modules"`
	Cameras     []Camera     `json:"cameras"`
	Owls        []Camera     `json:"owls"`
	Doorbells   []Camera     `json:"doorbells"`
}

// Network is a vendor "system": one alarm scope with its own armed flag.
type Network struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Armed bool   `json:"armed"`
}

// SyncModule is the local hub coordinating cameras on one network.
type SyncModule struct {
	ID        int    `json:"id"`
	NetworkID int    `json:"network_id"`
	Name      string `json:"name"`
	Serial    string `json:"serial"`
	Status    string `json:"status"`
}

// Camera is one device entry from any of the three homescreen lists.
type Camera struct {
	ID        int    `json:"id"`
	NetworkID int    `json:"network_id"`
	Name      string `json:"name"`
	Serial    string `json:"serial"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	Status    string `json:"status"`
	Battery   string `json:"battery"`
	Thumbnail string `json:"thumbnail"`

	Signals *Signals `json:"signals"`

	// Kind records which homescreen list the camera came from. It is
	// not part of the wire payload; AllCameras fills it.
	Kind string `json:"-"`
}

// Signals carries the device health block. Not every product line
// reports it; minis have no thermal sensor at all.
type Signals struct {
	WiFi    int  `json:"wifi"`
	LFR     int  `json:"lfr"`
	Battery int  `json:"battery"`
	Temp    *int `json:"temp"`
}

// Online reports whether the device is reachable. Classic cameras show
// "done" when healthy, minis and doorbells show "online".
func (c Camera) Online() bool {
	return c.Status == "done" || c.Status == "online"
}

// Temperature returns the camera temperature in Fahrenheit and whether
// the device reported one.
func (c Camera) Temperature() (int, bool) {
	if c.Signals == nil || c.Signals.Temp == nil {
		return 0, false
	}
	return *c.Signals.Temp, true
}

// AllCameras returns the union of the cameras, owls and doorbells lists
// with Kind filled in. The vendor populates the lists inconsistently
// across product generations, so callers should never read one list
// directly.
func (h *Homescreen) AllCameras() []Camera {
	out := make([]Camera, 0, len(h.Cameras)+len(h.Owls)+len(h.Doorbells))
	for _, c := range h.Cameras {
		c.Kind = KindCamera
		out = append(out, c)
	}
	for _, c := range h.Owls {
		c.Kind = KindOwl
		out = append(out, c)
	}
	for _, c := range h.Doorbells {
		c.Kind = KindDoorbell
		out = append(out, c)
	}
	return out
}

// Armed reports whether any network is armed.
func (h *Homescreen) Armed() bool {
	for _, n := range h.Networks {
		if n.Armed {
			return true
		}
	}
	return false
}

// Command is the vendor's async operation handle. Arm, disarm and
// thumbnail requests return one; its completion is polled separately.
type Command struct {
	ID        int    `json:"id"`
	NetworkID int    `json:"network_id"`
	Complete  bool   `json:"complete"`
	Status    int    `json:"status"`
	StatusMsg string `json:"status_msg"`
}

type loginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	UniqueID         string `json:"unique_id"`
	DeviceIdentifier string `json:"device_identifier"`
	ClientName       string `json:"client_name"`
	Reauth           bool   `json:"reauth"`
}

type loginResponse struct {
	Account struct {
		AccountID                  int    `json:"account_id"`
		ClientID                   int    `json:"client_id"`
		Tier                       string `json:"tier"`
		ClientVerificationRequired bool   `json:"client_verification_required"`
	} `json:"account"`
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

type pinVerifyRequest struct {
	PIN string `json:"pin"`
}

type pinVerifyResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}
