package ranging

// Session parameters mirror the wire shape the device snippet expects:
// camelCase keys, enums as integer codes, byte sequences as integer arrays.

type ConfigType int

const (
	ConfigUnicastDSTWR                        ConfigType = 1
	ConfigMulticastDSTWR                      ConfigType = 2
	ConfigProvisionedUnicastDSTWR             ConfigType = 4
	ConfigProvisionedMulticastDSTWR           ConfigType = 5
	ConfigProvisionedIndividualMulticastDSTWR ConfigType = 7
)

type DeviceType int

const (
	DeviceControlee  DeviceType = 0
	DeviceController DeviceType = 1
)

type UpdateRate int

const (
	UpdateRateAutomatic  UpdateRate = 1
	UpdateRateInfrequent UpdateRate = 2
	UpdateRateFrequent   UpdateRate = 3
)

type SlotDuration int

const (
	SlotDurationMillis1 SlotDuration = 1
	SlotDurationMillis2 SlotDuration = 2
)

// Distance-based notification thresholds are not exercised by the harness;
// only enable/disable are meaningful here.
type RangeDataConfig int

const (
	RangeDataDisable RangeDataConfig = 0
	RangeDataEnable  RangeDataConfig = 1
)

// DefaultSessionKey returns the well-known 16-byte test session key.
func DefaultSessionKey() []byte {
	return []byte{1, 2, 3, 4, 5, 6, 7, 8, 8, 7, 6, 5, 4, 3, 2, 1}
}

// SessionParams configures one ranging session on one endpoint. Zero values
// for the behavioral knobs are filled in by WithDefaults; field combinations
// are not validated here, the device rejects what it cannot honor.
type SessionParams struct {
	ConfigType          ConfigType
	SessionID           int
	SubSessionID        int
	SessionKeyInfo      []byte
	SubSessionKeyInfo   []byte
	PeerAddresses       [][]byte
	DeviceAddress       []byte
	DeviceType          DeviceType
	UpdateRateType      UpdateRate
	RangeDataConfigType RangeDataConfig
	SlotDurationMillis  SlotDuration
	IsAoaDisabled       bool
}

// NewSessionParams builds parameters with every behavioral knob at its
// documented default: AUTOMATIC update rate, range-data notifications
// enabled, 2ms slots, AoA on, the well-known session key. Sweeps mutate the
// result through Update.
func NewSessionParams(configType ConfigType, sessionID int, deviceType DeviceType,
	deviceAddress []byte, peerAddresses [][]byte) SessionParams {
	return SessionParams{
		ConfigType:          configType,
		SessionID:           sessionID,
		DeviceType:          deviceType,
		DeviceAddress:       deviceAddress,
		PeerAddresses:       peerAddresses,
		SessionKeyInfo:      DefaultSessionKey(),
		UpdateRateType:      UpdateRateAutomatic,
		RangeDataConfigType: RangeDataEnable,
		SlotDurationMillis:  SlotDurationMillis2,
	}
}

// WithDefaults fills unset optional fields on literal-constructed params.
// RangeDataConfigType is left alone: its zero value is a valid explicit
// DISABLE, so the ENABLE default applies only through NewSessionParams.
func (p SessionParams) WithDefaults() SessionParams {
	if p.SessionKeyInfo == nil {
		p.SessionKeyInfo = DefaultSessionKey()
	}
	if p.UpdateRateType == 0 {
		p.UpdateRateType = UpdateRateAutomatic
	}
	if p.SlotDurationMillis == 0 {
		p.SlotDurationMillis = SlotDurationMillis2
	}
	return p
}

// WireMap serializes the parameters for the startUwbRanging call.
// subSessionKeyInfo is omitted unless present; every other field always
// serializes.
func (p SessionParams) WireMap() map[string]any {
	m := map[string]any{
		"configType":          int(p.ConfigType),
		"sessionId":           p.SessionID,
		"subSessionId":        p.SubSessionID,
		"sessionKeyInfo":      byteInts(p.SessionKeyInfo),
		"peerAddresses":       addrInts(p.PeerAddresses),
		"updateRateType":      int(p.UpdateRateType),
		"rangeDataConfigType": int(p.RangeDataConfigType),
		"slotDurationMillis":  int(p.SlotDurationMillis),
		"isAoaDisabled":       p.IsAoaDisabled,
		"deviceAddress":       byteInts(p.DeviceAddress),
		"deviceType":          int(p.DeviceType),
	}
	if p.SubSessionKeyInfo != nil {
		m["subSessionKeyInfo"] = byteInts(p.SubSessionKeyInfo)
	}
	return m
}

// Update overwrites fields by wire name for parameter sweeps. Unknown names
// are silently ignored, matching the established harness behavior sweep
// scripts rely on.
func (p *SessionParams) Update(fields map[string]any) {
	for key, value := range fields {
		switch key {
		case "configType":
			if n, ok := asInt(value); ok {
				p.ConfigType = ConfigType(n)
			}
		case "sessionId":
			if n, ok := asInt(value); ok {
				p.SessionID = n
			}
		case "subSessionId":
			if n, ok := asInt(value); ok {
				p.SubSessionID = n
			}
		case "sessionKeyInfo":
			if b, ok := asBytes(value); ok {
				p.SessionKeyInfo = b
			}
		case "subSessionKeyInfo":
			if b, ok := asBytes(value); ok {
				p.SubSessionKeyInfo = b
			}
		case "peerAddresses":
			if addrs, ok := asAddrList(value); ok {
				p.PeerAddresses = addrs
			}
		case "deviceAddress":
			if b, ok := asBytes(value); ok {
				p.DeviceAddress = b
			}
		case "deviceType":
			if n, ok := asInt(value); ok {
				p.DeviceType = DeviceType(n)
			}
		case "updateRateType":
			if n, ok := asInt(value); ok {
				p.UpdateRateType = UpdateRate(n)
			}
		case "rangeDataConfigType":
			if n, ok := asInt(value); ok {
				p.RangeDataConfigType = RangeDataConfig(n)
			}
		case "slotDurationMillis":
			if n, ok := asInt(value); ok {
				p.SlotDurationMillis = SlotDuration(n)
			}
		case "isAoaDisabled":
			if b, ok := value.(bool); ok {
				p.IsAoaDisabled = b
			}
		}
	}
}

func byteInts(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

func addrInts(addrs [][]byte) [][]int {
	out := make([][]int, len(addrs))
	for i, addr := range addrs {
		out[i] = byteInts(addr)
	}
	return out
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case ConfigType:
		return int(n), true
	case DeviceType:
		return int(n), true
	case UpdateRate:
		return int(n), true
	case RangeDataConfig:
		return int(n), true
	case SlotDuration:
		return int(n), true
	default:
		return 0, false
	}
}

func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case []int:
		out := make([]byte, len(b))
		for i, n := range b {
			out[i] = byte(n)
		}
		return out, true
	default:
		return nil, false
	}
}

func asAddrList(v any) ([][]byte, bool) {
	switch addrs := v.(type) {
	case [][]byte:
		return addrs, true
	case [][]int:
		out := make([][]byte, len(addrs))
		for i, addr := range addrs {
			out[i], _ = asBytes(addr)
		}
		return out, true
	default:
		return nil, false
	}
}
