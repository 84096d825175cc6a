package atagone

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request envelope constants.
const (
	// retrieveSeqNr is the sequence number sent with every retrieve request.
	retrieveSeqNr = 1

	// updateSeqNr is the sequence number sent with every update request.
	updateSeqNr = 0

	// InfoReport selects the report section in a retrieve request.
	InfoReport = 8
)

// Report field names used by the typed accessors.
const (
	FieldReportTime   = "report_time"
	FieldBurningHours = "burning_hours"
	FieldDeviceErrors = "device_errors"
	FieldBoilerErrors = "boiler_errors"
	FieldRoomTemp     = "room_temp"
	FieldOutsideTemp  = "outside_temp"
	FieldCHSetpoint   = "ch_setpoint"
	FieldDHWWaterTemp = "dhw_water_temp"
	FieldCHWaterTemp  = "ch_water_temp"
	FieldDHWWaterPres = "dhw_water_pres"
	FieldCHWaterPres  = "ch_water_pres"
	FieldCHReturnTemp = "ch_return_temp"
	FieldBoilerStatus = "boiler_status"
	FieldShownSetTemp = "shown_set_temp"
	FieldPowerCons    = "power_cons"
	FieldRSSI         = "rssi"
)

// ControlTargetTemperature is the control field holding the heating setpoint.
const ControlTargetTemperature = "ch_mode_temp"

// boilerStatusHeating is the boiler_status bit set while the burner is on.
const boilerStatusHeating = 8

// AccountAuth is sent empty; the local interface does not authenticate.
type AccountAuth struct {
	UserAccount string `json:"user_account"`
	MacAddress  string `json:"mac_address"`
}

// RetrieveMessage is the body of a retrieve request.
type RetrieveMessage struct {
	SeqNr       int         `json:"seqnr"`
	AccountAuth AccountAuth `json:"account_auth"`
	Info        int         `json:"info"`
}

type retrieveRequest struct {
	RetrieveMessage RetrieveMessage `json:"retrieve_message"`
}

// UpdateMessage is the body of an update request.
type UpdateMessage struct {
	SeqNr       int         `json:"seqnr"`
	AccountAuth AccountAuth `json:"account_auth"`
	Control     Control     `json:"control"`
}

type updateRequest struct {
	UpdateMessage UpdateMessage `json:"update_message"`
}

// Control is a set of control fields to change on the device.
type Control map[string]any

// TargetTemperatureControl returns the control that sets the heating setpoint.
func TargetTemperatureControl(celsius float64) Control {
	return Control{ControlTargetTemperature: celsius}
}

// retrieveResponse is the outer object of a retrieve reply.
type retrieveResponse struct {
	RetrieveReply *RetrieveReply `json:"retrieve_reply"`
}

// RetrieveReply is the full retrieve_reply object returned by the device.
type RetrieveReply struct {
	SeqNr     int           `json:"seqnr"`
	Status    *DeviceStatus `json:"status,omitempty"`
	Report    *Report       `json:"report"`
	AccStatus *int          `json:"acc_status,omitempty"`
}

// DeviceID returns status.device_id, or false when the device did not send one.
func (r *RetrieveReply) DeviceID() (string, bool) {
	if r == nil || r.Status == nil || r.Status.DeviceID == "" {
		return "", false
	}
	return r.Status.DeviceID, true
}

// DeviceStatus is the status section of a retrieve reply.
type DeviceStatus struct {
	DeviceID         string `json:"device_id,omitempty"`
	DeviceStatus     int    `json:"device_status,omitempty"`
	ConnectionStatus int    `json:"connection_status,omitempty"`
	DateTime         int64  `json:"date_time,omitempty"`
}

// Report is one telemetry snapshot. Every field sent by the device is kept
// and re-encoded unchanged; the accessors below read the well-known ones.
type Report struct {
	fields map[string]json.RawMessage
}

// NewReport builds a report from decoded field values. Used by tests and
// tools that synthesise reports.
func NewReport(fields map[string]any) (*Report, error) {
	raw := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding report field %s: %w", k, err)
		}
		raw[k] = b
	}
	return &Report{fields: raw}, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only JSON objects are accepted.
func (r *Report) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("report is not an object")
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	r.fields = fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *Report) MarshalJSON() ([]byte, error) {
	if r == nil || r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

func (r *Report) field(key string) (json.RawMessage, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.fields[key]
	return v, ok
}

// Has reports whether the device sent field key.
func (r *Report) Has(key string) bool {
	_, ok := r.field(key)
	return ok
}

// Keys returns the names of all fields in the report.
func (r *Report) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	return keys
}

// Raw returns the undecoded value of field key.
func (r *Report) Raw(key string) (json.RawMessage, bool) {
	return r.field(key)
}

// Float returns a numeric field. It reports false when the field is absent
// or not a number.
func (r *Report) Float(key string) (float64, bool) {
	raw, ok := r.field(key)
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// Int returns an integral field, truncating any fraction.
func (r *Report) Int(key string) (int64, bool) {
	v, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// Text returns a string field.
func (r *Report) Text(key string) (string, bool) {
	raw, ok := r.field(key)
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// Numeric returns every numeric field of the report.
func (r *Report) Numeric() map[string]float64 {
	if r == nil {
		return nil
	}
	out := make(map[string]float64, len(r.fields))
	for k := range r.fields {
		if v, ok := r.Float(k); ok {
			out[k] = v
		}
	}
	return out
}

// RoomTemp is the measured room temperature in °C.
func (r *Report) RoomTemp() (float64, bool) { return r.Float(FieldRoomTemp) }

// OutsideTemp is the outside temperature in °C.
func (r *Report) OutsideTemp() (float64, bool) { return r.Float(FieldOutsideTemp) }

// ShownSetTemp is the setpoint shown on the thermostat in °C.
func (r *Report) ShownSetTemp() (float64, bool) { return r.Float(FieldShownSetTemp) }

func (r *Report) CHSetpoint() (float64, bool)   { return r.Float(FieldCHSetpoint) }
func (r *Report) CHWaterTemp() (float64, bool)  { return r.Float(FieldCHWaterTemp) }
func (r *Report) CHWaterPres() (float64, bool)  { return r.Float(FieldCHWaterPres) }
func (r *Report) CHReturnTemp() (float64, bool) { return r.Float(FieldCHReturnTemp) }
func (r *Report) DHWWaterTemp() (float64, bool) { return r.Float(FieldDHWWaterTemp) }
func (r *Report) DHWWaterPres() (float64, bool) { return r.Float(FieldDHWWaterPres) }
func (r *Report) BurningHours() (float64, bool) { return r.Float(FieldBurningHours) }
func (r *Report) RSSI() (int64, bool)           { return r.Int(FieldRSSI) }
func (r *Report) BoilerStatus() (int64, bool)   { return r.Int(FieldBoilerStatus) }

// ReportTime is the device clock value at which the report was taken.
func (r *Report) ReportTime() (int64, bool) { return r.Int(FieldReportTime) }

// Heating reports whether the burner is on (boiler_status bit 3).
func (r *Report) Heating() bool {
	status, ok := r.BoilerStatus()
	if !ok {
		return false
	}
	return status&boilerStatusHeating == boilerStatusHeating
}
