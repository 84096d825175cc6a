// Package homekit exposes the controller as a HomeKit thermostat.
//
// Current temperature follows room_temp, the target follows shown_set_temp,
// and the heating state follows the burner bit of boiler_status. Setting the
// target from the Home app writes ch_mode_temp to the controller.
package homekit
