package protocol

// Method names shared by both device families.
const (
	MethodGetSysInfo  = "get_sysinfo"
	MethodGetRealtime = "get_realtime"
	MethodSetAlias    = "set_dev_alias"
	MethodSetRelay    = "set_relay_state"
	MethodSetLEDOff   = "set_led_off"
	MethodReboot      = "reboot"

	MethodTransitionLightState = "transition_light_state"
)

// Namespaces maps each protocol feature to the module name a device family
// uses for it. Empty fields mean the family has no such module.
type Namespaces struct {
	System    string
	Emeter    string
	Schedule  string
	Time      string
	Cloud     string
	Netif     string
	Countdown string
	AntiTheft string
	Lighting  string
}

// PlugNamespaces is used by plugs, power strips and switches.
var PlugNamespaces = Namespaces{
	System:    "system",
	Emeter:    "emeter",
	Schedule:  "schedule",
	Time:      "time",
	Cloud:     "cnCloud",
	Netif:     "netif",
	Countdown: "count_down",
	AntiTheft: "anti_theft",
}

// BulbNamespaces is used by bulbs and light strips.
var BulbNamespaces = Namespaces{
	System:   "smartlife.iot.common.system",
	Emeter:   "smartlife.iot.common.emeter",
	Schedule: "smartlife.iot.common.schedule",
	Time:     "smartlife.iot.common.timesetting",
	Cloud:    "smartlife.iot.common.cloud",
	Netif:    "netif",
	Lighting: "smartlife.iot.smartbulb.lightingservice",
}
