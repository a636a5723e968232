// Package cmd defines the usbhostctl command surface. Commands receive
// their logger and raw-transfer logger through kong bindings.
package cmd

// LogOptions are shared logging flags, loadable from config files.
type LogOptions struct {
	Level   string `help:"Log level (trace|debug|info|warn|error)" enum:"trace,debug,info,warn,error" default:"info" env:"USBHOST_LOG_LEVEL"`
	File    string `help:"Write logs to this file instead of stdout/stderr" env:"USBHOST_LOG_FILE"`
	RawFile string `help:"Write raw transfer hex dumps to this file" env:"USBHOST_RAW_LOG_FILE"`
}

// CLI is the root command.
type CLI struct {
	Log        LogOptions `embed:"" prefix:"log."`
	ConfigPath string     `name:"config" help:"Path to a configuration file" env:"USBHOST_CONFIG"`

	List   List          `cmd:"" help:"List the devices on the USB tree"`
	Watch  Watch         `cmd:"" help:"Watch for device arrivals and removals"`
	Config ConfigCommand `cmd:"" help:"Configuration file helpers"`
}
