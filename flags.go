package main

import "github.com/urfave/cli/v2"

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagDebug = &cli.BoolFlag{
	Name:    "debug",
	Usage:   "force debug log level",
	EnvVars: []string{"DEBUG"},
}

var FlagMQTTHost = &cli.StringFlag{
	Name:    "mqtt-host",
	EnvVars: []string{"MQTT_HOST"},
	Value:   "localhost",
}

var FlagMQTTPort = &cli.IntFlag{
	Name:    "mqtt-port",
	EnvVars: []string{"MQTT_PORT"},
	Value:   1883,
}

var FlagMQTTClientID = &cli.StringFlag{
	Name:    "mqtt-client-id",
	EnvVars: []string{"MQTT_CLIENT_ID"},
	Value:   "zway-mqtt",
}

var FlagMQTTClientIDRandomize = &cli.BoolFlag{
	Name:    "mqtt-client-id-randomize",
	Usage:   "append a random suffix to the client id",
	EnvVars: []string{"MQTT_CLIENT_ID_RANDOMIZE"},
}

var FlagMQTTUsername = &cli.StringFlag{
	Name:    "mqtt-username",
	Usage:   `"none" disables authentication`,
	EnvVars: []string{"MQTT_USERNAME"},
	Value:   credentialNone,
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:    "mqtt-password",
	Usage:   `"none" disables authentication`,
	EnvVars: []string{"MQTT_PASSWORD"},
	Value:   credentialNone,
}

var FlagTopicPrefix = &cli.StringFlag{
	Name:    "topic-prefix",
	EnvVars: []string{"TOPIC_PREFIX"},
	Value:   "/devices/z-way",
}

var FlagTopicPostfixSet = &cli.StringFlag{
	Name:    "topic-postfix-set",
	EnvVars: []string{"TOPIC_POSTFIX_SET"},
	Value:   "set",
}

var FlagTopicPostfixStatus = &cli.StringFlag{
	Name:    "topic-postfix-status",
	Usage:   "republish a device value on request, disabled when empty",
	EnvVars: []string{"TOPIC_POSTFIX_STATUS"},
}

var FlagPrecision = &cli.IntFlag{
	Name:    "precision",
	Usage:   "display precision of value sensors",
	EnvVars: []string{"PRECISION"},
	Value:   2,
}

var FlagSensorCommands = &cli.StringFlag{
	Name:    "sensor-commands",
	Usage:   "one of: [reject, route]",
	EnvVars: []string{"SENSOR_COMMANDS"},
	Value:   "reject",
}

var FlagDevicesFile = &cli.StringFlag{
	Name:    "devices-file",
	EnvVars: []string{"DEVICES_FILE"},
	Value:   "devices.yaml",
}

var FlagMetricsAddr = &cli.StringFlag{
	Name:    "metrics-addr",
	Usage:   "prometheus listen address, disabled when empty",
	EnvVars: []string{"METRICS_ADDR"},
}
