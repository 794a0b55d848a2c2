package envvar

const (
	// Prefix is the prefix of the environment variables used by mtenv.
	// Every one of them overrides the corresponding setting of mtenv.yaml.
	Prefix = "MTENV_"

	// Config is the path to the config file. Defaults to mtenv.yaml in the current directory.
	Config = Prefix + "CONFIG"

	// WorkingDir is the testbed directory.
	WorkingDir = Prefix + "WORKING_DIR"

	// Proxied enables serving every moodle below BaseURL through nginx.
	// Accepts anything strconv.ParseBool accepts.
	Proxied = Prefix + "PROXIED"

	BaseURL = Prefix + "BASE_URL"

	// LogLevel is one of debug, info, warn and error.
	LogLevel = Prefix + "LOG_LEVEL"
)
