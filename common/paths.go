package common

import (
	"log"
	"os"
	"path"
)

// LogPathFolder and ConfigPathFolder are resolved once at startup by
// InitializeFolders and read by the rest of the process afterwards.
var LogPathFolder string
var ConfigPathFolder string

// InitializeFolders resolves and creates the directories the daemon writes
// to: the rotating log folder and the folder holding the persisted session
// credential blob. Both can be overridden by environment variable; otherwise
// the log folder defaults to the "logs" subdirectory of the per-user app path
// and the config folder to the app path itself.
func InitializeFolders() {
	LogPathFolder = GetEnvironmentVariable(EEnvironmentVariable.LogLocation())
	ConfigPathFolder = GetEnvironmentVariable(EEnvironmentVariable.ConfigLocation())

	appPath := getAppPath()

	if LogPathFolder == "" {
		LogPathFolder = path.Join(appPath, "logs")
	}
	if err := os.MkdirAll(LogPathFolder, DefaultDirPerm); err != nil && !os.IsExist(err) {
		log.Fatalf("problem making log directory, try setting STREAMCORE_LOG_LOCATION: %v", err)
	}

	if ConfigPathFolder == "" {
		ConfigPathFolder = appPath
	}
	if err := os.MkdirAll(ConfigPathFolder, DefaultDirPerm); err != nil && !os.IsExist(err) {
		log.Fatalf("problem making config directory, try setting STREAMCORE_CONFIG_LOCATION: %v", err)
	}
}

// getAppPath returns the default per-user directory this process uses for
// everything it writes on its own (logs, the session credential blob).
func getAppPath() string {
	home := GetEnvironmentVariable(EEnvironmentVariable.UserDir())
	if home == "" {
		home = "."
	}
	return path.Join(home, ".streamcore")
}

// CredentialFilePath is where the persisted {session, ts} blob lives.
func CredentialFilePath() string {
	return path.Join(ConfigPathFolder, "session.json")
}
