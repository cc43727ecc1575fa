package app

const (
	Name           = "groundlink"
	ConfigFilename = "config.json"
	DBFilename     = "groundlink.db"
	LogFilename    = "groundlink.log"
)
