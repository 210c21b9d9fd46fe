package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.listen", ":5000")
	v.SetDefault("server.maxuploadsize", "512M")
	v.SetDefault("server.staticdir", "static")

	v.SetDefault("storage.projectsdir", "projects")
	v.SetDefault("storage.minfreespace", "1G")
	v.SetDefault("storage.maxreadsize", "64M")

	v.SetDefault("models.dir", "models")
	v.SetDefault("models.catalog", "models/models.yaml")

	v.SetDefault("inference.throttle", 100*time.Millisecond)
	v.SetDefault("inference.timeout", time.Duration(0))
	v.SetDefault("inference.confidence", 0.25)
	v.SetDefault("inference.iou", 0.45)
	v.SetDefault("inference.inputsize", 640)
	v.SetDefault("inference.runretention", time.Hour)
	v.SetDefault("inference.maxruns", 100)

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "autoannotate.db")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "autoannotate")
	v.SetDefault("mqtt.topic", "autoannotate")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.timeout", 10*time.Second)
	v.SetDefault("notification.failuresonly", false)

	v.SetDefault("sentry.enabled", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/autoannotate.log")
	v.SetDefault("logging.file_output.level", "info")
}
