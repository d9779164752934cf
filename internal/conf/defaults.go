// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// setDefaultConfig sets the engine's default tunables.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("log.enabled", true)
	viper.SetDefault("log.path", "logs/stretchengine.log")
	viper.SetDefault("log.rotation", "size")
	viper.SetDefault("log.maxsize", 10*1024*1024)

	viper.SetDefault("chunk.durationseconds", 8.0)
	viper.SetDefault("chunk.overlapseconds", 0.2)
	viper.SetDefault("chunk.crossfadeseconds", 0.1)

	viper.SetDefault("wsola.framesize", 1024)
	viper.SetDefault("wsola.synthesishop", 512)
	viper.SetDefault("wsola.tolerance", 2048)
	viper.SetDefault("wsola.identityepsilon", 1e-3)

	viper.SetDefault("scheduler.forwardweight", 1.0)
	viper.SetDefault("scheduler.backwardweight", 2.5)
	viper.SetDefault("scheduler.canceldistancethreshold", 6)
	viper.SetDefault("scheduler.maxchunkretries", 3)

	viper.SetDefault("worker.poolsize", 2)
	viper.SetDefault("worker.maxworkercrashes", 3)

	viper.SetDefault("buffer.healthyseconds", 30.0)
	viper.SetDefault("buffer.lowseconds", 10.0)
	viper.SetDefault("buffer.criticalseconds", 3.0)
	viper.SetDefault("buffer.resumeseconds", 5.0)
	viper.SetDefault("buffer.keepaheadchunks", 19)
	viper.SetDefault("buffer.keepbehindchunks", 8)

	viper.SetDefault("player.lookaheadintervalmillis", 200)
	viper.SetDefault("player.lookaheadthresholdseconds", 3.0)
	viper.SetDefault("player.proactiveschedulethresholdseconds", 5.0)
	viper.SetDefault("player.transitionmarginmillis", 50)

	viper.SetDefault("tempo.debouncemillis", 50)

	viper.SetDefault("estimator.windowsize", 10)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.listen", ":9091")
}
