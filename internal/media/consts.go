package media

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusName         = "org.mpris.MediaPlayer2.ambientd"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"

	identity = "ambientd"
)
