package service

// variant describes the reload behaviour of a service kind. Reload is tried
// in order: image-defined reload command, SIGHUP to the container's first
// process, full stop+start.
type variant struct {
	// reloadCommand is the exec label suffix tried first ("" disables).
	reloadCommand string
	// signalReload allows the SIGHUP fallback. Services that cannot
	// re-read configuration in place (databases) go straight to restart.
	signalReload bool
}

var variants = map[Kind]variant{
	KindWebProxy:  {reloadCommand: "reload-cmd", signalReload: true},
	KindAppServer: {reloadCommand: "reload-cmd", signalReload: true},
	KindCron:      {signalReload: true},
	KindMailRelay: {reloadCommand: "reload-cmd", signalReload: true},
	// Databases have no safe in-place reload; recreate instead.
	KindDatabase: {},
}

// variantFor returns the reload behaviour for a kind. Unknown kinds fall
// back to the most conservative strategy (stop+start only).
func variantFor(k Kind) variant {
	if v, ok := variants[k]; ok {
		return v
	}
	return variant{}
}
