package janitor

import "time"

// Now returns the current time. It is a package-level variable so that
// tests can pin the clock instead of sleeping or racing against wall time.
var Now = time.Now
