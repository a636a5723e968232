package host

// The access methods register themselves at init time.
import (
	_ "github.com/kettleby/usbhost/backend"
)
